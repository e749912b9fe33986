package bulk

import (
	"math"
	"sync"
	"time"

	"github.com/jdc-telecom/smsgw/internal/model"
)

// State is the lifecycle phase of a bulk job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
)

func (s State) terminal() bool {
	return s == StateStopped || s == StateCompleted
}

// Options controls a single bulk send.
//
// RetryOnError and MaxRetries are accepted from submitters for forward
// compatibility but the dispatch loop does not retry failed recipients.
type Options struct {
	Delay        time.Duration
	RetryOnError bool
	MaxRetries   int
}

// Result records the outcome for one processed recipient, in processing order.
type Result struct {
	Recipient model.Recipient `json:"recipient"`
	Status    string          `json:"status"`
	RemoteID  string          `json:"remoteId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorEntry is the failed-recipient view derived from results.
type ErrorEntry struct {
	Recipient model.Recipient `json:"recipient"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// Snapshot is a point-in-time view of a job's progress.
type Snapshot struct {
	ID        string     `json:"id"`
	Status    State      `json:"status"`
	Total     int        `json:"total"`
	Processed int        `json:"processed"`
	Success   int        `json:"success"`
	Failed    int        `json:"failed"`
	Progress  int        `json:"progress"`
	Duration  int        `json:"duration"`
	Remaining int        `json:"remaining"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
}

// Results bundles the full outcome of a job for retrieval.
type Results struct {
	ID      string       `json:"id"`
	Status  Snapshot     `json:"status"`
	Results []Result     `json:"results"`
	Errors  []ErrorEntry `json:"errors"`
}

// job is the registry-owned record for one bulk send. Counters and results
// are mutated only by the job's dispatch loop; control operations touch the
// state field and the resume channel. Everything is guarded by mu.
type job struct {
	id         string
	recipients []model.Recipient
	opts       Options

	mu        sync.Mutex
	state     State
	processed int
	success   int
	failed    int
	startTime time.Time
	endTime   time.Time
	results   []Result

	// resume is non-nil while the job is paused and is closed to wake the
	// suspended dispatch loop (by Resume, or by Stop).
	resume chan struct{}

	// purgeAt is set when the job reaches a terminal state; the registry
	// sweep drops the record once it passes.
	purgeAt time.Time
}

func (j *job) recordSuccess(r model.Recipient, remoteID string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processed++
	j.success++
	j.results = append(j.results, Result{
		Recipient: r,
		Status:    "success",
		RemoteID:  remoteID,
		Timestamp: now,
	})
}

func (j *job) recordFailure(r model.Recipient, reason string, now time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.processed++
	j.failed++
	j.results = append(j.results, Result{
		Recipient: r,
		Status:    "failed",
		Error:     reason,
		Timestamp: now,
	})
}

// snapshotLocked computes the progress view. Callers hold j.mu.
func (j *job) snapshotLocked(now time.Time) Snapshot {
	s := Snapshot{
		ID:        j.id,
		Status:    j.state,
		Total:     len(j.recipients),
		Processed: j.processed,
		Success:   j.success,
		Failed:    j.failed,
	}

	if !j.startTime.IsZero() {
		t := j.startTime
		s.StartTime = &t
		end := now
		if !j.endTime.IsZero() {
			end = j.endTime
		}
		s.Duration = int(end.Sub(j.startTime).Seconds())
	}
	if !j.endTime.IsZero() {
		t := j.endTime
		s.EndTime = &t
	}

	if s.Total > 0 {
		s.Progress = int(math.Round(float64(s.Processed) / float64(s.Total) * 100))
	}
	if s.Processed > 0 {
		avg := float64(s.Duration) / float64(s.Processed)
		s.Remaining = int(avg * float64(s.Total-s.Processed))
	}
	return s
}

func (j *job) snapshot(now time.Time) Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(now)
}

// resultsView copies the results and derives the error entries from them.
// Errors are never maintained as a second list.
func (j *job) resultsView(now time.Time) Results {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := Results{
		ID:      j.id,
		Status:  j.snapshotLocked(now),
		Results: append([]Result(nil), j.results...),
		Errors:  []ErrorEntry{},
	}
	for _, r := range j.results {
		if r.Status == "failed" {
			out.Errors = append(out.Errors, ErrorEntry{
				Recipient: r.Recipient,
				Error:     r.Error,
				Timestamp: r.Timestamp,
			})
		}
	}
	return out
}
