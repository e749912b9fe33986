package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jdc-telecom/smsgw/internal/model"
)

// Transport sends one SMS. Any returned error marks the recipient failed;
// the job keeps going.
type Transport interface {
	Send(ctx context.Context, phone, message string) (remoteID string, err error)
}

const defaultSendTimeout = 30 * time.Second

// Engine owns bulk job lifecycles: creation, the sequential dispatch loop,
// and pause/resume/stop control. One dispatch loop runs per job; different
// jobs dispatch independently.
type Engine struct {
	reg       *Registry
	transport Transport
	pub       Publisher
	log       *slog.Logger

	sendTimeout time.Duration
}

func NewEngine(reg *Registry, transport Transport, pub Publisher, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		reg:         reg,
		transport:   transport,
		pub:         pub,
		log:         log,
		sendTimeout: defaultSendTimeout,
	}
}

// Create filters the submitted list down to valid entries and registers a
// pending job for them. Nothing is sent until Start.
func (e *Engine) Create(recipients []model.Recipient, opts Options) (string, error) {
	valid := make([]model.Recipient, 0, len(recipients))
	for _, r := range recipients {
		if r.Valid {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return "", ErrNoValidRecipients
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}

	j := &job{
		id:         uuid.NewString(),
		recipients: valid,
		opts:       opts,
		state:      StatePending,
	}
	e.reg.add(j)

	e.log.Info("bulk job created",
		slog.String("job", j.id),
		slog.Int("total", len(valid)),
		slog.Duration("delay", opts.Delay),
	)
	return j.id, nil
}

// Start transitions the job to running and drives the dispatch loop to
// completion or interruption. It blocks for the whole run; callers that want
// background processing launch it in a goroutine.
func (e *Engine) Start(ctx context.Context, jobID string) error {
	j, ok := e.reg.get(jobID)
	if !ok {
		return ErrNotFound
	}

	j.mu.Lock()
	if j.state == StateRunning {
		j.mu.Unlock()
		return ErrAlreadyRunning
	}
	j.state = StateRunning
	j.startTime = e.reg.now()
	snap := j.snapshotLocked(j.startTime)
	j.mu.Unlock()

	e.publish(j.id, Event{
		Type:    EventStarted,
		Message: fmt.Sprintf("sending %d messages", snap.Total),
		Job:     &snap,
	})
	e.log.Info("bulk job started", slog.String("job", j.id), slog.Int("total", snap.Total))

	e.dispatch(ctx, j)
	return nil
}

// Pause suspends a running job before its next recipient. The in-flight send
// is never interrupted.
func (e *Engine) Pause(jobID string) (Snapshot, error) {
	j, ok := e.reg.get(jobID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StateRunning {
		return Snapshot{}, fmt.Errorf("%w: cannot pause job in state %s", ErrInvalidTransition, j.state)
	}
	j.state = StatePaused
	j.resume = make(chan struct{})
	return j.snapshotLocked(e.reg.now()), nil
}

// Resume wakes a paused job; processing continues with the next unprocessed
// recipient.
func (e *Engine) Resume(jobID string) (Snapshot, error) {
	j, ok := e.reg.get(jobID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state != StatePaused {
		return Snapshot{}, fmt.Errorf("%w: cannot resume job in state %s", ErrInvalidTransition, j.state)
	}
	j.state = StateRunning
	close(j.resume)
	j.resume = nil
	return j.snapshotLocked(e.reg.now()), nil
}

// Stop ends a job early. Cooperative: the dispatch loop exits at its next
// iteration boundary, so a stop issued during the inter-send delay takes
// effect only once the delay elapses. Processed results are preserved.
func (e *Engine) Stop(jobID string) (Snapshot, error) {
	j, ok := e.reg.get(jobID)
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	now := e.reg.now()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state.terminal() {
		return Snapshot{}, fmt.Errorf("%w: job already %s", ErrInvalidTransition, j.state)
	}
	j.state = StateStopped
	j.endTime = now
	j.purgeAt = now.Add(e.reg.retention)
	if j.resume != nil {
		close(j.resume)
		j.resume = nil
	}
	return j.snapshotLocked(now), nil
}

// Status returns a computed progress snapshot, or false for unknown and
// purged ids.
func (e *Engine) Status(jobID string) (Snapshot, bool) {
	j, ok := e.reg.get(jobID)
	if !ok {
		return Snapshot{}, false
	}
	return j.snapshot(e.reg.now()), true
}

// Results returns the ordered per-recipient outcomes plus the derived error
// view.
func (e *Engine) Results(jobID string) (Results, bool) {
	j, ok := e.reg.get(jobID)
	if !ok {
		return Results{}, false
	}
	return j.resultsView(e.reg.now()), true
}

// Jobs lists snapshots of every retained job.
func (e *Engine) Jobs() []Snapshot {
	now := e.reg.now()
	js := e.reg.all()
	out := make([]Snapshot, 0, len(js))
	for _, j := range js {
		out = append(out, j.snapshot(now))
	}
	return out
}

// Sweep drops expired terminal jobs from the registry.
func (e *Engine) Sweep() int {
	n := e.reg.Sweep()
	if n > 0 {
		e.log.Info("bulk registry swept", slog.Int("purged", n))
	}
	return n
}

func (e *Engine) dispatch(ctx context.Context, j *job) {
	total := len(j.recipients)

	for i, rcpt := range j.recipients {
		if !e.waitWhilePaused(j) {
			break
		}

		e.publish(j.id, Event{
			Type:      EventProcessing,
			Message:   fmt.Sprintf("sending to %s...", rcpt.Phone),
			Recipient: &rcpt,
			Current:   i + 1,
			Total:     total,
		})

		remoteID, err := e.send(ctx, rcpt)
		now := e.reg.now()
		if err == nil {
			j.recordSuccess(rcpt, remoteID, now)
			snap := j.snapshot(now)
			e.publish(j.id, Event{
				Type:      EventSuccess,
				Message:   fmt.Sprintf("sent to %s", rcpt.Phone),
				Recipient: &rcpt,
				Job:       &snap,
			})
		} else {
			j.recordFailure(rcpt, err.Error(), now)
			snap := j.snapshot(now)
			e.publish(j.id, Event{
				Type:      EventError,
				Message:   fmt.Sprintf("send to %s failed: %s", rcpt.Phone, err),
				Recipient: &rcpt,
				Error:     err.Error(),
				Job:       &snap,
			})
			e.log.Warn("bulk send failed",
				slog.String("job", j.id),
				slog.String("phone", rcpt.Phone),
				slog.Any("err", err),
			)
		}

		if i < total-1 && j.opts.Delay > 0 {
			e.sleep(ctx, j.opts.Delay)
		}
	}

	e.finalize(j)
}

// waitWhilePaused blocks the dispatch loop while its job is paused. It
// returns false when the loop must exit because the job was stopped.
func (e *Engine) waitWhilePaused(j *job) bool {
	j.mu.Lock()
	switch j.state {
	case StateStopped:
		j.mu.Unlock()
		return false
	case StatePaused:
		resume := j.resume
		snap := j.snapshotLocked(e.reg.now())
		j.mu.Unlock()

		e.publish(j.id, Event{Type: EventPaused, Message: "sending paused", Job: &snap})
		<-resume

		j.mu.Lock()
		if j.state == StateStopped {
			j.mu.Unlock()
			return false
		}
		snap = j.snapshotLocked(e.reg.now())
		j.mu.Unlock()

		e.publish(j.id, Event{Type: EventResumed, Message: "sending resumed", Job: &snap})
		return true
	default:
		j.mu.Unlock()
		return true
	}
}

func (e *Engine) send(ctx context.Context, r model.Recipient) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.transport.Send(ctx, r.Phone, r.Message)
}

func (e *Engine) finalize(j *job) {
	now := e.reg.now()

	j.mu.Lock()
	stopped := j.state == StateStopped
	if !stopped {
		j.state = StateCompleted
	}
	if j.endTime.IsZero() {
		j.endTime = now
	}
	if j.purgeAt.IsZero() {
		j.purgeAt = j.endTime.Add(e.reg.retention)
	}
	snap := j.snapshotLocked(now)
	j.mu.Unlock()

	if stopped {
		e.publish(j.id, Event{
			Type:     EventStopped,
			Message:  fmt.Sprintf("sending stopped: %d sent, %d failed, %d skipped", snap.Success, snap.Failed, snap.Total-snap.Processed),
			Job:      &snap,
			Duration: snap.Duration,
		})
	} else {
		e.publish(j.id, Event{
			Type:     EventCompleted,
			Message:  fmt.Sprintf("sending done: %d sent, %d failed", snap.Success, snap.Failed),
			Job:      &snap,
			Duration: snap.Duration,
		})
	}

	e.log.Info("bulk job finished",
		slog.String("job", j.id),
		slog.String("status", string(snap.Status)),
		slog.Int("success", snap.Success),
		slog.Int("failed", snap.Failed),
		slog.Int("duration_s", snap.Duration),
	)
}

func (e *Engine) publish(jobID string, ev Event) {
	if e.pub == nil {
		return
	}
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.reg.now()
	}
	e.pub.Publish(jobID, ev)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
