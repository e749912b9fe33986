package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jdc-telecom/smsgw/internal/model"
)

type fakeTransport struct {
	mu         sync.Mutex
	calls      []string
	failPhones map[string]string
	onSend     func(call int, phone string)
	blockCtx   bool
}

func (f *fakeTransport) Send(ctx context.Context, phone, message string) (string, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, phone)
	reason, fail := f.failPhones[phone]
	onSend := f.onSend
	blockCtx := f.blockCtx
	f.mu.Unlock()

	if onSend != nil {
		onSend(call, phone)
	}
	if blockCtx {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail {
		return "", errors.New(reason)
	}
	return "SM-" + phone, nil
}

func (f *fakeTransport) phones() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type captureBus struct {
	mu     sync.Mutex
	events []Event
}

func (b *captureBus) Publish(jobID string, ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *captureBus) types() []EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]EventType, 0, len(b.events))
	for _, ev := range b.events {
		out = append(out, ev.Type)
	}
	return out
}

func testRecipients(n int) []model.Recipient {
	out := make([]model.Recipient, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, model.Recipient{
			Phone:   fmt.Sprintf("+3360000000%d", i+1),
			Message: "hello",
			Valid:   true,
		})
	}
	return out
}

func newTestEngine(t *testing.T, transport Transport) (*Engine, *captureBus) {
	t.Helper()
	bus := &captureBus{}
	reg := NewRegistry(time.Hour, nil)
	return NewEngine(reg, transport, bus, nil), bus
}

func waitForState(t *testing.T, e *Engine, jobID string, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := e.Status(jobID); ok && snap.Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	snap, _ := e.Status(jobID)
	t.Fatalf("job never reached state %s, currently %s", want, snap.Status)
}

func assertInvariants(t *testing.T, e *Engine, jobID string) {
	t.Helper()
	snap, ok := e.Status(jobID)
	if !ok {
		t.Fatalf("job %s unknown", jobID)
	}
	if snap.Processed != snap.Success+snap.Failed {
		t.Fatalf("processed=%d != success+failed=%d", snap.Processed, snap.Success+snap.Failed)
	}
	if snap.Processed > snap.Total {
		t.Fatalf("processed=%d > total=%d", snap.Processed, snap.Total)
	}

	res, ok := e.Results(jobID)
	if !ok {
		t.Fatalf("results for %s unknown", jobID)
	}
	if len(res.Results) != snap.Processed {
		t.Fatalf("len(results)=%d != processed=%d", len(res.Results), snap.Processed)
	}
	if len(res.Errors) != snap.Failed {
		t.Fatalf("len(errors)=%d != failed=%d", len(res.Errors), snap.Failed)
	}
	for _, entry := range res.Errors {
		found := false
		for _, r := range res.Results {
			if r.Status == "failed" && r.Recipient.Phone == entry.Recipient.Phone {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("error entry for %s has no failed result", entry.Recipient.Phone)
		}
	}
}

func TestCreate_FiltersInvalidRecipients(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	recipients := []model.Recipient{
		{Phone: "+33600000001", Message: "a", Valid: true},
		{Phone: "bogus", Message: "b", Valid: false},
		{Phone: "+33600000002", Message: "c", Valid: true},
	}

	jobID, err := e.Create(recipients, Options{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	snap, ok := e.Status(jobID)
	if !ok {
		t.Fatalf("expected job to exist")
	}
	if snap.Status != StatePending {
		t.Fatalf("expected pending, got %s", snap.Status)
	}
	if snap.Total != 2 {
		t.Fatalf("expected total=2 after filtering, got %d", snap.Total)
	}
}

func TestCreate_NoValidRecipients(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	_, err := e.Create([]model.Recipient{{Phone: "x", Valid: false}}, Options{})
	if !errors.Is(err, ErrNoValidRecipients) {
		t.Fatalf("expected ErrNoValidRecipients, got %v", err)
	}

	_, err = e.Create(nil, Options{})
	if !errors.Is(err, ErrNoValidRecipients) {
		t.Fatalf("expected ErrNoValidRecipients for empty list, got %v", err)
	}
}

func TestStart_UnknownJob(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})
	if err := e.Start(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	started := make(chan struct{})
	release := make(chan struct{})
	tr.onSend = func(call int, phone string) {
		if call == 0 {
			close(started)
			<-release
		}
	}

	e, _ := newTestEngine(t, tr)
	jobID, err := e.Create(testRecipients(2), Options{})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background(), jobID) }()
	<-started

	if err := e.Start(context.Background(), jobID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Start() error: %v", err)
	}
}

// Three valid recipients with no delay run pending→running→completed with
// consistent counters.
func TestDispatch_AllSucceed(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e, bus := newTestEngine(t, tr)

	jobID, err := e.Create(testRecipients(3), Options{Delay: 0})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ := e.Status(jobID)
	if snap.Status != StateCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Total != 3 || snap.Processed != 3 || snap.Success != 3 || snap.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
	if snap.Progress != 100 {
		t.Fatalf("expected progress=100, got %d", snap.Progress)
	}
	assertInvariants(t, e, jobID)

	want := []EventType{
		EventStarted,
		EventProcessing, EventSuccess,
		EventProcessing, EventSuccess,
		EventProcessing, EventSuccess,
		EventCompleted,
	}
	got := bus.types()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (full: %v)", i, want[i], got[i], got)
		}
	}
}

// One recipient's failure never blocks the rest of the batch.
func TestDispatch_FailureIsolation(t *testing.T) {
	t.Parallel()

	recipients := testRecipients(3)
	tr := &fakeTransport{
		failPhones: map[string]string{recipients[1].Phone: "provider rejected"},
	}
	e, _ := newTestEngine(t, tr)

	jobID, err := e.Create(recipients, Options{Delay: 0})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ := e.Status(jobID)
	if snap.Status != StateCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Success != 2 || snap.Failed != 1 {
		t.Fatalf("expected success=2 failed=1, got %+v", snap)
	}

	res, _ := e.Results(jobID)
	if res.Results[1].Status != "failed" {
		t.Fatalf("expected results[1] failed, got %+v", res.Results[1])
	}
	if res.Results[1].Error != "provider rejected" {
		t.Fatalf("unexpected error text: %q", res.Results[1].Error)
	}
	if len(res.Errors) != 1 || res.Errors[0].Recipient.Phone != recipients[1].Phone {
		t.Fatalf("unexpected errors view: %+v", res.Errors)
	}
	assertInvariants(t, e, jobID)
}

// Results keep the original recipient order restricted to processed entries.
func TestDispatch_PreservesOrder(t *testing.T) {
	t.Parallel()

	recipients := testRecipients(5)
	tr := &fakeTransport{
		failPhones: map[string]string{
			recipients[0].Phone: "nope",
			recipients[3].Phone: "nope",
		},
	}
	e, _ := newTestEngine(t, tr)

	jobID, _ := e.Create(recipients, Options{Delay: 0})
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	res, _ := e.Results(jobID)
	for i, r := range res.Results {
		if r.Recipient.Phone != recipients[i].Phone {
			t.Fatalf("result %d out of order: expected %s got %s", i, recipients[i].Phone, r.Recipient.Phone)
		}
	}
	assertInvariants(t, e, jobID)
}

// Pause after the first recipient, then resume: the rest still processes
// exactly once.
func TestPauseResume(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e, bus := newTestEngine(t, tr)

	jobID, err := e.Create(testRecipients(3), Options{Delay: 0})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	tr.onSend = func(call int, phone string) {
		if call == 0 {
			if _, err := e.Pause(jobID); err != nil {
				t.Errorf("Pause() error: %v", err)
			}
		}
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background(), jobID) }()

	waitForState(t, e, jobID, StatePaused)

	// Counters already include the in-flight recipient: pause never
	// interrupts a send.
	snap, _ := e.Status(jobID)
	if snap.Processed != 1 {
		t.Fatalf("expected processed=1 while paused, got %d", snap.Processed)
	}

	if _, err := e.Resume(jobID); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ = e.Status(jobID)
	if snap.Status != StateCompleted || snap.Processed != 3 {
		t.Fatalf("expected completed with processed=3, got %+v", snap)
	}
	if phones := tr.phones(); len(phones) != 3 {
		t.Fatalf("expected 3 sends (no duplicates), got %v", phones)
	}
	assertInvariants(t, e, jobID)

	types := bus.types()
	sawPaused, sawResumed := false, false
	for _, ty := range types {
		if ty == EventPaused {
			sawPaused = true
		}
		if ty == EventResumed {
			if !sawPaused {
				t.Fatalf("resumed before paused: %v", types)
			}
			sawResumed = true
		}
	}
	if !sawPaused || !sawResumed {
		t.Fatalf("expected paused and resumed events, got %v", types)
	}
}

// Stop after the first recipient: the others are never attempted and the
// processed results survive.
func TestStop_SkipsRemaining(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e, bus := newTestEngine(t, tr)

	jobID, err := e.Create(testRecipients(3), Options{Delay: 0})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	tr.onSend = func(call int, phone string) {
		if call == 0 {
			if _, err := e.Stop(jobID); err != nil {
				t.Errorf("Stop() error: %v", err)
			}
		}
	}

	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ := e.Status(jobID)
	if snap.Status != StateStopped {
		t.Fatalf("expected stopped, got %s", snap.Status)
	}
	if snap.Processed != 1 {
		t.Fatalf("expected processed=1, got %d", snap.Processed)
	}
	if snap.EndTime == nil {
		t.Fatalf("expected endTime to be set")
	}

	res, _ := e.Results(jobID)
	if len(res.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res.Results))
	}
	if phones := tr.phones(); len(phones) != 1 {
		t.Fatalf("expected recipients 2 and 3 never attempted, got %v", phones)
	}
	assertInvariants(t, e, jobID)

	types := bus.types()
	if types[len(types)-1] != EventStopped {
		t.Fatalf("expected terminal stopped event, got %v", types)
	}
}

func TestStop_WhilePausedWakesLoop(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	e, _ := newTestEngine(t, tr)

	jobID, _ := e.Create(testRecipients(3), Options{Delay: 0})

	tr.onSend = func(call int, phone string) {
		if call == 0 {
			_, _ = e.Pause(jobID)
		}
	}

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background(), jobID) }()

	waitForState(t, e, jobID, StatePaused)

	if _, err := e.Stop(jobID); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ := e.Status(jobID)
	if snap.Status != StateStopped || snap.Processed != 1 {
		t.Fatalf("expected stopped with processed=1, got %+v", snap)
	}
	assertInvariants(t, e, jobID)
}

func TestTransitions_Rejected(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	jobID, _ := e.Create(testRecipients(1), Options{Delay: 0})

	// pending: pause and resume are both invalid
	if _, err := e.Pause(jobID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition pausing pending job, got %v", err)
	}
	if _, err := e.Resume(jobID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition resuming pending job, got %v", err)
	}

	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// completed: everything is invalid and state is unchanged
	for name, op := range map[string]func(string) (Snapshot, error){
		"pause":  e.Pause,
		"resume": e.Resume,
		"stop":   e.Stop,
	} {
		if _, err := op(jobID); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition for %s on completed job, got %v", name, err)
		}
		if snap, _ := e.Status(jobID); snap.Status != StateCompleted {
			t.Fatalf("%s changed state of completed job to %s", name, snap.Status)
		}
	}

	// unknown ids
	if _, err := e.Pause("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.Resume("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := e.Stop("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatus_UnknownJob(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	if _, ok := e.Status("nope"); ok {
		t.Fatalf("expected ok=false for unknown job")
	}
	if _, ok := e.Results("nope"); ok {
		t.Fatalf("expected ok=false for unknown job")
	}
}

func TestReads_AreIdempotent(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	jobID, _ := e.Create(testRecipients(2), Options{Delay: 0})
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	s1, _ := e.Status(jobID)
	s2, _ := e.Status(jobID)
	if s1.Processed != s2.Processed || s1.Success != s2.Success || s1.Status != s2.Status {
		t.Fatalf("status changed between reads: %+v vs %+v", s1, s2)
	}

	r1, _ := e.Results(jobID)
	r2, _ := e.Results(jobID)
	if len(r1.Results) != len(r2.Results) || len(r1.Errors) != len(r2.Errors) {
		t.Fatalf("results changed between reads")
	}
}

// A send that hits the transport timeout counts as a failure for that
// recipient and the loop proceeds.
func TestSendTimeout_CountsAsFailure(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{blockCtx: true}
	e, _ := newTestEngine(t, tr)
	e.sendTimeout = 10 * time.Millisecond

	jobID, _ := e.Create(testRecipients(1), Options{Delay: 0})
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	snap, _ := e.Status(jobID)
	if snap.Status != StateCompleted || snap.Failed != 1 {
		t.Fatalf("expected completed with failed=1, got %+v", snap)
	}
	assertInvariants(t, e, jobID)
}

// Completed jobs stay retrievable for the retention window, then the sweep
// drops them.
func TestRetention_PurgeAfterWindow(t *testing.T) {
	t.Parallel()

	var (
		clockMu sync.Mutex
		now     = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	bus := &captureBus{}
	reg := NewRegistry(time.Hour, clock)
	e := NewEngine(reg, &fakeTransport{}, bus, nil)

	jobID, _ := e.Create(testRecipients(1), Options{Delay: 0})
	if err := e.Start(context.Background(), jobID); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Still retrievable just before the window closes.
	clockMu.Lock()
	now = now.Add(time.Hour - time.Second)
	clockMu.Unlock()
	if n := e.Sweep(); n != 0 {
		t.Fatalf("expected sweep to keep the job, purged %d", n)
	}
	if _, ok := e.Results(jobID); !ok {
		t.Fatalf("expected results before retention expiry")
	}

	clockMu.Lock()
	now = now.Add(2 * time.Second)
	clockMu.Unlock()
	if n := e.Sweep(); n != 1 {
		t.Fatalf("expected sweep to purge 1 job, got %d", n)
	}
	if _, ok := e.Status(jobID); ok {
		t.Fatalf("expected status=unknown after purge")
	}
	if _, ok := e.Results(jobID); ok {
		t.Fatalf("expected results=unknown after purge")
	}
}

func TestSweep_KeepsActiveJobs(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(0, nil)
	e := NewEngine(reg, &fakeTransport{}, nil, nil)

	jobID, _ := e.Create(testRecipients(1), Options{})
	if n := e.Sweep(); n != 0 {
		t.Fatalf("sweep purged a pending job")
	}
	if _, ok := e.Status(jobID); !ok {
		t.Fatalf("pending job vanished")
	}
}

func TestJobs_ListsSnapshots(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, &fakeTransport{})

	a, _ := e.Create(testRecipients(1), Options{})
	b, _ := e.Create(testRecipients(2), Options{})

	jobs := e.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	seen := map[string]bool{}
	for _, j := range jobs {
		seen[j.ID] = true
	}
	if !seen[a] || !seen[b] {
		t.Fatalf("missing job snapshot: %v", seen)
	}
}
