package bulk

import (
	"time"

	"github.com/jdc-telecom/smsgw/internal/model"
)

// EventType classifies a progress event emitted by the dispatch loop.
type EventType string

const (
	EventStatus     EventType = "status"
	EventStarted    EventType = "started"
	EventProcessing EventType = "processing"
	EventSuccess    EventType = "success"
	EventError      EventType = "error"
	EventPaused     EventType = "paused"
	EventResumed    EventType = "resumed"
	EventStopped    EventType = "stopped"
	EventCompleted  EventType = "completed"
)

// Event is one progress update for a job. Events are emitted in strict
// processing order by the single dispatch loop that owns the job.
type Event struct {
	JobID     string           `json:"jobId"`
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Message   string           `json:"message,omitempty"`
	Recipient *model.Recipient `json:"recipient,omitempty"`
	Current   int              `json:"current,omitempty"`
	Total     int              `json:"total,omitempty"`
	Error     string           `json:"error,omitempty"`
	Job       *Snapshot        `json:"job,omitempty"`
	Duration  int              `json:"duration,omitempty"`
}

// Publisher delivers events to whoever is subscribed to a job. Delivery is
// best effort: no replay for late subscribers, who reconcile via Status or
// Results instead.
type Publisher interface {
	Publish(jobID string, ev Event)
}
