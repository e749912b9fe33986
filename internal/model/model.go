package model

import "time"

// Status tracks a scheduled message through its send lifecycle.
type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

// Message is a single scheduled SMS, persisted in Postgres until sent.
type Message struct {
	ID              int64
	RecipientPhone  string
	Content         string
	Status          Status
	SendAt          time.Time
	AttemptCount    int
	LastError       *string
	SentAt          *time.Time
	RemoteMessageID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Recipient is one entry of a validated bulk-send list. Valid and Errors come
// from the validation pass; the bulk engine only ever processes Valid entries.
type Recipient struct {
	LineNumber int      `json:"lineNumber,omitempty"`
	Phone      string   `json:"phone"`
	Message    string   `json:"message"`
	Name       string   `json:"name,omitempty"`
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
}
