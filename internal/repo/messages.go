package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jdc-telecom/smsgw/internal/model"
)

// ErrNotFound is returned when an operation references a message id that
// does not exist (or was already deleted).
var ErrNotFound = errors.New("scheduled message not found")

// MessageRepository persists scheduled SMS and their send outcomes.
type MessageRepository interface {
	Insert(ctx context.Context, m model.Message) (int64, error)
	ListScheduled(ctx context.Context) ([]model.Message, error)
	Delete(ctx context.Context, id int64) error

	// ClaimDue atomically moves due pending messages to processing and
	// returns them. Claimed messages belong to the caller until marked.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.Message, error)
	MarkSent(ctx context.Context, id int64, remoteMessageID string) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error

	ListSent(ctx context.Context, limit, offset int) ([]model.Message, error)
}
