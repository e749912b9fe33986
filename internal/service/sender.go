package service

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jdc-telecom/smsgw/internal/model"
)

type SendClient interface {
	Send(ctx context.Context, phoneNumber, message string) (remoteMessageID string, err error)
}

// Sender pushes claimed scheduled messages out through the provider client.
// One message's failure never blocks the rest of the batch.
type Sender struct {
	client     SendClient
	contentMax int
	log        *slog.Logger

	onSent   func(ctx context.Context, internalID int64, remoteMessageID string) error
	onFailed func(ctx context.Context, internalID int64, reason string) error
}

func NewSender(client SendClient, contentMax int, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	return &Sender{
		client:     client,
		contentMax: contentMax,
		log:        log,
	}
}

// WithHooks wires the persistence callbacks invoked after each outcome,
// typically repo.MarkSent and repo.MarkFailed.
func (s *Sender) WithHooks(
	onSent func(ctx context.Context, internalID int64, remoteMessageID string) error,
	onFailed func(ctx context.Context, internalID int64, reason string) error,
) *Sender {
	s.onSent = onSent
	s.onFailed = onFailed
	return s
}

// ProcessDue sends each claimed message in order and reports the outcome
// counts.
func (s *Sender) ProcessDue(ctx context.Context, msgs []model.Message) (sent int, failed int) {
	for _, m := range msgs {
		if utf8.RuneCountInString(m.Content) > s.contentMax {
			failed++
			s.fail(ctx, m.ID, fmt.Sprintf("content exceeds %d chars", s.contentMax))
			continue
		}

		remoteID, err := s.client.Send(ctx, m.RecipientPhone, m.Content)
		if err != nil {
			failed++
			s.fail(ctx, m.ID, err.Error())
			s.log.Warn("scheduled send failed",
				slog.Int64("id", m.ID),
				slog.String("phone", m.RecipientPhone),
				slog.Any("err", err),
			)
			continue
		}

		sent++
		if s.onSent != nil {
			_ = s.onSent(ctx, m.ID, remoteID)
		}
	}
	return sent, failed
}

func (s *Sender) fail(ctx context.Context, id int64, reason string) {
	if s.onFailed != nil {
		_ = s.onFailed(ctx, id, reason)
	}
}
