package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jdc-telecom/smsgw/internal/cache"
)

// Sender delivers an authentication code over SMS.
type Sender interface {
	SendToken(ctx context.Context, phoneNumber, token string) error
}

// Service issues 6-digit one-time codes and verifies them. A code is valid
// for the store's TTL and for a single verification attempt: consuming it
// removes it whether or not the attempt matches.
type Service struct {
	store  cache.TokenStore
	sender Sender
	log    *slog.Logger

	// generate is swapped out in tests for a deterministic code.
	generate func() string
}

func New(store cache.TokenStore, sender Sender, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    store,
		sender:   sender,
		log:      log,
		generate: generateCode,
	}
}

// Send issues a fresh code for phoneNumber, stores it, then delivers it.
// A failed delivery surfaces as an error; the stored code simply expires.
func (s *Service) Send(ctx context.Context, phoneNumber string) error {
	code := s.generate()

	if err := s.store.StoreToken(ctx, phoneNumber, code); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := s.sender.SendToken(ctx, phoneNumber, code); err != nil {
		return fmt.Errorf("send token: %w", err)
	}

	s.log.Info("token sent", slog.String("phone", phoneNumber))
	return nil
}

// Verify consumes the stored code for phoneNumber and compares it against the
// submitted one. Unknown or expired codes verify as false, not as an error.
func (s *Service) Verify(ctx context.Context, phoneNumber, code string) (bool, error) {
	stored, err := s.store.ConsumeToken(ctx, phoneNumber)
	if errors.Is(err, cache.ErrTokenNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(code)) == 1, nil
}

func generateCode() string {
	return fmt.Sprintf("%06d", 100000+rand.IntN(900000))
}
