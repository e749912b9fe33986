package cache

import (
	"context"
	"errors"
)

// ErrTokenNotFound is returned when no code is stored for a phone number,
// either because none was issued or because it has expired.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore holds one-time authentication codes keyed by phone number.
// Codes expire on their own and are consumed on first successful read.
type TokenStore interface {
	StoreToken(ctx context.Context, phoneNumber, code string) error
	ConsumeToken(ctx context.Context, phoneNumber string) (string, error)
}
