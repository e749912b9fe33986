package bulk

import "errors"

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyRunning    = errors.New("job already running")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrNoValidRecipients = errors.New("no valid recipients")
)
