package gateway

import (
	"context"
	"errors"
	"fmt"
)

// TransientError marks a dispatch failure worth retrying: provider
// throttling, 5xx responses, network timeouts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient dispatch error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a dispatch failure that retrying cannot fix:
// rejected recipient, malformed content, suspended account.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent dispatch error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error { return &TransientError{Err: err} }

// Permanent wraps err as non-retryable.
func Permanent(err error) error { return &PermanentError{Err: err} }

// IsTransient reports whether the error should be retried. A per-attempt
// timeout (context deadline) counts as transient; anything unclassified is
// treated as permanent so unknown failures cannot retry forever.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
