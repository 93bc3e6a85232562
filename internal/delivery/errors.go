package delivery

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIneligible means there is no trackable content for the target language.
	ErrIneligible = errors.New("no eligible content")
	// ErrInvalidLimits is returned for feed limits that cannot be enforced (max per hour < 1).
	ErrInvalidLimits = errors.New("invalid feed limits")
)

// NoRetry marks an error as non-retryable.
//
// The retry policy gives up immediately on errors wrapped with NoRetry.
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return noRetryError{err: err}
}

// IsNoRetry reports whether err is wrapped with NoRetry.
func IsNoRetry(err error) bool {
	var e noRetryError
	return errors.As(err, &e)
}

type noRetryError struct{ err error }

func (e noRetryError) Error() string { return fmt.Sprintf("no-retry: %v", e.err) }
func (e noRetryError) Unwrap() error { return e.err }

// RetryAfter attaches a suggested delay before the next attempt.
// The policy honours the hint, bounded by its max delay.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
// transport.FloodError satisfies it too.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }
