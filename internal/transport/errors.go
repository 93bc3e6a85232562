package transport

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBadContent means the platform rejected the attached media for this message type.
	ErrBadContent = errors.New("bad content for media type")
	// ErrForbidden means the recipient blocked the bot or the chat is gone.
	ErrForbidden = errors.New("forbidden by recipient")
	// ErrBadRequest is any other 4xx-equivalent rejection.
	ErrBadRequest = errors.New("bad request")
)

// FloodError is the platform's flood-control response.
type FloodError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flood control: retry after %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("flood control: retry after %s", e.Wait)
}

func (e *FloodError) Unwrap() error             { return e.Err }
func (e *FloodError) RetryAfter() time.Duration { return e.Wait }

// AsFlood reports the platform wait when err is a flood-control failure.
func AsFlood(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) {
		return fe.Wait, true
	}
	return 0, false
}

// IsPermanent reports errors that retrying the same request cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBadContent) || errors.Is(err, ErrForbidden) || errors.Is(err, ErrBadRequest)
}

// Classified wraps a platform error with one of the sentinel kinds, keeping the original text.
func Classified(kind, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: kind, err: err}
}

type classifiedError struct {
	kind error
	err  error
}

func (e *classifiedError) Error() string   { return e.kind.Error() + ": " + e.err.Error() }
func (e *classifiedError) Unwrap() []error { return []error{e.kind, e.err} }
