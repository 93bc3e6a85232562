package delivery

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"firefeed/internal/transport"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryBase     = 2 * time.Second
	DefaultRetryMax      = 30 * time.Second
)

// RetryPolicy retries transient failures with exponential backoff.
// Permanent platform rejections and NoRetry errors are returned as is.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	// Jitter spreads delays by 0.7..1.3.
	Jitter bool
	Sleep  Sleeper
}

// DefaultRetryPolicy is 5 attempts, 2s doubling up to 30s, with jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultRetryAttempts,
		Base:        DefaultRetryBase,
		Max:         DefaultRetryMax,
		Jitter:      true,
	}
}

// Retryable reports whether the generic layer may try err again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsNoRetry(err) || transport.IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Delay returns the wait before attempt+1.
func (p RetryPolicy) Delay(attempt int, err error) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryBase
	}
	maxD := p.Max
	if maxD <= 0 {
		maxD = DefaultRetryMax
	}

	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		return min(ra.RetryAfter(), maxD)
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	if p.Jitter {
		d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	}
	return max(d, 0)
}

// Do runs fn until it succeeds, fails permanently or attempts run out.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			if err == nil {
				err = cerr
			}
			return attempt - 1, err
		}
		err = fn(ctx, attempt)
		if err == nil || !Retryable(err) || attempt == attempts {
			return attempt, err
		}
		if serr := sleep(ctx, p.Delay(attempt, err)); serr != nil {
			return attempt, err
		}
	}
	return attempts, err
}
