package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"firefeed/internal/transport"
)

func TestRetryPolicyDo(t *testing.T) {
	t.Parallel()

	transient := errors.New("timeout")
	tests := []struct {
		name      string
		failUntil int // attempts that fail before success; -1 = always
		err       error
		attempts  int
		sleeps    []time.Duration
		wantErr   bool
	}{
		{name: "first try", failUntil: 0, attempts: 1},
		{name: "recovers", failUntil: 2, err: transient, attempts: 3, sleeps: []time.Duration{2 * time.Second, 4 * time.Second}},
		{
			name: "exhausted", failUntil: -1, err: transient, attempts: 5, wantErr: true,
			sleeps: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second},
		},
		{name: "permanent", failUntil: -1, err: transport.Classified(transport.ErrBadRequest, errors.New("400")), attempts: 1, wantErr: true},
		{name: "no retry", failUntil: -1, err: NoRetry(transient), attempts: 1, wantErr: true},
		{name: "hint", failUntil: 1, err: RetryAfter(transient, 7*time.Second), attempts: 2, sleeps: []time.Duration{7 * time.Second}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sl := &recordingSleeper{}
			p := RetryPolicy{MaxAttempts: 5, Base: 2 * time.Second, Max: 30 * time.Second, Sleep: sl.Sleep}
			n, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
				if tt.failUntil < 0 || attempt <= tt.failUntil {
					return tt.err
				}
				return nil
			})
			if (err != nil) != tt.wantErr || n != tt.attempts {
				t.Fatalf("attempts=%d err=%v", n, err)
			}
			got := sl.Waits()
			if len(got) != len(tt.sleeps) {
				t.Fatalf("sleeps=%v want %v", got, tt.sleeps)
			}
			for i := range got {
				if got[i] != tt.sleeps[i] {
					t.Fatalf("sleeps=%v want %v", got, tt.sleeps)
				}
			}
		})
	}
}

func TestRetryDelayCapsAndJitters(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{Base: 2 * time.Second, Max: 30 * time.Second}
	if d := p.Delay(10, errors.New("x")); d != 30*time.Second {
		t.Fatalf("uncapped delay %s", d)
	}
	if d := p.Delay(1, RetryAfter(errors.New("x"), time.Hour)); d != 30*time.Second {
		t.Fatalf("hint not bounded: %s", d)
	}
	p.Jitter = true
	for i := 0; i < 50; i++ {
		d := p.Delay(1, errors.New("x"))
		if d < 1400*time.Millisecond || d > 2600*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := RetryPolicy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}}
	_, err := p.Do(ctx, func(context.Context, int) error {
		calls++
		return errors.New("flaky")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
