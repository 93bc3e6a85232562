package transport

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	raw := errors.New("telegram: Forbidden: bot was blocked by the user (403)")
	tests := []struct {
		name      string
		err       error
		permanent bool
		flood     bool
		wait      time.Duration
	}{
		{"forbidden", Classified(ErrForbidden, raw), true, false, 0},
		{"bad content", Classified(ErrBadContent, raw), true, false, 0},
		{"bad request wrapped", fmt.Errorf("send: %w", Classified(ErrBadRequest, raw)), true, false, 0},
		{"flood", &FloodError{Wait: 7 * time.Second, Err: raw}, false, true, 7 * time.Second},
		{"flood wrapped", fmt.Errorf("send: %w", &FloodError{Wait: time.Second}), false, true, time.Second},
		{"network", errors.New("dial tcp: i/o timeout"), false, false, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsPermanent(tt.err); got != tt.permanent {
				t.Fatalf("IsPermanent=%v want %v", got, tt.permanent)
			}
			wait, ok := AsFlood(tt.err)
			if ok != tt.flood || wait != tt.wait {
				t.Fatalf("AsFlood=(%v,%v) want (%v,%v)", wait, ok, tt.wait, tt.flood)
			}
		})
	}

	if !errors.Is(Classified(ErrForbidden, raw), raw) {
		t.Fatalf("classified error must keep the original in its chain")
	}
}
