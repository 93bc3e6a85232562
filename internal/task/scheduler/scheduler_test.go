package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"firefeed/internal/eventbus"
	logx "firefeed/pkg/logx"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		kind    SpecKind
		cron    string
		every   time.Duration
		wantErr bool
	}{
		{in: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{in: "@hourly", kind: SpecCron, cron: "@hourly"},
		{in: "cron:@daily", kind: SpecCron, cron: "@daily"},
		{in: "90s", kind: SpecInterval, every: 90 * time.Second},
		{in: "00:05", kind: SpecInterval, every: 5 * time.Minute},
		{in: "every:2h30m", kind: SpecInterval, every: 150 * time.Minute},
		{in: "", wantErr: true},
		{in: "0s", wantErr: true},
		{in: "01:75", wantErr: true},
		{in: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSchedule(%q) accepted: %+v", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
			}
			if got.Kind != tt.kind || got.Cron != tt.cron || got.Every != tt.every {
				t.Fatalf("ParseSchedule(%q)=%+v", tt.in, got)
			}
		})
	}

	if s := (ParsedSpec{Kind: SpecInterval, Every: time.Minute}).CronSpec(); s != "@every 1m0s" {
		t.Fatalf("CronSpec=%q", s)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	job := func(context.Context) error { return nil }
	if err := s.Add("", "1m", 0, job); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := s.Add("x", "61 * * * *", 0, job); err == nil {
		t.Fatalf("bad cron accepted")
	}
	if err := s.Add("x", "1m", 0, nil); err == nil {
		t.Fatalf("nil job accepted")
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(Config{}, logx.Nop(), bus)
	release := make(chan struct{})
	var runs atomic.Int32
	if err := s.Add("cycle", "1h", time.Second, func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	ctx := context.Background()
	if !s.RunNow(ctx, "cycle") {
		t.Fatalf("first RunNow refused")
	}
	if s.RunNow(ctx, "cycle") {
		t.Fatalf("overlapping RunNow accepted")
	}
	if s.RunNow(ctx, "missing") {
		t.Fatalf("unknown schedule accepted")
	}
	close(release)

	select {
	case ev := <-events:
		it, ok := ev.Data.(HistoryItem)
		if ev.Type != eventbus.TypeJobDone || !ok || it.Name != "cycle" || it.Error != "boom" {
			t.Fatalf("event=%+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no job event")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	s.Stop(stopCtx)

	snap := s.Snapshot()
	if runs.Load() != 1 || len(snap.Schedules) != 1 || snap.Schedules[0].Fails != 1 || len(snap.History) != 1 {
		t.Fatalf("runs=%d snapshot=%+v", runs.Load(), snap)
	}
	if !s.RunNow(ctx, "cycle") {
		t.Fatalf("gate not released after the run finished")
	}
}

func TestExecRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(Config{HistorySize: 2}, logx.Nop(), nil)
	d := &scheduleDef{name: "bad", job: func(context.Context) error { panic("kaput") }, state: &runState{}}
	for range 3 {
		d.state.running.Store(true)
		s.exec(context.Background(), d)
	}
	snap := s.history
	if len(snap) != 2 || snap[0].Error == "" || d.state.running.Load() {
		t.Fatalf("history=%+v running=%v", snap, d.state.running.Load())
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	_ = s.Add("a", "1m", 0, func(context.Context) error { return nil })
	_ = s.Add("a", "2m", 0, func(context.Context) error { return nil })
	if n := len(s.Snapshot().Schedules); n != 1 {
		t.Fatalf("re-adding must replace, got %d schedules", n)
	}
	if !s.Remove("a") || s.Remove("a") {
		t.Fatalf("Remove should succeed exactly once")
	}
}
