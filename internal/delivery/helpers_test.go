package delivery

import (
	"context"
	"sync"
	"time"

	"firefeed/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSleeper never blocks; it remembers what it was asked to wait.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type sentCall struct {
	kind   string
	chatID int64
	url    string
	text   string

	// noPreview mirrors SendOptions.DisablePreview.
	noPreview bool
}

type fakeMessenger struct {
	mu    sync.Mutex
	calls []sentCall
	// fail decides the error of the n-th call (0-based).
	fail func(c sentCall, n int) error
}

func (f *fakeMessenger) record(c sentCall) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls)
	f.calls = append(f.calls, c)
	if f.fail != nil {
		if err := f.fail(c, n); err != nil {
			return transport.MessageRef{}, err
		}
	}
	return transport.MessageRef{ChatID: c.chatID, MessageID: 100 + n}, nil
}

func (f *fakeMessenger) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(sentCall{kind: "text", chatID: to.ChatID, text: text, noPreview: opt != nil && opt.DisablePreview})
}

func (f *fakeMessenger) SendPhoto(_ context.Context, to transport.ChatTarget, url, caption string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(sentCall{kind: "photo", chatID: to.ChatID, url: url, text: caption})
}

func (f *fakeMessenger) SendVideo(_ context.Context, to transport.ChatTarget, url, caption string, _ *transport.SendOptions) (transport.MessageRef, error) {
	return f.record(sentCall{kind: "video", chatID: to.ChatID, url: url, text: caption})
}

func (f *fakeMessenger) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeMessenger) kinds() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.kind)
	}
	return out
}
