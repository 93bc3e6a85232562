package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"firefeed/internal/news"
	"firefeed/internal/storage"
	logx "firefeed/pkg/logx"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newMemoryStore(ttl time.Duration) (*Store, *Memory, *storage.Memory, *clock) {
	c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	mem := NewMemory(ttl)
	mem.now = c.Now
	prefs := storage.NewMemory()
	return New(mem, prefs, logx.Nop()), mem, prefs, c
}

func TestLanguageFallsBackAndRepopulates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem, prefs, _ := newMemoryStore(time.Hour)

	lang, err := s.Language(ctx, 1)
	if err != nil || lang != news.DefaultLanguage {
		t.Fatalf("unknown user lang=%q err=%v", lang, err)
	}
	if mem.Len() != 0 {
		t.Fatalf("default language must not be cached")
	}

	if err := prefs.SavePreferences(ctx, news.Preferences{UserID: 2, Language: "de"}); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	if lang, _ := s.Language(ctx, 2); lang != "de" {
		t.Fatalf("durable lang=%q", lang)
	}
	if e, ok, _ := mem.Get(ctx, 2); !ok || e.Language != "de" {
		t.Fatalf("cache not repopulated: %+v", e)
	}
}

func TestSetLanguageWritesDurableFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem, prefs, _ := newMemoryStore(time.Hour)
	if err := prefs.SavePreferences(ctx, news.Preferences{UserID: 5, Language: "en", Subscriptions: []string{"world"}}); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}

	if err := s.SetLanguage(ctx, 5, " RU "); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	p, _, _ := prefs.Preferences(ctx, 5)
	if p.Language != "ru" || len(p.Subscriptions) != 1 {
		t.Fatalf("durable prefs=%+v", p)
	}
	if e, _, _ := mem.Get(ctx, 5); e.Language != "ru" {
		t.Fatalf("cache=%+v", e)
	}
	if err := s.SetLanguage(ctx, 5, ""); err == nil {
		t.Fatalf("empty language accepted")
	}
}

type brokenPrefs struct{}

func (brokenPrefs) Preferences(context.Context, int64) (news.Preferences, bool, error) {
	return news.Preferences{}, false, errors.New("db down")
}

func (brokenPrefs) SavePreferences(context.Context, news.Preferences) error {
	return errors.New("db down")
}

func TestSetLanguageKeepsCacheOnDurableFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := NewMemory(time.Hour)
	s := New(mem, brokenPrefs{}, logx.Nop())
	if err := s.SetLanguage(ctx, 9, "fr"); err == nil {
		t.Fatalf("expected durable error")
	}
	if mem.Len() != 0 {
		t.Fatalf("cache written although the durable store failed")
	}
}

func TestSweepSlidingExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem, _, c := newMemoryStore(24 * time.Hour)

	_ = s.SetMenu(ctx, 1, "settings")
	_ = s.SetState(ctx, 2, "await_categories")

	c.now = c.now.Add(20 * time.Hour)
	if st, _ := s.State(ctx, 2); st != "await_categories" {
		t.Fatalf("state=%q", st)
	}

	c.now = c.now.Add(5 * time.Hour)
	n, err := s.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("swept=%d err=%v", n, err)
	}
	if menu, _ := s.Menu(ctx, 1); menu != "" {
		t.Fatalf("expired entry survived")
	}
	if mem.Len() != 1 {
		t.Fatalf("recently read entry was swept")
	}

	_ = s.Forget(ctx, 2)
	if mem.Len() != 0 {
		t.Fatalf("forget left state behind")
	}
}
