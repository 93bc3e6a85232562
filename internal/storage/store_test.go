package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

// exerciseStore runs the shared contract against any driver.
func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	key := news.Key{ItemID: "n1", TranslationID: 0, Kind: news.RecipientChannel, RecipientID: -1001}
	sent, err := st.AlreadySent(ctx, key)
	if err != nil || sent {
		t.Fatalf("AlreadySent before mark: sent=%v err=%v", sent, err)
	}

	base := time.Now().Add(-90 * time.Minute).Truncate(time.Millisecond)
	if err := st.MarkSent(ctx, news.Record{Key: key, FeedID: "7", MessageID: 11, Language: "en", SentAt: base}); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	// Upsert refreshes the message id.
	if err := st.MarkSent(ctx, news.Record{Key: key, FeedID: "7", MessageID: 12, Language: "en", SentAt: base}); err != nil {
		t.Fatalf("MarkSent again: %v", err)
	}
	if sent, err := st.AlreadySent(ctx, key); err != nil || !sent {
		t.Fatalf("AlreadySent after mark: sent=%v err=%v", sent, err)
	}

	// Same item on a second channel, plus a recent second item.
	ru := news.Key{ItemID: "n1", TranslationID: 5, Kind: news.RecipientChannel, RecipientID: -1002}
	recent := time.Now().Add(-5 * time.Minute).Truncate(time.Millisecond)
	_ = st.MarkSent(ctx, news.Record{Key: ru, FeedID: "7", MessageID: 13, Language: "ru", SentAt: base})
	n2 := news.Key{ItemID: "n2", Kind: news.RecipientChannel, RecipientID: -1001}
	_ = st.MarkSent(ctx, news.Record{Key: n2, FeedID: "7", MessageID: 14, Language: "en", SentAt: recent})
	user := news.Key{ItemID: "n3", Kind: news.RecipientUser, RecipientID: 42}
	_ = st.MarkSent(ctx, news.Record{Key: user, FeedID: "7", MessageID: 15, Language: "en", SentAt: recent})

	stats, err := st.ChannelStats(ctx, "7", time.Now().Add(-60*time.Minute))
	if err != nil {
		t.Fatalf("ChannelStats: %v", err)
	}
	if stats.Count != 1 {
		t.Fatalf("count in window=%d want 1", stats.Count)
	}
	if !stats.LastSent.Equal(recent) {
		t.Fatalf("last sent=%v want %v", stats.LastSent, recent)
	}
	all, _ := st.ChannelStats(ctx, "7", base)
	if all.Count != 2 {
		t.Fatalf("distinct items since base=%d want 2", all.Count)
	}

	// Preferences and subscribers.
	_ = st.SavePreferences(ctx, news.Preferences{UserID: 1, Language: "ru", Subscriptions: []string{"world"}})
	_ = st.SavePreferences(ctx, news.Preferences{UserID: 2, Language: "", Subscriptions: []string{news.AllCategories}})
	_ = st.SavePreferences(ctx, news.Preferences{UserID: 3, Language: "de", Subscriptions: []string{"sports"}})

	subs, err := st.SubscribersFor(ctx, "world")
	if err != nil {
		t.Fatalf("SubscribersFor: %v", err)
	}
	if len(subs) != 2 || subs[0].UserID != 1 || subs[1].UserID != 2 || subs[1].Language != news.DefaultLanguage {
		t.Fatalf("subscribers=%+v", subs)
	}
	if err := st.RemoveSubscriber(ctx, 1); err != nil {
		t.Fatalf("RemoveSubscriber: %v", err)
	}
	subs, _ = st.SubscribersFor(ctx, "world")
	if len(subs) != 1 || subs[0].UserID != 2 {
		t.Fatalf("after removal subscribers=%+v", subs)
	}
	p, ok, err := st.Preferences(ctx, 3)
	if err != nil || !ok || p.Language != "de" || len(p.Subscriptions) != 1 {
		t.Fatalf("Preferences(3)=%+v ok=%v err=%v", p, ok, err)
	}

	// Translation ids are stable per (item, language).
	id1, ok1, err := st.TranslationID(ctx, "n1", "ru")
	id2, ok2, _ := st.TranslationID(ctx, "n1", "ru")
	id3, _, _ := st.TranslationID(ctx, "n1", "de")
	if err != nil || !ok1 || !ok2 || id1 != id2 || id1 == id3 || id1 == 0 {
		t.Fatalf("translation ids: %d %d %d err=%v", id1, id2, id3, err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ledger.db")
	st, err := Open(context.Background(), Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer st.Close()
	exerciseStore(t, st)
}

func TestFileStoreReplaysJournal(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "bot")
	st, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	exerciseStore(t, st)

	// Reopen without closing first: state must come back from the journal alone.
	again, err := Open(context.Background(), Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ctx := context.Background()
	key := news.Key{ItemID: "n1", Kind: news.RecipientChannel, RecipientID: -1001}
	if sent, _ := again.AlreadySent(ctx, key); !sent {
		t.Fatalf("ledger entry lost across reopen")
	}
	if _, ok, _ := again.Preferences(ctx, 1); ok {
		t.Fatalf("removed subscriber came back")
	}
	_ = st.Close()
	_ = again.Close()

	// After a clean close the snapshot alone carries the state.
	third, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
	defer third.Close()
	stats, _ := third.ChannelStats(ctx, "7", time.Time{})
	if stats.Count != 2 {
		t.Fatalf("distinct channel items after snapshot=%d want 2", stats.Count)
	}
}

func TestFeedOverrides(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	mem.SetFeedLimits("a", news.FeedLimits{CooldownMinutes: 30, MaxPerHour: 4})
	o := NewFeedOverrides(mem, map[string]news.FeedLimits{"b": {CooldownMinutes: 10, MaxPerHour: 2}})

	ctx := context.Background()
	if l, ok, _ := o.FeedLimits(ctx, "b"); !ok || l.MaxPerHour != 2 {
		t.Fatalf("override not applied: %+v ok=%v", l, ok)
	}
	if l, ok, _ := o.FeedLimits(ctx, "a"); !ok || l.MaxPerHour != 4 {
		t.Fatalf("base not consulted: %+v ok=%v", l, ok)
	}
	if _, ok, _ := o.FeedLimits(ctx, "c"); ok {
		t.Fatalf("unknown feed should fall back to defaults")
	}
}
