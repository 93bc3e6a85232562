package storage

import (
	"context"
	"errors"
	"time"

	"firefeed/internal/news"
)

var (
	ErrClosed   = errors.New("storage closed")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local, lost on restart
//   - "file": JSONL journal + snapshot under Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": DSN, reads the shared production schema
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only
}

// Ledger records which (item, translation, recipient) keys were delivered.
type Ledger interface {
	AlreadySent(ctx context.Context, key news.Key) (bool, error)
	// MarkSent upserts rec; repeated calls refresh MessageID, Language and timestamps.
	MarkSent(ctx context.Context, rec news.Record) error
	// ChannelStats counts distinct items published to channels for feedID at or after since,
	// and reports the most recent channel publication of the feed.
	ChannelStats(ctx context.Context, feedID string, since time.Time) (news.ChannelStats, error)
}

// FeedDirectory returns per-feed publication limits. ok=false means "use defaults".
type FeedDirectory interface {
	FeedLimits(ctx context.Context, feedID string) (news.FeedLimits, bool, error)
}

// TranslationDirectory resolves the stored identifier of an item translation.
type TranslationDirectory interface {
	TranslationID(ctx context.Context, itemID, language string) (int64, bool, error)
}

// SubscriberDirectory lists users subscribed to a category.
type SubscriberDirectory interface {
	SubscribersFor(ctx context.Context, category string) ([]news.Subscriber, error)
	RemoveSubscriber(ctx context.Context, userID int64) error
}

// PreferenceStore is the durable per-user settings record.
type PreferenceStore interface {
	Preferences(ctx context.Context, userID int64) (news.Preferences, bool, error)
	SavePreferences(ctx context.Context, p news.Preferences) error
}

// Store bundles everything a driver provides.
type Store interface {
	Ledger
	FeedDirectory
	TranslationDirectory
	SubscriberDirectory
	PreferenceStore

	Ping(ctx context.Context) error
	Close() error
}
