package fanout

import (
	"context"
	"time"

	"firefeed/internal/delivery"
	"firefeed/internal/news"
)

// ItemSource lists items not yet delivered to the user pool.
type ItemSource interface {
	ListUndelivered(ctx context.Context, f news.ItemFilter) ([]news.PreparedItem, error)
}

// Report summarizes one cycle.
type Report struct {
	CycleID       string        `json:"cycle_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	Items         int           `json:"items"`
	Feeds         int           `json:"feeds"`
	ChannelSent   int           `json:"channel_sent"`
	ChannelDenied int           `json:"channel_denied"`
	PersonalSent  int           `json:"personal_sent"`
	Skipped       int           `json:"skipped"`
	Ineligible    int           `json:"ineligible"`
	Duplicates    int           `json:"duplicates"`
	Failed        int           `json:"failed"`
	// LedgerErrors counts failed ledger reads and writes; a send whose record
	// could not be written is still counted as sent.
	LedgerErrors  int           `json:"ledger_errors"`
	Error         string        `json:"error,omitempty"`
}

// DeliveryEvent is the payload of delivery.* and subscriber.removed events.
type DeliveryEvent struct {
	CycleID     string `json:"cycle_id"`
	ItemID      string `json:"item_id"`
	FeedID      string `json:"feed_id"`
	Kind        string `json:"kind"`
	RecipientID int64  `json:"recipient_id"`
	Language    string `json:"language"`
	MessageID   int    `json:"message_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Config is the dispatcher's static view of the channel setup and pacing.
type Config struct {
	// Channels maps a language code to its broadcast chat.
	Channels map[string]int64
	// ChannelCategories lists categories that go to channels.
	ChannelCategories []string

	BatchLimit       int
	OriginalLanguage string
	MaxAge           time.Duration

	MediaPriority delivery.MediaKind
	// PersonalPause separates consecutive personal sends of one item.
	PersonalPause time.Duration
	// ChannelPause separates the language channels of one item.
	ChannelPause time.Duration
	// SelfPacing sleeps 60/maxPerHour minutes after an item's channel batch.
	SelfPacing bool
}

const DefaultBatchLimit = 20

func (c Config) withDefaults() Config {
	if c.BatchLimit <= 0 {
		c.BatchLimit = DefaultBatchLimit
	}
	if c.PersonalPause < 0 {
		c.PersonalPause = 0
	}
	if c.ChannelPause < 0 {
		c.ChannelPause = 0
	}
	return c
}
