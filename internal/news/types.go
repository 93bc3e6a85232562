// Package news holds the domain types shared by the delivery pipeline.
package news

import (
	"strconv"
	"time"
)

// NoFeed is the grouping key for items without a source feed.
const NoFeed = "no_feed"

// DefaultLanguage is used when neither the session cache nor the preference store know a user's language.
const DefaultLanguage = "en"

// Translation is one localized rendition of an item.
type Translation struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PreparedItem is an item ready for fanout. Produced upstream, consumed read-only here.
type PreparedItem struct {
	ID               string                 `json:"news_id"`
	SourceFeedID     string                 `json:"feed_id,omitempty"`
	OriginalLanguage string                 `json:"original_language"`
	OriginalTitle    string                 `json:"original_title"`
	OriginalContent  string                 `json:"original_content"`
	SourceURL        string                 `json:"source_url"`
	Category         string                 `json:"category"`
	SourceName       string                 `json:"source"`
	Translations     map[string]Translation `json:"translations,omitempty"`
	ImageRef         string                 `json:"image_url,omitempty"`
	VideoRef         string                 `json:"video_url,omitempty"`
	CreatedAt        time.Time              `json:"created_at,omitempty"`
}

// FeedKey returns the grouping key of the item.
func (it PreparedItem) FeedKey() string {
	if it.SourceFeedID == "" {
		return NoFeed
	}
	return it.SourceFeedID
}

// RecipientKind tells channel posts apart from personal sends.
type RecipientKind string

const (
	RecipientChannel RecipientKind = "channel"
	RecipientUser    RecipientKind = "user"
)

// Key identifies one delivery in the publication ledger.
// TranslationID 0 means the original-language text was used.
type Key struct {
	ItemID        string
	TranslationID int64
	Kind          RecipientKind
	RecipientID   int64
}

// TranslationTag renders the translation part of lock keys and logs.
func (k Key) TranslationTag() string {
	if k.TranslationID == 0 {
		return "original"
	}
	return strconv.FormatInt(k.TranslationID, 10)
}

// Record is a ledger row.
type Record struct {
	Key
	FeedID    string
	MessageID int
	Language  string
	SentAt    time.Time
	UpdatedAt time.Time
}

// Subscriber is a user eligible for personal delivery.
type Subscriber struct {
	UserID   int64
	Language string
}

// FeedLimits are the publication limits of one source feed.
type FeedLimits struct {
	CooldownMinutes int
	MaxPerHour      int
}

const (
	DefaultCooldownMinutes = 60
	DefaultMaxPerHour      = 10
)

// DefaultFeedLimits is used when a feed has no configured limits.
func DefaultFeedLimits() FeedLimits {
	return FeedLimits{CooldownMinutes: DefaultCooldownMinutes, MaxPerHour: DefaultMaxPerHour}
}

// ChannelStats summarizes channel publications of one feed since some instant.
type ChannelStats struct {
	Count    int
	LastSent time.Time
}

// Preferences is the durable per-user record behind the session cache.
type Preferences struct {
	UserID        int64
	Language      string
	Subscriptions []string
}

// AllCategories in a subscription list matches every category.
const AllCategories = "all"

// Matches reports whether subscriptions include category.
func (p Preferences) Matches(category string) bool {
	for _, s := range p.Subscriptions {
		if s == AllCategories || s == category {
			return true
		}
	}
	return false
}

// ItemFilter narrows an undelivered-items query.
type ItemFilter struct {
	Limit            int
	OriginalLanguage string
	// FromDate, when set, excludes items created before it.
	FromDate time.Time
	// UsersPublished=false asks for items not yet delivered to the general user pool.
	UsersPublished bool
}
