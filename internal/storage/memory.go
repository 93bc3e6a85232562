package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"firefeed/internal/news"
)

type translationKey struct {
	itemID   string
	language string
}

// Memory is a process-local Store. It also backs the file driver, which journals its mutations.
//
// Translations are registered lazily: the first lookup of (item, language)
// allocates a stable id, since local drivers have no upstream translation table.
type Memory struct {
	mu sync.RWMutex

	ledger          map[news.Key]news.Record
	translations    map[translationKey]int64
	nextTranslation int64
	feeds           map[string]news.FeedLimits
	prefs           map[int64]news.Preferences

	now func() time.Time

	// onChange is called with mu held after a mutation; used by the file driver.
	onChange func(journalEntry)
}

func NewMemory() *Memory {
	return &Memory{
		ledger:       map[news.Key]news.Record{},
		translations: map[translationKey]int64{},
		feeds:        map[string]news.FeedLimits{},
		prefs:        map[int64]news.Preferences{},
		now:          time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

func (m *Memory) AlreadySent(_ context.Context, key news.Key) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ledger[key]
	return ok, nil
}

func (m *Memory) MarkSent(_ context.Context, rec news.Record) error {
	now := m.now()
	if rec.SentAt.IsZero() {
		rec.SentAt = now
	}
	rec.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.putRecordLocked(rec)
	if m.onChange != nil {
		r := rec
		m.onChange(journalEntry{Kind: entryLedger, Ledger: &r})
	}
	return nil
}

func (m *Memory) putRecordLocked(rec news.Record) {
	if prev, ok := m.ledger[rec.Key]; ok && rec.FeedID == "" {
		rec.FeedID = prev.FeedID
	}
	m.ledger[rec.Key] = rec
}

func (m *Memory) ChannelStats(_ context.Context, feedID string, since time.Time) (news.ChannelStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st news.ChannelStats
	seen := map[string]struct{}{}
	for k, r := range m.ledger {
		if k.Kind != news.RecipientChannel || r.FeedID != feedID {
			continue
		}
		if r.SentAt.After(st.LastSent) {
			st.LastSent = r.SentAt
		}
		if r.SentAt.Before(since) {
			continue
		}
		seen[k.ItemID] = struct{}{}
	}
	st.Count = len(seen)
	return st, nil
}

// Records returns a copy of the ledger, sorted by item then recipient.
func (m *Memory) Records() []news.Record {
	m.mu.RLock()
	out := make([]news.Record, 0, len(m.ledger))
	for _, r := range m.ledger {
		out = append(out, r)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b news.Record) int {
		if a.ItemID != b.ItemID {
			if a.ItemID < b.ItemID {
				return -1
			}
			return 1
		}
		switch {
		case a.RecipientID < b.RecipientID:
			return -1
		case a.RecipientID > b.RecipientID:
			return 1
		}
		return 0
	})
	return out
}

// SetFeedLimits pins limits for a feed.
func (m *Memory) SetFeedLimits(feedID string, l news.FeedLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[feedID] = l
	if m.onChange != nil {
		m.onChange(journalEntry{Kind: entryFeed, FeedID: feedID, Feed: &l})
	}
}

func (m *Memory) FeedLimits(_ context.Context, feedID string) (news.FeedLimits, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.feeds[feedID]
	return l, ok, nil
}

// PutTranslation pins the id of an item translation.
func (m *Memory) PutTranslation(itemID, language string, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putTranslationLocked(itemID, language, id)
	if m.onChange != nil {
		m.onChange(journalEntry{Kind: entryTranslation, ItemID: itemID, Language: language, TranslationID: id})
	}
}

func (m *Memory) putTranslationLocked(itemID, language string, id int64) {
	m.translations[translationKey{itemID, language}] = id
	if id > m.nextTranslation {
		m.nextTranslation = id
	}
}

func (m *Memory) TranslationID(_ context.Context, itemID, language string) (int64, bool, error) {
	if itemID == "" || language == "" {
		return 0, false, nil
	}
	k := translationKey{itemID, language}

	m.mu.RLock()
	id, ok := m.translations[k]
	m.mu.RUnlock()
	if ok {
		return id, true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.translations[k]; ok {
		return id, true, nil
	}
	m.nextTranslation++
	id = m.nextTranslation
	m.translations[k] = id
	if m.onChange != nil {
		m.onChange(journalEntry{Kind: entryTranslation, ItemID: itemID, Language: language, TranslationID: id})
	}
	return id, true, nil
}

func (m *Memory) SubscribersFor(_ context.Context, category string) ([]news.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]news.Subscriber, 0, 8)
	for _, p := range m.prefs {
		if !p.Matches(category) {
			continue
		}
		lang := p.Language
		if lang == "" {
			lang = news.DefaultLanguage
		}
		out = append(out, news.Subscriber{UserID: p.UserID, Language: lang})
	}
	slices.SortFunc(out, func(a, b news.Subscriber) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *Memory) RemoveSubscriber(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prefs, userID)
	if m.onChange != nil {
		m.onChange(journalEntry{Kind: entryRemoveUser, UserID: userID})
	}
	return nil
}

func (m *Memory) Preferences(_ context.Context, userID int64) (news.Preferences, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return news.Preferences{}, false, nil
	}
	p.Subscriptions = slices.Clone(p.Subscriptions)
	return p, true, nil
}

func (m *Memory) SavePreferences(_ context.Context, p news.Preferences) error {
	p.Subscriptions = slices.Clone(p.Subscriptions)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.UserID] = p
	if m.onChange != nil {
		cp := p
		m.onChange(journalEntry{Kind: entryPreferences, Preferences: &cp})
	}
	return nil
}
