package delivery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"firefeed/internal/news"
	"firefeed/internal/storage"
)

const (
	ReasonQuota    = "quota exceeded"
	ReasonCooldown = "cooldown"
)

// ChannelStatsReader is the part of the ledger the governor needs.
type ChannelStatsReader interface {
	ChannelStats(ctx context.Context, feedID string, since time.Time) (news.ChannelStats, error)
}

// Decision is the outcome of one rate check.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Limits     news.FeedLimits
	// Count is the number of channel publications inside the cooldown window.
	Count int
}

// RateGovernor decides whether a source may publish to channels right now.
// State is derived from the ledger on every call; nothing is cached.
type RateGovernor struct {
	feeds    storage.FeedDirectory
	stats    ChannelStatsReader
	defaults atomic.Pointer[news.FeedLimits]
	now      func() time.Time
}

type RateOption func(*RateGovernor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RateOption {
	return func(g *RateGovernor) {
		if now != nil {
			g.now = now
		}
	}
}

// WithDefaultLimits sets the limits used for feeds without their own.
func WithDefaultLimits(l news.FeedLimits) RateOption {
	return func(g *RateGovernor) { g.SetDefaultLimits(l) }
}

func NewRateGovernor(feeds storage.FeedDirectory, stats ChannelStatsReader, opts ...RateOption) *RateGovernor {
	g := &RateGovernor{
		feeds: feeds,
		stats: stats,
		now:   time.Now,
	}
	g.SetDefaultLimits(news.DefaultFeedLimits())
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetDefaultLimits replaces the fallback limits; used on config reload.
func (g *RateGovernor) SetDefaultLimits(l news.FeedLimits) {
	g.defaults.Store(&l)
}

// Limits resolves the limits of feedID, falling back to the defaults.
func (g *RateGovernor) Limits(ctx context.Context, feedID string) (news.FeedLimits, error) {
	l := *g.defaults.Load()
	if g.feeds != nil && feedID != "" && feedID != news.NoFeed {
		got, ok, err := g.feeds.FeedLimits(ctx, feedID)
		if err != nil {
			return l, fmt.Errorf("feed limits %s: %w", feedID, err)
		}
		if ok {
			l = got
		}
	}
	if l.MaxPerHour <= 0 {
		return l, fmt.Errorf("%w: feed %s has max_per_hour=%d", ErrInvalidLimits, feedID, l.MaxPerHour)
	}
	if l.CooldownMinutes < 0 {
		l.CooldownMinutes = 0
	}
	return l, nil
}

// MayPublish evaluates the quota and spacing rules for feedID at the current instant.
func (g *RateGovernor) MayPublish(ctx context.Context, feedID string) (Decision, error) {
	limits, err := g.Limits(ctx, feedID)
	if err != nil {
		return Decision{Limits: limits}, err
	}

	now := g.now()
	cooldown := time.Duration(limits.CooldownMinutes) * time.Minute
	st, err := g.stats.ChannelStats(ctx, feedID, now.Add(-cooldown))
	if err != nil {
		return Decision{Limits: limits}, fmt.Errorf("channel stats %s: %w", feedID, err)
	}

	d := Decision{Limits: limits, Count: st.Count}
	if st.Count >= limits.MaxPerHour {
		d.Reason = ReasonQuota
		if !st.LastSent.IsZero() {
			d.RetryAfter = max(st.LastSent.Add(cooldown).Sub(now), 0)
		}
		return d, nil
	}

	effective := min(PacingPause(limits), cooldown)
	if !st.LastSent.IsZero() {
		if elapsed := now.Sub(st.LastSent); elapsed < effective {
			d.Reason = ReasonCooldown
			d.RetryAfter = effective - elapsed
			return d, nil
		}
	}
	d.Allowed = true
	return d, nil
}

// PacingPause is the minimum interval between two publications of one feed.
func PacingPause(l news.FeedLimits) time.Duration {
	if l.MaxPerHour <= 0 {
		return 0
	}
	return time.Hour / time.Duration(l.MaxPerHour)
}
