package storage

import (
	"context"
	"sync"

	"firefeed/internal/news"
)

// FeedOverrides layers statically configured feed limits over a FeedDirectory.
// Configured entries win; everything else falls through to the base directory.
type FeedOverrides struct {
	base FeedDirectory

	mu     sync.RWMutex
	limits map[string]news.FeedLimits
}

func NewFeedOverrides(base FeedDirectory, limits map[string]news.FeedLimits) *FeedOverrides {
	o := &FeedOverrides{base: base}
	o.Set(limits)
	return o
}

// Set replaces the overrides; used on config reload.
func (o *FeedOverrides) Set(limits map[string]news.FeedLimits) {
	cp := make(map[string]news.FeedLimits, len(limits))
	for k, v := range limits {
		cp[k] = v
	}
	o.mu.Lock()
	o.limits = cp
	o.mu.Unlock()
}

func (o *FeedOverrides) FeedLimits(ctx context.Context, feedID string) (news.FeedLimits, bool, error) {
	o.mu.RLock()
	l, ok := o.limits[feedID]
	o.mu.RUnlock()
	if ok {
		return l, true, nil
	}
	if o.base == nil {
		return news.FeedLimits{}, false, nil
	}
	return o.base.FeedLimits(ctx, feedID)
}
