package delivery

import (
	"context"
	"strconv"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"firefeed/internal/news"
)

// CapsConfig sizes the concurrency governor.
type CapsConfig struct {
	ChannelSends  int
	PersonalSends int
	ItemPrep      int
	// SendsPerSecond paces every platform call; <= 0 disables pacing.
	SendsPerSecond float64
	Burst          int
}

func (c CapsConfig) withDefaults() CapsConfig {
	if c.ChannelSends <= 0 {
		c.ChannelSends = 5
	}
	if c.PersonalSends <= 0 {
		c.PersonalSends = 5
	}
	if c.ItemPrep <= 0 {
		c.ItemPrep = 10
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// Caps bounds outbound concurrency: one cap per recipient kind plus one for item preparation.
type Caps struct {
	channel  *semaphore.Weighted
	personal *semaphore.Weighted
	items    *semaphore.Weighted
	limiter  *rate.Limiter
}

func NewCaps(cfg CapsConfig) *Caps {
	cfg = cfg.withDefaults()
	lim := rate.NewLimiter(rate.Inf, cfg.Burst)
	if cfg.SendsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.SendsPerSecond), cfg.Burst)
	}
	return &Caps{
		channel:  semaphore.NewWeighted(int64(cfg.ChannelSends)),
		personal: semaphore.NewWeighted(int64(cfg.PersonalSends)),
		items:    semaphore.NewWeighted(int64(cfg.ItemPrep)),
		limiter:  lim,
	}
}

// AcquireSend takes a send slot for kind and waits for the global pacer.
func (c *Caps) AcquireSend(ctx context.Context, kind news.RecipientKind) (func(), error) {
	sem := c.personal
	if kind == news.RecipientChannel {
		sem = c.channel
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		sem.Release(1)
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}

// AcquireItem takes an item preparation slot.
func (c *Caps) AcquireItem(ctx context.Context) (func(), error) {
	if err := c.items.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { c.items.Release(1) }, nil
}

// SetSendRate changes the global pacer live.
func (c *Caps) SetSendRate(perSecond float64, burst int) {
	if burst <= 0 {
		burst = 1
	}
	c.limiter.SetBurst(burst)
	if perSecond <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Limit(perSecond))
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
