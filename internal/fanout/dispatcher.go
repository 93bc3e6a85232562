// Package fanout runs ingestion cycles: fetch undelivered items, group them by
// feed and hand every item to its channels and subscribers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"firefeed/internal/delivery"
	"firefeed/internal/eventbus"
	"firefeed/internal/news"
	"firefeed/internal/storage"
	logx "firefeed/pkg/logx"
)

// ErrCycleRunning is returned by Trigger while another cycle is in progress.
var ErrCycleRunning = errors.New("fanout cycle already running")

// ledgerWriteTimeout bounds the ledger write that follows a successful send.
const ledgerWriteTimeout = 10 * time.Second

// Deps are the collaborators of a Dispatcher, built once per process.
type Deps struct {
	Source      ItemSource
	Ledger      storage.Ledger
	Subscribers storage.SubscriberDirectory
	Selector    *delivery.Selector
	Governor    *delivery.RateGovernor
	Executor    *delivery.Executor
	Locks       *delivery.Locks
	Caps        *delivery.Caps
	Bus         eventbus.Bus
	Metrics     *Metrics
	Log         logx.Logger

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep delivery.Sleeper
}

type Dispatcher struct {
	d   Deps
	cfg atomic.Pointer[Config]
	log logx.Logger

	busy atomic.Bool
	last atomic.Pointer[Report]
}

func New(cfg Config, deps Deps) (*Dispatcher, error) {
	if deps.Source == nil || deps.Ledger == nil || deps.Selector == nil || deps.Governor == nil || deps.Executor == nil {
		return nil, errors.New("fanout: source, ledger, selector, governor and executor are required")
	}
	if deps.Locks == nil {
		deps.Locks = delivery.NewLocks()
	}
	if deps.Caps == nil {
		deps.Caps = delivery.NewCaps(delivery.CapsConfig{})
	}
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = delivery.SleepContext
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	dp := &Dispatcher{d: deps, log: log.With(logx.String("comp", "fanout"))}
	dp.SetConfig(cfg)
	return dp, nil
}

// SetConfig swaps the configuration; running cycles keep the one they started with.
func (dp *Dispatcher) SetConfig(cfg Config) {
	cfg = cfg.withDefaults()
	cfg.Channels = maps.Clone(cfg.Channels)
	cfg.ChannelCategories = slices.Clone(cfg.ChannelCategories)
	dp.cfg.Store(&cfg)
}

// LastReport returns the report of the most recent finished cycle.
func (dp *Dispatcher) LastReport() (Report, bool) {
	r := dp.last.Load()
	if r == nil {
		return Report{}, false
	}
	return *r, true
}

// Running reports whether a triggered cycle is in progress.
func (dp *Dispatcher) Running() bool { return dp.busy.Load() }

// Trigger runs a cycle unless one started by Trigger is still running.
func (dp *Dispatcher) Trigger(ctx context.Context) (Report, error) {
	if !dp.busy.CompareAndSwap(false, true) {
		return Report{}, ErrCycleRunning
	}
	defer dp.busy.Store(false)
	return dp.RunCycle(ctx)
}

// cycle carries per-run state.
type cycle struct {
	id     string
	cfg    *Config
	report Report
	mu     sync.Mutex

	channelCats map[string]bool
	subscribers map[string][]news.Subscriber
	// blocked users are not contacted again in this cycle.
	blocked map[int64]bool
}

func (c *cycle) count(fn func(r *Report)) {
	c.mu.Lock()
	fn(&c.report)
	c.mu.Unlock()
}

// RunCycle performs one fetch-and-dispatch pass. Overlapping calls are safe:
// locks and the ledger keep deliveries at most once.
func (dp *Dispatcher) RunCycle(ctx context.Context) (Report, error) {
	cfg := dp.cfg.Load()
	c := &cycle{id: uuid.NewString(), cfg: cfg, blocked: map[int64]bool{}}
	c.report.CycleID = c.id
	c.report.StartedAt = dp.d.Now()
	start := time.Now()
	log := dp.log.With(logx.String("cycle_id", c.id))

	dp.d.Metrics.running(1)
	defer dp.d.Metrics.running(-1)

	finish := func(err error) (Report, error) {
		c.mu.Lock()
		c.report.Duration = time.Since(start)
		if err != nil {
			c.report.Error = err.Error()
		}
		rep := c.report
		c.mu.Unlock()

		result := "ok"
		if err != nil {
			result = "error"
		}
		dp.d.Metrics.cycle(result, rep.Duration)
		dp.last.Store(&rep)
		dp.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeCycleDone, Data: rep})
		lvl := log.Info
		if rep.Items == 0 && err == nil {
			lvl = log.Debug
		}
		lvl("fanout cycle done",
			logx.Int("items", rep.Items),
			logx.Int("channel_sent", rep.ChannelSent),
			logx.Int("channel_denied", rep.ChannelDenied),
			logx.Int("personal_sent", rep.PersonalSent),
			logx.Int("failed", rep.Failed),
			logx.Int("ledger_errors", rep.LedgerErrors),
			logx.Duration("took", rep.Duration),
			logx.Err(err),
		)
		return rep, err
	}

	// FETCH
	filter := news.ItemFilter{Limit: cfg.BatchLimit, OriginalLanguage: cfg.OriginalLanguage}
	if cfg.MaxAge > 0 {
		filter.FromDate = dp.d.Now().Add(-cfg.MaxAge)
	}
	items, err := dp.d.Source.ListUndelivered(ctx, filter)
	if err != nil {
		return finish(fmt.Errorf("list undelivered: %w", err))
	}
	dp.d.Metrics.fetched(len(items))
	c.report.Items = len(items)
	if len(items) == 0 {
		return finish(nil)
	}

	// GROUP
	order, groups, categories := groupByFeed(items)
	c.report.Feeds = len(order)

	// WARM_CACHES
	dp.warm(ctx, c, categories, log)

	// DISPATCH_PER_ITEM: per feed, channel posts and personal sends run as two
	// ordered chains so channel pacing never holds back subscribers.
	var g errgroup.Group
	for _, feed := range order {
		group := groups[feed]
		g.Go(func() error {
			for _, it := range group {
				if ctx.Err() != nil {
					return nil
				}
				if c.channelCats[it.Category] {
					dp.channelBranch(ctx, c, it, itemLog(log, it))
				}
			}
			return nil
		})
		g.Go(func() error {
			for _, it := range group {
				subs := c.subscribers[it.Category]
				if len(subs) == 0 {
					continue
				}
				release, err := dp.d.Caps.AcquireItem(ctx)
				if err != nil {
					return nil
				}
				dp.personalBranch(ctx, c, it, subs, itemLog(log, it))
				release()
			}
			return nil
		})
	}
	_ = g.Wait()

	return finish(ctx.Err())
}

func groupByFeed(items []news.PreparedItem) ([]string, map[string][]news.PreparedItem, []string) {
	var order, categories []string
	groups := map[string][]news.PreparedItem{}
	seenCat := map[string]bool{}
	for _, it := range items {
		k := it.FeedKey()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
		if !seenCat[it.Category] {
			seenCat[it.Category] = true
			categories = append(categories, it.Category)
		}
	}
	return order, groups, categories
}

func (dp *Dispatcher) warm(ctx context.Context, c *cycle, categories []string, log logx.Logger) {
	c.channelCats = map[string]bool{}
	c.subscribers = map[string][]news.Subscriber{}
	for _, cat := range categories {
		c.channelCats[cat] = len(c.cfg.Channels) > 0 && slices.Contains(c.cfg.ChannelCategories, cat)
		if dp.d.Subscribers == nil {
			continue
		}
		subs, err := dp.d.Subscribers.SubscribersFor(ctx, cat)
		if err != nil {
			log.Warn("subscriber fetch failed", logx.String("category", cat), logx.Err(err))
			continue
		}
		c.subscribers[cat] = subs
	}
}

func itemLog(log logx.Logger, it news.PreparedItem) logx.Logger {
	return log.With(logx.String("item_id", it.ID), logx.String("feed_id", it.FeedKey()))
}

// channelBranch posts it to every language channel under the feed's source
// lock. The pacing pause keeps the lock but gives the item slot back.
func (dp *Dispatcher) channelBranch(ctx context.Context, c *cycle, it news.PreparedItem, log logx.Logger) {
	feed := it.FeedKey()
	unlock, err := dp.d.Locks.Sources.Lock(ctx, feed)
	if err != nil {
		return
	}
	defer unlock()

	release, err := dp.d.Caps.AcquireItem(ctx)
	if err != nil {
		return
	}
	sent, limits := dp.postChannels(ctx, c, it, log)
	release()
	if sent == 0 || !c.cfg.SelfPacing {
		return
	}
	if pause := delivery.PacingPause(limits); pause > 0 {
		log.Debug("pacing feed", logx.Duration("pause", pause))
		_ = dp.d.Sleep(ctx, pause)
	}
}

// postChannels runs the rate check and the per-language sends. It returns the
// number of channels that received the item and the limits it was checked against.
func (dp *Dispatcher) postChannels(ctx context.Context, c *cycle, it news.PreparedItem, log logx.Logger) (int, news.FeedLimits) {
	feed := it.FeedKey()
	media := delivery.PickMedia(c.cfg.MediaPriority, it)

	dec, err := dp.d.Governor.MayPublish(ctx, feed)
	if err != nil {
		log.Error("rate check failed", logx.Err(err))
		c.count(func(r *Report) { r.Failed++ })
		return 0, news.FeedLimits{}
	}
	if !dec.Allowed {
		log.Debug("channel publication deferred", logx.String("reason", dec.Reason), logx.Duration("retry_after", dec.RetryAfter), logx.Int("count", dec.Count))
		dp.d.Metrics.denied(dec.Reason)
		c.count(func(r *Report) { r.ChannelDenied++ })
		return 0, dec.Limits
	}

	langs := make([]string, 0, len(c.cfg.Channels))
	for lang := range c.cfg.Channels {
		langs = append(langs, lang)
	}
	slices.Sort(langs)

	sent := 0
	for _, lang := range langs {
		if ctx.Err() != nil {
			break
		}
		chatID := c.cfg.Channels[lang]
		sel, ok, err := dp.d.Selector.Select(ctx, it, lang)
		if err != nil {
			log.Warn("content selection failed", logx.String("lang", lang), logx.Err(err))
		}
		if !ok {
			dp.d.Metrics.skippedIneligible(news.RecipientChannel)
			c.count(func(r *Report) { r.Ineligible++ })
			continue
		}
		if sent > 0 && c.cfg.ChannelPause > 0 {
			if dp.d.Sleep(ctx, c.cfg.ChannelPause) != nil {
				break
			}
		}

		key := news.Key{ItemID: it.ID, TranslationID: sel.TranslationID, Kind: news.RecipientChannel, RecipientID: chatID}
		done, err := dp.d.Ledger.AlreadySent(ctx, key)
		if err != nil {
			dp.ledgerFailure(c, log, "already sent check", err)
			c.count(func(r *Report) { r.Failed++ })
			continue
		}
		if done {
			c.count(func(r *Report) { r.Duplicates++ })
			continue
		}

		msg := delivery.NewMessage(delivery.LayoutChannel, sel, it.SourceURL, it.SourceName, it.Category, it.OriginalLanguage)
		res := dp.d.Executor.Deliver(ctx, delivery.Target{Kind: news.RecipientChannel, ChatID: chatID, Language: lang}, msg, media)
		if dp.settle(ctx, c, it, key, lang, res, log) {
			sent++
		}
	}
	return sent, dec.Limits
}

func (dp *Dispatcher) personalBranch(ctx context.Context, c *cycle, it news.PreparedItem, subs []news.Subscriber, log logx.Logger) {
	media := delivery.PickMedia(c.cfg.MediaPriority, it)
	attempted := false
	for _, sub := range subs {
		if ctx.Err() != nil {
			return
		}
		if attempted && c.cfg.PersonalPause > 0 {
			if dp.d.Sleep(ctx, c.cfg.PersonalPause) != nil {
				return
			}
		}
		attempted = dp.deliverPersonal(ctx, c, it, sub, media, log)
	}
}

// deliverPersonal reports whether a platform send was attempted.
func (dp *Dispatcher) deliverPersonal(ctx context.Context, c *cycle, it news.PreparedItem, sub news.Subscriber, media delivery.Media, log logx.Logger) bool {
	c.mu.Lock()
	blocked := c.blocked[sub.UserID]
	c.mu.Unlock()
	if blocked {
		return false
	}

	lang := sub.Language
	if lang == "" {
		lang = news.DefaultLanguage
	}
	sel, ok, err := dp.d.Selector.Select(ctx, it, lang)
	if err != nil {
		log.Warn("content selection failed", logx.Int64("user_id", sub.UserID), logx.String("lang", lang), logx.Err(err))
	}
	if !ok {
		dp.d.Metrics.skippedIneligible(news.RecipientUser)
		c.count(func(r *Report) { r.Ineligible++ })
		return false
	}

	key := news.Key{ItemID: it.ID, TranslationID: sel.TranslationID, Kind: news.RecipientUser, RecipientID: sub.UserID}
	unlock, err := dp.d.Locks.Recipients.Lock(ctx, delivery.RecipientLockKey(key))
	if err != nil {
		return false
	}
	defer unlock()

	done, err := dp.d.Ledger.AlreadySent(ctx, key)
	if err != nil {
		dp.ledgerFailure(c, log, "already sent check", err)
		c.count(func(r *Report) { r.Failed++ })
		return false
	}
	if done {
		c.count(func(r *Report) { r.Duplicates++ })
		return false
	}

	msg := delivery.NewMessage(delivery.LayoutPersonal, sel, it.SourceURL, it.SourceName, it.Category, it.OriginalLanguage)
	res := dp.d.Executor.Deliver(ctx, delivery.Target{Kind: news.RecipientUser, ChatID: sub.UserID, Language: lang}, msg, media)
	dp.settle(ctx, c, it, key, lang, res, log)
	return true
}

// settle records the outcome of one delivery: ledger, counters, metrics and events.
// It reports whether the message went out.
func (dp *Dispatcher) settle(ctx context.Context, c *cycle, it news.PreparedItem, key news.Key, lang string, res delivery.Result, log logx.Logger) bool {
	dp.d.Metrics.delivery(key.Kind, res.Outcome)
	ev := DeliveryEvent{
		CycleID:     c.id,
		ItemID:      it.ID,
		FeedID:      it.FeedKey(),
		Kind:        string(key.Kind),
		RecipientID: key.RecipientID,
		Language:    lang,
		MessageID:   res.MessageID,
		Reason:      res.Reason,
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}

	switch res.Outcome {
	case delivery.OutcomeSent:
		now := dp.d.Now()
		rec := news.Record{Key: key, FeedID: it.FeedKey(), MessageID: res.MessageID, Language: lang, SentAt: now, UpdatedAt: now}
		// The platform already accepted the message: the row must be written even
		// when the cycle is cancelled or timed out in the meantime.
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
		err := dp.d.Ledger.MarkSent(wctx, rec)
		cancel()
		if err != nil {
			dp.ledgerFailure(c, log, "mark sent", err)
		}
		c.count(func(r *Report) {
			if key.Kind == news.RecipientChannel {
				r.ChannelSent++
			} else {
				r.PersonalSent++
			}
		})
		dp.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySent, Data: ev})
		return true

	case delivery.OutcomeSkipped:
		c.count(func(r *Report) { r.Skipped++ })
		dp.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeDeliverySkipped, Data: ev})
		if res.Reason == delivery.ReasonBlocked {
			c.mu.Lock()
			c.blocked[key.RecipientID] = true
			c.mu.Unlock()
			log.Info("subscriber blocked the bot, removed", logx.Int64("user_id", key.RecipientID))
			dp.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeSubscriberRemoved, Data: ev})
		}

	default:
		c.count(func(r *Report) { r.Failed++ })
		log.Warn("delivery failed",
			logx.String("kind", string(key.Kind)),
			logx.Int64("recipient_id", key.RecipientID),
			logx.String("lang", lang),
			logx.Int("attempts", res.Attempts),
			logx.Err(res.Err),
		)
		dp.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryFailed, Data: ev})
	}
	return false
}

// ledgerFailure records a ledger error. The caller counts the delivery itself.
func (dp *Dispatcher) ledgerFailure(c *cycle, log logx.Logger, op string, err error) {
	dp.d.Metrics.ledgerError()
	c.count(func(r *Report) { r.LedgerErrors++ })
	log.Error("ledger "+op+" failed", logx.Err(err))
}
