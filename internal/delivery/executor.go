package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"firefeed/internal/news"
	"firefeed/internal/transport"
	logx "firefeed/pkg/logx"
)

// Outcome of one Deliver call.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

const ReasonBlocked = "blocked"

// Target is one recipient: a language channel or a subscribed user.
type Target struct {
	Kind     news.RecipientKind
	ChatID   int64
	Language string
}

// Result reports what Deliver did.
type Result struct {
	Outcome   Outcome
	MessageID int
	Reason    string
	Err       error
	Attempts  int
	// TextFallback is set when media was dropped (validation or bad content).
	TextFallback bool
}

// SubscriberRemover forgets users that blocked the bot.
type SubscriberRemover interface {
	RemoveSubscriber(ctx context.Context, userID int64) error
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	// FloodBuffer is added to the platform's flood wait.
	FloodBuffer  time.Duration
	CaptionLimit int
	// TextLimit bounds text messages so that one send is one platform call.
	TextLimit    int
	Retry        RetryPolicy
}

// Executor sends messages with media fallback and retries.
type Executor struct {
	msgr   transport.Messenger
	caps   *Caps
	images ImageChecker
	subs   SubscriberRemover
	log    logx.Logger

	floodBuffer  time.Duration
	captionLimit int
	textLimit    int
	retry        RetryPolicy
	sleep        Sleeper
}

type ExecutorOption func(*Executor)

// WithImageChecker enables image validation before attaching.
func WithImageChecker(c ImageChecker) ExecutorOption {
	return func(e *Executor) { e.images = c }
}

// WithSubscriberRemover is called for blocked personal recipients.
func WithSubscriberRemover(r SubscriberRemover) ExecutorOption {
	return func(e *Executor) { e.subs = r }
}

// WithSleeper replaces the wall-clock sleep used for flood waits and backoff.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

func WithExecutorLogger(log logx.Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

func NewExecutor(msgr transport.Messenger, caps *Caps, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	if cfg.FloodBuffer < 0 {
		cfg.FloodBuffer = 0
	}
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = DefaultCaptionLimit
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = DefaultTextLimit
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if caps == nil {
		caps = NewCaps(CapsConfig{})
	}
	e := &Executor{
		msgr:         msgr,
		caps:         caps,
		log:          logx.Nop(),
		floodBuffer:  cfg.FloodBuffer,
		captionLimit: cfg.CaptionLimit,
		textLimit:    cfg.TextLimit,
		retry:        cfg.Retry,
		sleep:        SleepContext,
	}
	for _, o := range opts {
		o(e)
	}
	if e.retry.Sleep == nil {
		e.retry.Sleep = e.sleep
	}
	return e
}

// Deliver sends msg to t, attaching media when possible.
func (e *Executor) Deliver(ctx context.Context, t Target, msg Message, media Media) Result {
	res := Result{}
	if media.Kind == MediaImage && e.images != nil {
		if err := e.images.CheckImage(ctx, media.URL); err != nil {
			e.log.Debug("image dropped", logx.String("url", media.URL), logx.Err(err))
			media = Media{}
			res.TextFallback = true
		}
	}
	if media.URL == "" {
		media = Media{}
	}

	blocked := false
	attempts, err := e.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		id, fellBack, err := e.attempt(ctx, t, msg, media)
		if fellBack {
			res.TextFallback = true
		}
		if err == nil {
			res.MessageID = id
			return nil
		}
		if t.Kind == news.RecipientUser && errors.Is(err, transport.ErrForbidden) {
			blocked = true
			return NoRetry(err)
		}
		e.log.Debug("send attempt failed", logx.Int64("chat_id", t.ChatID), logx.Int("attempt", attempt), logx.Err(err))
		return err
	})
	res.Attempts = attempts

	switch {
	case err == nil:
		res.Outcome = OutcomeSent
	case blocked:
		res.Outcome = OutcomeSkipped
		res.Reason = ReasonBlocked
		res.Err = err
		if e.subs != nil {
			if rerr := e.subs.RemoveSubscriber(ctx, t.ChatID); rerr != nil {
				e.log.Warn("remove blocked subscriber failed", logx.Int64("user_id", t.ChatID), logx.Err(rerr))
			}
		}
	default:
		res.Outcome = OutcomeFailed
		res.Err = err
	}
	return res
}

// attempt is one pass of the send sequence: media send, one inline flood retry,
// then one plain-text retry when the platform rejects the media.
func (e *Executor) attempt(ctx context.Context, t Target, msg Message, media Media) (int, bool, error) {
	ref, err := e.sendOnce(ctx, t, msg, media)
	if wait, ok := transport.AsFlood(err); ok {
		e.log.Warn("flood control, waiting", logx.Int64("chat_id", t.ChatID), logx.Duration("wait", wait))
		if serr := e.sleep(ctx, wait+e.floodBuffer); serr != nil {
			return 0, false, err
		}
		ref, err = e.sendOnce(ctx, t, msg, media)
	}
	if err != nil && media.Kind != MediaNone && errors.Is(err, transport.ErrBadContent) {
		e.log.Debug("media rejected, sending as text", logx.Int64("chat_id", t.ChatID), logx.String("media", string(media.Kind)), logx.Err(err))
		ref, err = e.sendOnce(ctx, t, msg, Media{})
		if err == nil {
			return ref.MessageID, true, nil
		}
	}
	if err != nil {
		return 0, false, err
	}
	return ref.MessageID, false, nil
}

func (e *Executor) sendOnce(ctx context.Context, t Target, msg Message, media Media) (transport.MessageRef, error) {
	release, err := e.caps.AcquireSend(ctx, t.Kind)
	if err != nil {
		return transport.MessageRef{}, err
	}
	defer release()

	to := transport.ChatTarget{ChatID: t.ChatID}
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: t.Kind == news.RecipientUser}
	switch media.Kind {
	case MediaImage:
		return e.msgr.SendPhoto(ctx, to, media.URL, msg.Caption(e.captionLimit), opt)
	case MediaVideo:
		return e.msgr.SendVideo(ctx, to, media.URL, msg.Caption(e.captionLimit), opt)
	case MediaNone:
		return e.msgr.SendText(ctx, to, msg.Text(e.textLimit), opt)
	}
	return transport.MessageRef{}, NoRetry(fmt.Errorf("unknown media kind %q", media.Kind))
}
