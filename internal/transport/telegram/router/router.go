// Package router turns inbound chat messages into user commands.
package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "firefeed/internal/runtime/supervisor"
	kit "firefeed/internal/transport"
	logx "firefeed/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// TextHandler receives plain (non-command) messages, e.g. answers to a
// pending workflow step. It reports whether it consumed the message.
type TextHandler func(ctx context.Context, req *Request) (bool, error)

type Request struct {
	Update   kit.Update
	Chat     kit.ChatTarget
	FromID   int64
	Command  string
	Args     []string
	Text     string
	ReqID    string
	Private  bool
	Language string // client language hint

	Messenger kit.Messenger
	Logger    logx.Logger
}

// Reply sends an HTML reply to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Messenger.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	order []string
	text  TextHandler

	log       logx.Logger
	messenger kit.Messenger

	defaultTimeout time.Duration

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func New(log logx.Logger, messenger kit.Messenger, defaultTimeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 15 * time.Second
	}
	return &Router{
		cmds:           map[string]*Command{},
		alias:          map[string]*Command{},
		log:            log.With(logx.String("comp", "telegram.router")),
		messenger:      messenger,
		defaultTimeout: defaultTimeout,
		jobs:           make(chan func(), 256),
	}
}

// Supervisor returns the worker pool supervisor, nil when not running.
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// SetRegistry replaces the command set and the plain-text handler. /help is
// always added. The platform command menu is refreshed in the background.
func (r *Router) SetRegistry(ctx context.Context, cmds []Command, text TextHandler) {
	reg := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(cmds)+1)

	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help [command]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText(req.Args))
		},
	})
	for _, c := range cmds {
		name := sanitizeTelegramCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		if _, dup := reg[name]; !dup {
			order = append(order, name)
		}
		reg[name] = &cc
		for _, a := range c.Aliases {
			if a = sanitizeTelegramCommand(a); a != "" && a != name {
				alias[a] = &cc
			}
		}
	}

	r.mu.Lock()
	r.cmds, r.alias, r.order, r.text = reg, alias, order, text
	r.mu.Unlock()

	if up, ok := r.messenger.(kit.CommandMenuUpdater); ok {
		menu := r.menuCommands()
		go func() {
			mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

func (r *Router) lookup(word string) *Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[word]; ok {
		return c
	}
	return r.alias[word]
}

// DispatchLoop consumes updates until ctx ends or updates closes.
// Handlers run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	for i := range workers {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", i), logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		r.setSupervisor(nil, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	req := &Request{
		Update:    up,
		Chat:      kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:    msg.FromID,
		Text:      text,
		ReqID:     newReqID(),
		Private:   msg.IsPrivate,
		Language:  msg.FromLanguage,
		Messenger: r.messenger,
	}

	if !strings.HasPrefix(text, "/") {
		r.mu.RLock()
		th := r.text
		r.mu.RUnlock()
		if th == nil || !msg.IsPrivate {
			return
		}
		req.Command = "text"
		req.Logger = r.requestLogger(req)
		h := func(ctx context.Context, req *Request) error {
			_, err := th(ctx, req)
			return err
		}
		r.enqueue(ctx, req, Chain(h, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(r.defaultTimeout)))
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd := r.lookup(word)
	if cmd == nil {
		_ = req.Reply(ctx, "Unknown command. Try /help")
		return
	}
	req.Command = cmd.Name
	req.Args = parts[1:]
	req.Logger = r.requestLogger(req)

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	r.enqueue(ctx, req, Chain(cmd.Handle, MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(timeout)))
}

func (r *Router) requestLogger(req *Request) logx.Logger {
	return r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc) {
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		_ = req.Reply(ctx, "Busy, try again in a moment.")
	}
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
