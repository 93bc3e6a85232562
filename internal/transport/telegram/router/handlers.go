package router

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"firefeed/internal/delivery"
	"firefeed/internal/fanout"
	"firefeed/internal/news"
	"firefeed/internal/storage"
	"firefeed/pkg/tgui"
)

// Workflow states and menus recorded in the session store.
const (
	StateAwaitCategories = "await_categories"
	MenuSettings         = "settings"
)

// SessionPort is the slice of the session store the commands use.
type SessionPort interface {
	Language(ctx context.Context, userID int64) (string, error)
	SetLanguage(ctx context.Context, userID int64, lang string) error
	State(ctx context.Context, userID int64) (string, error)
	SetState(ctx context.Context, userID int64, state string) error
	SetMenu(ctx context.Context, userID int64, menu string) error
}

// ReportSource exposes the last fanout cycle report.
type ReportSource interface {
	LastReport() (fanout.Report, bool)
}

// Handlers implements the user commands.
type Handlers struct {
	Sessions SessionPort
	Prefs    storage.PreferenceStore
	Reports  ReportSource
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{Name: "start", Description: "register and subscribe to all news", Usage: "/start", Handle: h.start},
		{Name: "language", Aliases: []string{"lang"}, Description: "show or change your language", Usage: "/language [code]", Handle: h.language},
		{Name: "subscribe", Aliases: []string{"sub"}, Description: "choose news categories", Usage: "/subscribe [category ...|all]", Handle: h.subscribe},
		{Name: "unsubscribe", Aliases: []string{"unsub"}, Description: "drop categories or everything", Usage: "/unsubscribe [category ...|all]", Handle: h.unsubscribe},
		{Name: "settings", Description: "show your settings", Usage: "/settings", Handle: h.settings},
		{Name: "status", Description: "last delivery cycle", Usage: "/status", Timeout: 5 * time.Second, Handle: h.status},
	}
}

// Text answers a pending workflow step. Messages outside a workflow are ignored.
func (h *Handlers) Text(ctx context.Context, req *Request) (bool, error) {
	state, err := h.Sessions.State(ctx, req.FromID)
	if err != nil || state != StateAwaitCategories {
		return false, err
	}
	cats := parseCategories([]string{req.Text})
	if len(cats) == 0 {
		return true, req.Reply(ctx, "Send at least one category, e.g. <code>technology, world</code>, or <code>all</code>.")
	}
	if err := h.saveSubscriptions(ctx, req.FromID, cats); err != nil {
		return true, err
	}
	if err := h.Sessions.SetState(ctx, req.FromID, ""); err != nil {
		return true, err
	}
	return true, req.Reply(ctx, "✅ Subscribed to: "+tgui.Esc(strings.Join(cats, ", ")).String())
}

func (h *Handlers) preferences(ctx context.Context, userID int64) (news.Preferences, bool, error) {
	p, ok, err := h.Prefs.Preferences(ctx, userID)
	if err != nil {
		return news.Preferences{}, false, fmt.Errorf("load preferences %d: %w", userID, err)
	}
	if !ok {
		p = news.Preferences{UserID: userID}
	}
	if p.Language == "" {
		p.Language = news.DefaultLanguage
	}
	return p, ok, nil
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	p, known, err := h.preferences(ctx, req.FromID)
	if err != nil {
		return err
	}
	if !known {
		if hint := strings.ToLower(req.Language); slices.Contains(delivery.Languages(), hint) {
			p.Language = hint
		}
		p.Subscriptions = []string{news.AllCategories}
		if err := h.Prefs.SavePreferences(ctx, p); err != nil {
			return fmt.Errorf("save preferences %d: %w", req.FromID, err)
		}
		req.Logger.Info("user registered")
	}
	return req.Reply(ctx, strings.Join([]string{
		"👋 <b>Welcome!</b>",
		"You will receive news in <b>" + tgui.Esc(p.Language).String() + "</b>.",
		"Use /subscribe to pick categories and /language to switch language.",
	}, "\n"))
}

func (h *Handlers) language(ctx context.Context, req *Request) error {
	supported := delivery.Languages()
	if len(req.Args) == 0 {
		cur, err := h.Sessions.Language(ctx, req.FromID)
		if err != nil {
			return err
		}
		return req.Reply(ctx, fmt.Sprintf("🌐 Current language: <b>%s</b>\nAvailable: %s",
			tgui.Esc(cur), tgui.Esc(strings.Join(supported, ", "))))
	}
	lang := strings.ToLower(strings.TrimSpace(req.Args[0]))
	if !slices.Contains(supported, lang) {
		return req.Reply(ctx, "Unsupported language. Available: "+tgui.Esc(strings.Join(supported, ", ")).String())
	}
	if err := h.Sessions.SetLanguage(ctx, req.FromID, lang); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Language set to <b>"+lang+"</b>")
}

func (h *Handlers) subscribe(ctx context.Context, req *Request) error {
	cats := parseCategories(req.Args)
	if len(cats) == 0 {
		if err := h.Sessions.SetState(ctx, req.FromID, StateAwaitCategories); err != nil {
			return err
		}
		return req.Reply(ctx, "Which categories? Reply with a list such as <code>technology, world</code> or <code>all</code>.")
	}
	if err := h.saveSubscriptions(ctx, req.FromID, cats); err != nil {
		return err
	}
	return req.Reply(ctx, "✅ Subscribed to: "+tgui.Esc(strings.Join(cats, ", ")).String())
}

// saveSubscriptions replaces the subscription list; "all" absorbs everything else.
func (h *Handlers) saveSubscriptions(ctx context.Context, userID int64, cats []string) error {
	if slices.Contains(cats, news.AllCategories) {
		cats = []string{news.AllCategories}
	}
	p, _, err := h.preferences(ctx, userID)
	if err != nil {
		return err
	}
	p.Subscriptions = cats
	if err := h.Prefs.SavePreferences(ctx, p); err != nil {
		return fmt.Errorf("save preferences %d: %w", userID, err)
	}
	return nil
}

func (h *Handlers) unsubscribe(ctx context.Context, req *Request) error {
	p, known, err := h.preferences(ctx, req.FromID)
	if err != nil {
		return err
	}
	if !known || len(p.Subscriptions) == 0 {
		return req.Reply(ctx, "You have no subscriptions.")
	}
	cats := parseCategories(req.Args)
	if len(cats) == 0 || slices.Contains(cats, news.AllCategories) {
		p.Subscriptions = nil
	} else {
		p.Subscriptions = slices.DeleteFunc(p.Subscriptions, func(s string) bool { return slices.Contains(cats, s) })
	}
	if err := h.Prefs.SavePreferences(ctx, p); err != nil {
		return fmt.Errorf("save preferences %d: %w", req.FromID, err)
	}
	if len(p.Subscriptions) == 0 {
		return req.Reply(ctx, "🔕 Unsubscribed from everything.")
	}
	return req.Reply(ctx, "Remaining: "+tgui.Esc(strings.Join(p.Subscriptions, ", ")).String())
}

func (h *Handlers) settings(ctx context.Context, req *Request) error {
	p, _, err := h.preferences(ctx, req.FromID)
	if err != nil {
		return err
	}
	lang, err := h.Sessions.Language(ctx, req.FromID)
	if err != nil {
		lang = p.Language
	}
	if err := h.Sessions.SetMenu(ctx, req.FromID, MenuSettings); err != nil {
		req.Logger.Debug("menu not recorded")
	}
	subs := "none"
	if len(p.Subscriptions) > 0 {
		subs = strings.Join(p.Subscriptions, ", ")
	}
	return req.Reply(ctx, fmt.Sprintf("⚙️ <b>Settings</b>\nLanguage: <b>%s</b>\nCategories: %s", tgui.Esc(lang), tgui.Esc(subs)))
}

func (h *Handlers) status(ctx context.Context, req *Request) error {
	if h.Reports == nil {
		return req.Reply(ctx, "No cycle has run yet.")
	}
	r, ok := h.Reports.LastReport()
	if !ok {
		return req.Reply(ctx, "No cycle has run yet.")
	}
	lines := []string{
		"📊 <b>Last cycle</b> " + tgui.Code(r.CycleID).String(),
		"Started: " + r.StartedAt.UTC().Format(time.RFC3339) + " (" + r.Duration.Round(time.Millisecond).String() + ")",
		fmt.Sprintf("Items: %d in %d feeds", r.Items, r.Feeds),
		fmt.Sprintf("Channel: %d sent, %d deferred", r.ChannelSent, r.ChannelDenied),
		fmt.Sprintf("Personal: %d sent", r.PersonalSent),
		fmt.Sprintf("Skipped %d, duplicates %d, ineligible %d, failed %d", r.Skipped, r.Duplicates, r.Ineligible, r.Failed),
	}
	if r.Error != "" {
		lines = append(lines, "⚠️ "+tgui.Esc(r.Error).String())
	}
	return req.Reply(ctx, strings.Join(lines, "\n"))
}
