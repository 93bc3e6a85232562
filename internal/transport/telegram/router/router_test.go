package router

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"firefeed/internal/fanout"
	"firefeed/internal/news"
	"firefeed/internal/session"
	"firefeed/internal/storage"
	kit "firefeed/internal/transport"
	logx "firefeed/pkg/logx"
)

type sentText struct {
	chat int64
	text string
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{chat: to.ChatID, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeMessenger) SendPhoto(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func (f *fakeMessenger) SendVideo(ctx context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(ctx, to, caption, opt)
}

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

type staticReports struct {
	r  fanout.Report
	ok bool
}

func (s staticReports) LastReport() (fanout.Report, bool) { return s.r, s.ok }

type harness struct {
	r     *Router
	msgr  *fakeMessenger
	store *storage.Memory
	sess  *session.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storage.NewMemory()
	sess := session.New(session.NewMemory(time.Hour), store, logx.Nop())
	msgr := &fakeMessenger{}
	r := New(logx.Nop(), msgr, time.Second)
	h := &Handlers{Sessions: sess, Prefs: store, Reports: staticReports{
		r:  fanout.Report{CycleID: "c-1", Items: 3, Feeds: 2, ChannelSent: 4},
		ok: true,
	}}
	r.SetRegistry(context.Background(), h.Commands(), h.Text)
	return &harness{r: r, msgr: msgr, store: store, sess: sess}
}

// say routes one private message from user 7 and runs the queued handler inline.
func (h *harness) say(t *testing.T, text string) string {
	t.Helper()
	h.r.route(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 7, FromID: 7, Text: text, IsPrivate: true, FromLanguage: "de",
	}})
	select {
	case job := <-h.r.jobs:
		job()
	default:
	}
	return h.msgr.last()
}

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"/subscribe tech world", []string{"/subscribe", "tech", "world"}},
		{`/subscribe "science fiction"  x`, []string{"/subscribe", "science fiction", "x"}},
		{"  ", nil},
		{`/a ''`, []string{"/a", ""}},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !slices.Equal(got, tt.want) {
			t.Fatalf("tokenize(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseCategories(t *testing.T) {
	t.Parallel()

	got := parseCategories([]string{"Tech, world", "tech", "  sport "})
	if !slices.Equal(got, []string{"tech", "world", "sport"}) {
		t.Fatalf("parseCategories=%q", got)
	}
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/Start":        "start",
		"lock-sweep":    "lock_sweep",
		"9lives":        "cmd_9lives",
		"!!!":           "",
		"a  b":          "a_b",
	}
	for in, want := range tests {
		if got := sanitizeTelegramCommand(in); got != want {
			t.Fatalf("sanitize(%q)=%q want %q", in, got, want)
		}
	}
}

func TestStartRegistersUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out := h.say(t, "/start")
	if !strings.Contains(out, "<b>de</b>") {
		t.Fatalf("reply=%q", out)
	}
	p, ok, _ := h.store.Preferences(context.Background(), 7)
	if !ok || p.Language != "de" || !slices.Equal(p.Subscriptions, []string{news.AllCategories}) {
		t.Fatalf("prefs=%+v ok=%v", p, ok)
	}

	// A second /start keeps existing settings.
	_ = h.say(t, "/subscribe tech")
	_ = h.say(t, "/start@firefeed_bot")
	p, _, _ = h.store.Preferences(context.Background(), 7)
	if !slices.Equal(p.Subscriptions, []string{"tech"}) {
		t.Fatalf("second /start reset subscriptions: %+v", p)
	}
}

func TestSubscribeWorkflow(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if out := h.say(t, "/subscribe"); !strings.Contains(out, "Which categories") {
		t.Fatalf("reply=%q", out)
	}
	if st, _ := h.sess.State(ctx, 7); st != StateAwaitCategories {
		t.Fatalf("state=%q", st)
	}
	if out := h.say(t, "technology, world"); !strings.Contains(out, "technology, world") {
		t.Fatalf("reply=%q", out)
	}
	if st, _ := h.sess.State(ctx, 7); st != "" {
		t.Fatalf("state not cleared: %q", st)
	}
	subs, _ := h.store.SubscribersFor(ctx, "world")
	if len(subs) != 1 || subs[0].UserID != 7 {
		t.Fatalf("subscribers=%+v", subs)
	}

	// Outside the workflow plain text is ignored.
	before := len(h.msgr.sent)
	_ = h.say(t, "hello")
	if len(h.msgr.sent) != before {
		t.Fatalf("plain text answered outside a workflow")
	}

	_ = h.say(t, "/unsubscribe world")
	p, _, _ := h.store.Preferences(ctx, 7)
	if !slices.Equal(p.Subscriptions, []string{"technology"}) {
		t.Fatalf("subs=%q", p.Subscriptions)
	}
	if out := h.say(t, "/unsub all"); !strings.Contains(out, "everything") {
		t.Fatalf("reply=%q", out)
	}
}

func TestLanguageAndSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	if out := h.say(t, "/language xx"); !strings.Contains(out, "Unsupported") {
		t.Fatalf("reply=%q", out)
	}
	if out := h.say(t, "/lang RU"); !strings.Contains(out, "<b>ru</b>") {
		t.Fatalf("reply=%q", out)
	}
	if lang, _ := h.sess.Language(ctx, 7); lang != "ru" {
		t.Fatalf("language=%q", lang)
	}
	out := h.say(t, "/settings")
	if !strings.Contains(out, "Language: <b>ru</b>") || !strings.Contains(out, "Categories: none") {
		t.Fatalf("settings=%q", out)
	}
	if menu, _ := h.sess.Menu(ctx, 7); menu != MenuSettings {
		t.Fatalf("menu=%q", menu)
	}
}

func TestStatusHelpAndUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if out := h.say(t, "/status"); !strings.Contains(out, "c-1") || !strings.Contains(out, "Channel: 4 sent") {
		t.Fatalf("status=%q", out)
	}
	if out := h.say(t, "/help"); !strings.Contains(out, "/subscribe") || !strings.Contains(out, "/help") {
		t.Fatalf("help=%q", out)
	}
	if out := h.say(t, "/help sub"); !strings.Contains(out, "/subscribe [category") {
		t.Fatalf("help sub=%q", out)
	}
	if out := h.say(t, "/nope"); !strings.Contains(out, "Unknown command") {
		t.Fatalf("unknown=%q", out)
	}
}
