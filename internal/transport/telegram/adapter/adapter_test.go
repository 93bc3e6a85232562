package adapter

import (
	"errors"
	"strings"
	"testing"

	kit "firefeed/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	short := "hello"
	if got := splitTelegramText(short, 10, ""); len(got) != 1 || got[0] != short {
		t.Fatalf("short text split: %q", got)
	}

	long := strings.Repeat("line of text\n", 10)
	chunks := splitTelegramText(long, 40, "")
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk over limit: %q", c)
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk keeps trailing newline: %q", c)
		}
	}

	html := strings.Repeat("x", 15) + "<b>bold</b>"
	parts := splitTelegramText(html, 17, "HTML")
	if parts[0] != strings.Repeat("x", 15) {
		t.Fatalf("first chunk should stop before the tag, got %q", parts[0])
	}
	if strings.Join(parts, "") != html {
		t.Fatalf("chunks lost text: %q", parts)
	}
}

func TestClassifyDescription(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		code int
		msg  string
		want error
	}{
		{"blocked", 403, "telegram: Forbidden: bot was blocked by the user (403)", kit.ErrForbidden},
		{"deactivated", 0, "user is deactivated", kit.ErrForbidden},
		{"web page content", 400, "telegram: Bad Request: wrong type of the web page content (400)", kit.ErrBadContent},
		{"url fetch", 400, "Bad Request: failed to get HTTP URL content", kit.ErrBadContent},
		{"parse entities", 400, "Bad Request: can't parse entities", kit.ErrBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := classifyDescription(tt.code, errors.New(tt.msg))
			if !errors.Is(got, tt.want) {
				t.Fatalf("classify(%q)=%v want %v", tt.msg, got, tt.want)
			}
		})
	}

	plain := errors.New("dial tcp: connection reset")
	if got := classifyDescription(0, plain); got != plain || kit.IsPermanent(got) {
		t.Fatalf("network errors stay transient, got %v", got)
	}
}

func TestSplitKeepsTextAtLimitWhole(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("я", telegramTextLimit-1) + "\n"
	if got := splitTelegramText(s, telegramTextLimit, "HTML"); len(got) != 1 {
		t.Fatalf("text at the limit split into %d chunks", len(got))
	}
}
