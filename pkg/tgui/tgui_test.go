package tgui

import (
	"testing"
	"unicode/utf8"
)

func TestHashtag(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]string{
		"world":          "world",
		"The Guardian":   "The_Guardian",
		" Le-Monde.fr ":  "Le_Monde_fr",
		"Spiegel Online": "Spiegel_Online",
		"--":             "",
	} {
		if got := Hashtag(in); got != want {
			t.Fatalf("Hashtag(%q)=%q want %q", in, got, want)
		}
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel…"},
		{"привет", 2, "пр…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncRunes(tt.in, tt.n); got != tt.want {
			t.Fatalf("TruncRunes(%q,%d)=%q want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestTruncEscapedKeepsEntitiesWhole(t *testing.T) {
	t.Parallel()
	got := TruncEscaped("a & b & c", 8)
	esc := Esc(got).String()
	if utf8.RuneCountInString(esc) > 8 {
		t.Fatalf("escaped %q exceeds room", esc)
	}
	if got != "a &…" {
		t.Fatalf("TruncEscaped=%q", got)
	}
	if TruncEscaped("short", 10) != "short" {
		t.Fatalf("short text must be untouched")
	}
}

func TestLinks(t *testing.T) {
	t.Parallel()
	if got := Link("Source", `https://x.test/?a=1&b="2"`).String(); got != `<a href="https://x.test/?a=1&amp;b=&#34;2&#34;">Source</a>` {
		t.Fatalf("Link=%s", got)
	}
	if got := LinkSingleQuoted("Read more", "https://x.test/'q").String(); got != `<a href='https://x.test/&#39;q'>Read more</a>` {
		t.Fatalf("LinkSingleQuoted=%s", got)
	}
	if got := Bold(Esc("a<b")).String(); got != "<b>a&lt;b</b>" {
		t.Fatalf("Bold=%s", got)
	}
	if got := JoinH(" ", B("x"), "", Code("y")).String(); got != "<b>x</b> <code>y</code>" {
		t.Fatalf("JoinH=%s", got)
	}
}
