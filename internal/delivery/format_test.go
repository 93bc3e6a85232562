package delivery

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRenderChannel(t *testing.T) {
	t.Parallel()

	m := Message{
		Layout:           LayoutChannel,
		Title:            "Hello & bye",
		Content:          "Body",
		SourceURL:        "https://x.test/a?b=1&c=2",
		SourceName:       "Reuters",
		Category:         "world",
		Language:         "ru",
		OriginalLanguage: "en",
		Translated:       true,
	}
	want := "<b>Hello &amp; bye</b>\n" +
		"\nBody\n" +
		"\n🔗 <a href=\"https://x.test/a?b=1&amp;c=2\">Источник</a>\n" +
		"\n[AI] Переведено с EN\n" +
		"\n#world #Reuters"
	if got := m.Render(); got != want {
		t.Fatalf("render:\n%q\nwant\n%q", got, want)
	}

	m.Content = ""
	m.Translated = false
	m.Language = "en"
	want = "<b>Hello &amp; bye</b>\n" +
		"\n🔗 <a href=\"https://x.test/a?b=1&amp;c=2\">Source</a>\n" +
		"\n#world #Reuters"
	if got := m.Render(); got != want {
		t.Fatalf("render without content:\n%q\nwant\n%q", got, want)
	}
}

func TestRenderPersonal(t *testing.T) {
	t.Parallel()

	m := Message{
		Layout:           LayoutPersonal,
		Title:            "T",
		Content:          "C <3",
		SourceURL:        "https://x.test",
		SourceName:       "BBC",
		Category:         "tech",
		Language:         "de",
		OriginalLanguage: "en",
		Translated:       true,
	}
	want := "🔥 <b>T</b>\n" +
		"\n\nC &lt;3\n" +
		"\nFROM: BBC\n" +
		"CATEGORY: tech\n" +
		"\n🌐 [AI] Übersetzt aus EN\n" +
		"\n⚡ <a href='https://x.test'>Mehr lesen</a>"
	if got := m.Render(); got != want {
		t.Fatalf("render:\n%q\nwant\n%q", got, want)
	}
}

func TestCaptionKeepsTitleAndFooter(t *testing.T) {
	t.Parallel()

	base := Message{
		Layout:           LayoutChannel,
		Title:            "Breaking: markets & more",
		SourceURL:        "https://x.test/story",
		SourceName:       "Reuters",
		Category:         "economy",
		Language:         "fr",
		OriginalLanguage: "en",
		Translated:       true,
	}

	tests := []struct {
		name   string
		layout Layout
		body   string
	}{
		{"channel ascii", LayoutChannel, strings.Repeat("word ", 600)},
		{"channel escaped", LayoutChannel, strings.Repeat("a<b ", 700)},
		{"personal cyrillic", LayoutPersonal, strings.Repeat("новость ", 400)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := base
			m.Layout = tt.layout
			m.Content = tt.body

			got := m.Caption(DefaultCaptionLimit)
			if n := utf8.RuneCountInString(got); n > DefaultCaptionLimit {
				t.Fatalf("caption has %d runes", n)
			}
			if !strings.Contains(got, "<b>Breaking: markets &amp; more</b>") {
				t.Fatalf("title lost: %q", got)
			}
			if !strings.Contains(got, "[AI] Traduit de EN") {
				t.Fatalf("language note lost")
			}
			if tt.layout == LayoutChannel && !strings.HasSuffix(got, "#economy #Reuters") {
				t.Fatalf("hashtags lost: %q", got)
			}
			if tt.layout == LayoutPersonal && !strings.HasSuffix(got, "En savoir plus</a>") {
				t.Fatalf("footer lost: %q", got)
			}
			if !strings.Contains(got, "…") {
				t.Fatalf("no truncation marker")
			}
		})
	}
}

func TestCaptionShortensTitleLast(t *testing.T) {
	t.Parallel()

	m := Message{
		Layout:     LayoutChannel,
		Title:      strings.Repeat("T", 2000),
		Content:    "dropped",
		SourceName: "src",
		Category:   "world",
		Language:   "en",
	}
	got := m.Caption(DefaultCaptionLimit)
	if utf8.RuneCountInString(got) > DefaultCaptionLimit {
		t.Fatalf("caption too long")
	}
	if strings.Contains(got, "dropped") {
		t.Fatalf("content should go before the title")
	}
	if !strings.HasPrefix(got, "<b>TTT") || !strings.Contains(got, "…</b>") || !strings.HasSuffix(got, "#world #src") {
		t.Fatalf("unexpected caption %q", got)
	}

	short := Message{Layout: LayoutChannel, Title: "ok", Category: "c", SourceName: "s"}
	if short.Caption(DefaultCaptionLimit) != short.Render() {
		t.Fatalf("short captions must be untouched")
	}
}

func TestLabelsFallBackToEnglish(t *testing.T) {
	t.Parallel()
	if LabelsFor("pt").ReadMore != "Read more" || LabelsFor("RU").ReadMore != "Подробнее" {
		t.Fatalf("labels fallback broken")
	}
}

func TestTextFitsOneMessage(t *testing.T) {
	t.Parallel()

	m := Message{
		Layout:     LayoutPersonal,
		Title:      "Long read",
		Content:    strings.Repeat("Paragraph with <tags> & entities. ", 300),
		SourceURL:  "https://x.test/long",
		SourceName: "Wire",
		Category:   "world",
		Language:   "en",
	}
	if utf8.RuneCountInString(m.Render()) <= DefaultTextLimit {
		t.Fatalf("fixture too short")
	}
	got := m.Text(0)
	if n := utf8.RuneCountInString(got); n > DefaultTextLimit {
		t.Fatalf("text has %d runes", n)
	}
	if !strings.HasPrefix(got, "🔥 <b>Long read</b>") || !strings.HasSuffix(got, "Read more</a>") {
		t.Fatalf("title or footer lost: %q ... %q", got[:40], got[len(got)-40:])
	}

	short := m
	short.Content = "brief"
	if short.Text(0) != short.Render() {
		t.Fatalf("short text must render unchanged")
	}
}
