package delivery

import (
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"firefeed/pkg/tgui"
)

// Platform ceilings in characters. DefaultTextLimit matches the adapter's
// chunk size so a fitted text always goes out as a single message.
const (
	DefaultCaptionLimit = 1024
	DefaultTextLimit    = 4000
)

// Layout selects the message template.
type Layout int

const (
	LayoutChannel Layout = iota
	LayoutPersonal
)

// Labels are the localized fixed strings of a message.
type Labels struct {
	TranslatedFrom string
	ReadMore       string
	Source         string
}

var labels = map[string]Labels{
	"en": {TranslatedFrom: "[AI] Translated from", ReadMore: "Read more", Source: "Source"},
	"ru": {TranslatedFrom: "[AI] Переведено с", ReadMore: "Подробнее", Source: "Источник"},
	"de": {TranslatedFrom: "[AI] Übersetzt aus", ReadMore: "Mehr lesen", Source: "Quelle"},
	"fr": {TranslatedFrom: "[AI] Traduit de", ReadMore: "En savoir plus", Source: "Source"},
}

// LabelsFor returns the labels of lang, English when unknown.
func LabelsFor(lang string) Labels {
	if l, ok := labels[strings.ToLower(lang)]; ok {
		return l
	}
	return labels["en"]
}

// Languages lists the languages with localized labels, sorted.
func Languages() []string {
	return slices.Sorted(maps.Keys(labels))
}

// Message is everything needed to render one delivery. Text fields are plain
// (unescaped); rendering escapes them.
type Message struct {
	Layout           Layout
	Title            string
	Content          string
	SourceURL        string
	SourceName       string
	Category         string
	Language         string
	OriginalLanguage string
	Translated       bool
}

// NewMessage builds a message from a selection.
func NewMessage(layout Layout, sel Selection, sourceURL, sourceName, category, originalLang string) Message {
	return Message{
		Layout:           layout,
		Title:            sel.Title,
		Content:          sel.Content,
		SourceURL:        sourceURL,
		SourceName:       sourceName,
		Category:         category,
		Language:         sel.Language,
		OriginalLanguage: originalLang,
		Translated:       sel.Translated(),
	}
}

// Render returns the full HTML text of m.
func (m Message) Render() string {
	return m.render(tgui.Esc(m.Title), tgui.Esc(m.Content))
}

// Caption renders m as a media caption within limit runes.
func (m Message) Caption(limit int) string {
	if limit <= 0 {
		limit = DefaultCaptionLimit
	}
	return m.fit(limit)
}

// Text renders m as a text message within limit runes.
func (m Message) Text(limit int) string {
	if limit <= 0 {
		limit = DefaultTextLimit
	}
	return m.fit(limit)
}

// fit renders m within limit runes. Content is cut first; the title is
// only shortened when the fixed parts alone do not fit.
func (m Message) fit(limit int) string {
	full := m.Render()
	if utf8.RuneCountInString(full) <= limit {
		return full
	}

	bare := m.render(tgui.Esc(m.Title), "")
	room := limit - utf8.RuneCountInString(bare)
	if m.Layout == LayoutChannel {
		// the content block adds "\n" + content + "\n".
		room -= 2
	}
	if room > 1 {
		return m.render(tgui.Esc(m.Title), tgui.Esc(tgui.TruncEscaped(m.Content, room)))
	}

	noTitle := m.render("", "")
	room = limit - utf8.RuneCountInString(noTitle)
	if room > 1 {
		return m.render(tgui.Esc(tgui.TruncEscaped(m.Title, room)), "")
	}
	return tgui.TruncRunes(noTitle, limit-1)
}

func (m Message) render(title, content tgui.H) string {
	lb := LabelsFor(m.Language)
	var b strings.Builder
	switch m.Layout {
	case LayoutPersonal:
		b.WriteString("🔥 " + tgui.Bold(title).String() + "\n")
		b.WriteString("\n\n" + content.String() + "\n")
		b.WriteString("\nFROM: " + tgui.Esc(m.SourceName).String() + "\n")
		b.WriteString("CATEGORY: " + tgui.Esc(m.Category).String() + "\n")
		if m.Translated {
			b.WriteString("\n🌐 " + m.languageNote(lb) + "\n")
		}
		b.WriteString("\n⚡ " + tgui.LinkSingleQuoted(lb.ReadMore, m.SourceURL).String())
	default:
		b.WriteString(tgui.Bold(title).String() + "\n")
		if strings.TrimSpace(content.String()) != "" {
			b.WriteString("\n" + content.String() + "\n")
		}
		if m.SourceURL != "" {
			b.WriteString("\n🔗 " + tgui.Link(lb.Source, m.SourceURL).String() + "\n")
		}
		if m.Translated {
			b.WriteString("\n" + m.languageNote(lb) + "\n")
		}
		b.WriteString("\n#" + tgui.Hashtag(m.Category) + " #" + tgui.Hashtag(m.SourceName))
	}
	return b.String()
}

func (m Message) languageNote(lb Labels) string {
	return tgui.Esc(lb.TranslatedFrom + " " + strings.ToUpper(m.OriginalLanguage)).String()
}
