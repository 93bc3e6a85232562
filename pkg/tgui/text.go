package tgui

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TruncRunes returns s truncated to at most n runes, plus "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	cut := 0
	for i, r := range s {
		count++
		if count == n {
			cut = i + utf8.RuneLen(r)
			continue
		}
		if count > n {
			if cut <= 0 {
				cut = i
			}
			return s[:cut] + "…"
		}
	}
	return s
}

// TruncEscaped cuts plain text so that its escaped form plus "…" fits in room runes.
// Entities are never split.
func TruncEscaped(s string, room int) string {
	if utf8.RuneCountInString(html.EscapeString(s)) <= room {
		return s
	}
	budget := room - 1
	used := 0
	cut := 0
	for i, r := range s {
		w := utf8.RuneCountInString(html.EscapeString(string(r)))
		if used+w > budget {
			break
		}
		used += w
		cut = i + utf8.RuneLen(r)
	}
	return strings.TrimRightFunc(s[:cut], unicode.IsSpace) + "…"
}

// Hashtag keeps letters and digits, joining everything else with single underscores.
func Hashtag(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}
