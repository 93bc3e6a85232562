package delivery

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// CleanText turns feed HTML into plain text: markup and scripts are dropped,
// entities decoded and whitespace collapsed. Paragraph breaks survive as blank lines.
// The result is unescaped text; renderers escape it again.
func CleanText(s string) string {
	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			doc.Find("script, style, iframe, noscript").Remove()
			doc.Find("br").ReplaceWithHtml("\n")
			doc.Find("p, div, li, h1, h2, h3, h4, h5, h6, blockquote").Each(func(_ int, sel *goquery.Selection) {
				sel.AppendHtml("\n\n")
			})
			s = doc.Text()
		}
	}
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
