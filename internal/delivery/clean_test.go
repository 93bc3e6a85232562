package delivery

import (
	"context"
	"errors"
	"testing"

	"firefeed/internal/news"
	"firefeed/internal/storage"
)

func TestCleanText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"plain   text", "plain text"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"<p>Hello&nbsp;<b>world</b></p><script>x()</script><p>Second   line</p>", "Hello world\n\nSecond line"},
		{"line one<br>line two", "line one\nline two"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"  \n  ", ""},
	}
	for _, tt := range tests {
		if got := CleanText(tt.in); got != tt.want {
			t.Fatalf("CleanText(%q)=%q want %q", tt.in, got, tt.want)
		}
	}
}

type failingTranslations struct{ err error }

func (f failingTranslations) TranslationID(context.Context, string, string) (int64, bool, error) {
	return 0, false, f.err
}

type missingTranslations struct{}

func (missingTranslations) TranslationID(context.Context, string, string) (int64, bool, error) {
	return 0, false, nil
}

func TestSelect(t *testing.T) {
	t.Parallel()

	item := news.PreparedItem{
		ID:               "n1",
		OriginalLanguage: "en",
		OriginalTitle:    "<b>Title</b>",
		OriginalContent:  "Body &amp; more",
		Translations: map[string]news.Translation{
			"ru": {Title: "Заголовок", Content: "Текст"},
			"de": {Title: "  ", Content: "nur Text"},
		},
	}
	mem := storage.NewMemory()
	mem.PutTranslation("n1", "ru", 77)

	tests := []struct {
		name   string
		dir    storage.TranslationDirectory
		lang   string
		ok     bool
		title  string
		trID   int64
		hasErr bool
	}{
		{name: "original", dir: mem, lang: "en", ok: true, title: "Title"},
		{name: "original case-insensitive", dir: mem, lang: "EN", ok: true, title: "Title"},
		{name: "translation", dir: mem, lang: "ru", ok: true, title: "Заголовок", trID: 77},
		{name: "no translation", dir: mem, lang: "fr"},
		{name: "empty title", dir: mem, lang: "de"},
		{name: "lookup miss", dir: missingTranslations{}, lang: "ru"},
		{name: "lookup failure", dir: failingTranslations{err: errors.New("db down")}, lang: "ru", hasErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sel, ok, err := NewSelector(tt.dir).Select(context.Background(), item, tt.lang)
			if (err != nil) != tt.hasErr {
				t.Fatalf("err=%v", err)
			}
			if ok != tt.ok {
				t.Fatalf("ok=%v want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if sel.Title != tt.title || sel.TranslationID != tt.trID || sel.Translated() != (tt.trID != 0) {
				t.Fatalf("selection=%+v", sel)
			}
		})
	}
}
