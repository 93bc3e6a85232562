package delivery

import (
	"context"
	"fmt"
	"strings"

	"firefeed/internal/news"
	"firefeed/internal/storage"
)

// Selection is the content chosen for one target language.
type Selection struct {
	Language string
	Title    string
	Content  string
	// TranslationID is 0 for the original text.
	TranslationID int64
}

// Translated reports whether a translation was picked.
func (s Selection) Translated() bool { return s.TranslationID != 0 }

// Selector picks original or translated content for a language.
type Selector struct {
	translations storage.TranslationDirectory
}

func NewSelector(translations storage.TranslationDirectory) *Selector {
	return &Selector{translations: translations}
}

// Select returns ok=false when the item has nothing trackable for lang.
// A non-nil error is informational: the target is ineligible either way.
func (s *Selector) Select(ctx context.Context, item news.PreparedItem, lang string) (Selection, bool, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return Selection{}, false, nil
	}
	if strings.EqualFold(lang, item.OriginalLanguage) {
		sel := Selection{
			Language: lang,
			Title:    CleanText(item.OriginalTitle),
			Content:  CleanText(item.OriginalContent),
		}
		return sel, sel.Title != "", nil
	}

	tr, ok := item.Translations[lang]
	if !ok || strings.TrimSpace(tr.Title) == "" {
		return Selection{}, false, nil
	}
	if s.translations == nil {
		return Selection{}, false, fmt.Errorf("%w: no translation directory", ErrIneligible)
	}
	id, found, err := s.translations.TranslationID(ctx, item.ID, lang)
	if err != nil {
		return Selection{}, false, fmt.Errorf("translation id %s/%s: %w", item.ID, lang, err)
	}
	if !found || id == 0 {
		return Selection{}, false, nil
	}
	sel := Selection{
		Language:      lang,
		Title:         CleanText(tr.Title),
		Content:       CleanText(tr.Content),
		TranslationID: id,
	}
	return sel, sel.Title != "", nil
}
