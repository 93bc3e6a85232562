package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

const listBody = `{
  "count": 3,
  "results": [
    {
      "news_id": "abc123",
      "original_title": "Breaking News",
      "original_content": "<p>Full article</p>",
      "original_language": "EN",
      "image_url": "https://img.test/abc123.jpg",
      "category": "technology",
      "source": "Tech News",
      "source_url": "https://technews.test/article123",
      "created_at": "2024-01-01T12:00:00Z",
      "feed_id": 17,
      "translations": {"ru": {"title": "Новость", "content": "Текст"}}
    },
    {
      "news_id": "",
      "original_title": "no id",
      "original_language": "en",
      "category": "world"
    },
    {
      "news_id": "def456",
      "original_title": "No feed",
      "original_language": "de",
      "category": "world",
      "feed_id": null,
      "created_at": "2024-01-01T12:00:00.123456"
    }
  ]
}`

func TestListUndelivered(t *testing.T) {
	t.Parallel()

	var gotQuery, gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(listBody))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/api/v1/", APIKey: "secret"}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	from := time.Unix(1700000000, 0)
	items, err := c.ListUndelivered(context.Background(), news.ItemFilter{Limit: 20, OriginalLanguage: "en", FromDate: from})
	if err != nil {
		t.Fatalf("ListUndelivered: %v", err)
	}

	if gotPath != "/api/v1/rss-items/" || gotKey != "secret" {
		t.Fatalf("path=%q key=%q", gotPath, gotKey)
	}
	for _, want := range []string{"limit=20", "telegram_users_published=false", "original_language=en", "from_date=1700000000"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q lacks %q", gotQuery, want)
		}
	}

	if len(items) != 2 {
		t.Fatalf("items=%d, want the invalid one dropped", len(items))
	}
	first := items[0]
	if first.ID != "abc123" || first.SourceFeedID != "17" || first.OriginalLanguage != "en" || first.SourceName != "Tech News" {
		t.Fatalf("first=%+v", first)
	}
	if first.Translations["ru"].Title != "Новость" || first.ImageRef == "" || first.CreatedAt.IsZero() {
		t.Fatalf("first=%+v", first)
	}
	if items[1].FeedKey() != news.NoFeed || items[1].CreatedAt.IsZero() {
		t.Fatalf("second=%+v", items[1])
	}
}

func TestListUndeliveredHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.ListUndelivered(context.Background(), news.ItemFilter{}); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err=%v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{BaseURL: "not a url"}, logx.Nop()); err == nil {
		t.Fatalf("bad url accepted")
	}
}
