// Package source pulls prepared items from the news API.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"firefeed/internal/news"
	logx "firefeed/pkg/logx"
)

const (
	DefaultBaseURL        = "http://127.0.0.1:8000/api/v1"
	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var validate = validator.New()

// Config configures the API client.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	UserAgent      string
}

// Client lists undelivered items over HTTP.
type Client struct {
	base   *url.URL
	key    string
	ua     string
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid source base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "firefeed-bot/1.0"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.MaxIdleConnsPerHost = 30
	return &Client{
		base:   base,
		key:    cfg.APIKey,
		ua:     cfg.UserAgent,
		client: &http.Client{Timeout: cfg.Timeout, Transport: tr},
		log:    log.With(logx.String("comp", "source")),
	}, nil
}

type listResponse struct {
	Count   int       `json:"count"`
	Results []apiItem `json:"results"`
}

type apiItem struct {
	NewsID           string                      `json:"news_id" validate:"required"`
	OriginalTitle    string                      `json:"original_title" validate:"required"`
	OriginalContent  string                      `json:"original_content"`
	OriginalLanguage string                      `json:"original_language" validate:"required,min=2,max=8"`
	ImageURL         string                      `json:"image_url" validate:"omitempty,url"`
	VideoURL         string                      `json:"video_url" validate:"omitempty,url"`
	Category         string                      `json:"category" validate:"required"`
	Source           string                      `json:"source"`
	SourceURL        string                      `json:"source_url" validate:"omitempty,url"`
	FeedID           flexibleID                  `json:"feed_id"`
	CreatedAt        string                      `json:"created_at"`
	Translations     map[string]news.Translation `json:"translations"`
}

// flexibleID accepts a JSON number or string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

var createdAtLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"}

func parseCreatedAt(s string) time.Time {
	for _, l := range createdAtLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (it apiItem) prepared() news.PreparedItem {
	tr := make(map[string]news.Translation, len(it.Translations))
	for lang, t := range it.Translations {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" {
			continue
		}
		tr[lang] = t
	}
	return news.PreparedItem{
		ID:               it.NewsID,
		SourceFeedID:     string(it.FeedID),
		OriginalLanguage: strings.ToLower(it.OriginalLanguage),
		OriginalTitle:    it.OriginalTitle,
		OriginalContent:  it.OriginalContent,
		SourceURL:        it.SourceURL,
		Category:         it.Category,
		SourceName:       it.Source,
		Translations:     tr,
		ImageRef:         it.ImageURL,
		VideoRef:         it.VideoURL,
		CreatedAt:        parseCreatedAt(it.CreatedAt),
	}
}

// ListUndelivered fetches a batch of items not yet sent to users.
// Items failing validation are dropped and logged, not returned as errors.
func (c *Client) ListUndelivered(ctx context.Context, f news.ItemFilter) ([]news.PreparedItem, error) {
	q := url.Values{}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("telegram_users_published", strconv.FormatBool(f.UsersPublished))
	if f.OriginalLanguage != "" {
		q.Set("original_language", f.OriginalLanguage)
	}
	if !f.FromDate.IsZero() {
		q.Set("from_date", strconv.FormatInt(f.FromDate.Unix(), 10))
	}

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/rss-items/"
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("list items: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	out := make([]news.PreparedItem, 0, len(lr.Results))
	for _, it := range lr.Results {
		if err := validate.Struct(it); err != nil {
			var verr validator.ValidationErrors
			fields := []logx.Field{logx.String("news_id", it.NewsID), logx.Err(err)}
			if errors.As(err, &verr) && len(verr) > 0 {
				fields = append(fields, logx.String("field", verr[0].Field()))
			}
			c.log.Warn("item dropped", fields...)
			continue
		}
		out = append(out, it.prepared())
	}
	return out, nil
}
