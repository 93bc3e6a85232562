package delivery

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"firefeed/internal/news"
)

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is the attachment of one send. The zero value means text only.
type Media struct {
	Kind MediaKind
	URL  string
}

// PickMedia chooses the attachment by priority, falling back to the other kind.
func PickMedia(priority MediaKind, item news.PreparedItem) Media {
	image := Media{Kind: MediaImage, URL: strings.TrimSpace(item.ImageRef)}
	video := Media{Kind: MediaVideo, URL: strings.TrimSpace(item.VideoRef)}
	order := []Media{image, video}
	if priority == MediaVideo {
		order = []Media{video, image}
	}
	for _, m := range order {
		if m.URL != "" {
			return m
		}
	}
	return Media{}
}

// ParseMediaKind accepts "image" and "video".
func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case "", MediaImage:
		return MediaImage, nil
	case MediaVideo:
		return MediaVideo, nil
	}
	return MediaNone, fmt.Errorf("unknown media priority %q (want image|video)", s)
}

// ImageChecker validates an image before it is attached.
type ImageChecker interface {
	CheckImage(ctx context.Context, url string) error
}

var ErrImageRejected = errors.New("image rejected")

const DefaultMaxImageBytes int64 = 10 << 20

// ImageValidatorConfig bounds the HEAD probe.
type ImageValidatorConfig struct {
	MaxBytes       int64
	Timeout        time.Duration
	ConnectTimeout time.Duration
}

// ImageValidator probes image URLs with HEAD.
type ImageValidator struct {
	client   *http.Client
	maxBytes int64
}

func NewImageValidator(cfg ImageValidatorConfig) *ImageValidator {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxImageBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext
	tr.TLSHandshakeTimeout = cfg.ConnectTimeout
	return &ImageValidator{
		client:   &http.Client{Timeout: cfg.Timeout, Transport: tr},
		maxBytes: cfg.MaxBytes,
	}
}

// CheckImage requires status 200, an image/* content type and a size within the ceiling.
// A missing Content-Length is accepted.
func (v *ImageValidator) CheckImage(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImageRejected, err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrImageRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrImageRejected, resp.StatusCode)
	}
	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("%w: content type %q", ErrImageRejected, resp.Header.Get("Content-Type"))
	}
	if resp.ContentLength > v.maxBytes {
		return fmt.Errorf("%w: %d bytes over %d", ErrImageRejected, resp.ContentLength, v.maxBytes)
	}
	return nil
}
