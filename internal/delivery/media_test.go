package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestImageValidator(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		switch r.URL.Path {
		case "/ok.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			w.Header().Set("Content-Length", "2048")
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
		case "/huge.png":
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Length", "20000000")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	v := NewImageValidator(ImageValidatorConfig{})
	tests := []struct {
		path string
		ok   bool
	}{
		{"/ok.jpg", true},
		{"/page", false},
		{"/huge.png", false},
		{"/missing.jpg", false},
	}
	for _, tt := range tests {
		err := v.CheckImage(context.Background(), srv.URL+tt.path)
		if tt.ok && err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if !tt.ok && !errors.Is(err, ErrImageRejected) {
			t.Fatalf("%s: err=%v, want rejection", tt.path, err)
		}
	}
}
