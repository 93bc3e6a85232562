package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firefeed/internal/fanout"
	logx "firefeed/pkg/logx"
)

type fakeCycle struct {
	rep fanout.Report
	err error
}

func (f fakeCycle) Trigger(context.Context) (fanout.Report, error) { return f.rep, f.err }

func newTestServer(t *testing.T, cfg Config, deps Deps) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	deps.Gatherer, deps.Registerer = reg, reg
	srv := httptest.NewServer(New(cfg, deps, logx.Nop()).Handler(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestProbes(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("store down")
	srv := newTestServer(t, Config{}, Deps{Checks: map[string]Check{
		"supervisor": func(context.Context) error { return nil },
		"store":      func(context.Context) error { return storeErr },
	}})

	if code, body := do(t, http.MethodGet, srv.URL+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz=%d %q", code, body)
	}
	code, body := do(t, http.MethodGet, srv.URL+"/readyz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "store down") || strings.Contains(body, "supervisor") {
		t.Fatalf("readyz=%d %q", code, body)
	}

	code, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "firefeed_ops_http_requests_total") {
		t.Fatalf("metrics=%d, RED series missing", code)
	}
}

func TestCycleEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cycle fakeCycle
		token string
		want  int
	}{
		{"ok", fakeCycle{rep: fanout.Report{CycleID: "abc", Items: 2}}, "s3cret", http.StatusOK},
		{"busy", fakeCycle{err: fanout.ErrCycleRunning}, "s3cret", http.StatusConflict},
		{"source down", fakeCycle{err: errors.New("source down")}, "s3cret", http.StatusBadGateway},
		{"no token", fakeCycle{}, "", http.StatusUnauthorized},
		{"wrong token", fakeCycle{}, "nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, Config{Token: "s3cret"}, Deps{Cycle: tt.cycle})
			code, body := do(t, http.MethodPost, srv.URL+"/cycle", tt.token)
			if code != tt.want {
				t.Fatalf("POST /cycle=%d %q want %d", code, body, tt.want)
			}
			if tt.want == http.StatusOK {
				var rep fanout.Report
				if err := json.Unmarshal([]byte(body), &rep); err != nil || rep.CycleID != "abc" {
					t.Fatalf("report=%q err=%v", body, err)
				}
			}
		})
	}
}

func TestPprofToggle(t *testing.T) {
	t.Parallel()

	off := newTestServer(t, Config{}, Deps{})
	if code, _ := do(t, http.MethodGet, off.URL+"/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof reachable while disabled: %d", code)
	}
	on := newTestServer(t, Config{Pprof: true, Token: "t"}, Deps{})
	if code, _ := do(t, http.MethodGet, on.URL+"/debug/pprof/", ""); code != http.StatusUnauthorized {
		t.Fatalf("pprof without token=%d", code)
	}
	if code, body := do(t, http.MethodGet, on.URL+"/debug/pprof/?token=t", ""); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index=%d", code)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Addr() == "" {
		t.Fatalf("server did not bind")
	}
	if code, _ := do(t, http.MethodGet, "http://"+s.Addr()+"/healthz", ""); code != http.StatusOK {
		t.Fatalf("healthz=%d", code)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	if s.Supervisor() != nil {
		t.Fatalf("supervisor still set after Stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"bad":            false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v", addr, got)
		}
	}
}
