package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firefeed/internal/fanout"
	logx "firefeed/pkg/logx"
)

type redMetrics struct {
	duration *prometheus.HistogramVec
	requests *prometheus.CounterVec
}

func newREDMetrics(reg prometheus.Registerer) *redMetrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &redMetrics{
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "firefeed_ops_http_request_duration_seconds",
			Help:    "Duration of ops HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "firefeed_ops_http_requests_total",
			Help: "Total number of ops HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
}

// middleware records RED metrics keyed by route pattern.
func (m *redMetrics) middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.duration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(path, r.Method, status).Inc()
	})
}

// Handler builds the route tree for cfg.
func (s *Service) Handler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.red.middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(withAuth(cfg.Token))
		r.Post("/cycle", s.cycle)
		r.Get("/status", s.status)
		if cfg.Pprof {
			r.Get("/debug/pprof/*", hpprof.Index)
			r.Get("/debug/pprof/cmdline", hpprof.Cmdline)
			r.Get("/debug/pprof/profile", hpprof.Profile)
			r.Get("/debug/pprof/symbol", hpprof.Symbol)
			r.Get("/debug/pprof/trace", hpprof.Trace)
		}
	})
	return r
}

func (s *Service) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.Checks))
	for name := range s.deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := map[string]string{}
	for _, name := range names {
		if err := s.deps.Checks[name](ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.log.Warn("readiness check failed", logx.Any("failed", failed))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Service) cycle(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cycle == nil {
		http.Error(w, "cycle trigger not configured", http.StatusNotImplemented)
		return
	}
	rep, err := s.deps.Cycle.Trigger(r.Context())
	switch {
	case errors.Is(err, fanout.ErrCycleRunning):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.log.Warn("manual cycle failed", logx.Err(err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": rep})
	default:
		writeJSON(w, http.StatusOK, rep)
	}
}

func (s *Service) status(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func withAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if strings.TrimSpace(got) != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
