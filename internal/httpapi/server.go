// Package httpapi is the HTTP edge of the governed response runtime: the
// POST /api/chat endpoint that drives the full decision pipeline, plus
// health/readiness probes, request-id and CORS middleware, rate limiting, and
// the single boundary where rich internal errors are translated into the
// closed public failure taxonomy.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/lumenforge/respondctl/internal/breaker"
	"github.com/lumenforge/respondctl/internal/bus"
	"github.com/lumenforge/respondctl/internal/config"
	"github.com/lumenforge/respondctl/internal/modelpipeline"
	"github.com/lumenforge/respondctl/internal/sessionstore"
	"github.com/lumenforge/respondctl/internal/tracelog"
)

// Server wires every pipeline component behind the HTTP surface. All fields
// are set once at construction and immutable afterward; per-request state
// lives only on the request goroutine.
type Server struct {
	cfg       config.Config
	b         *bus.Bus
	traces    *tracelog.Registry
	brk       *breaker.Breaker
	caller    modelpipeline.Caller
	sessions  *sessionstore.Store
	limiter   *rateLimiter
	version   string
	startedAt time.Time
	nowMs     func() int64
}

// Options collects the Server's collaborators. Traces, Caller, and Sessions
// may be nil (tracing off, model calls disabled, no session store).
type Options struct {
	Config   config.Config
	Bus      *bus.Bus
	Traces   *tracelog.Registry
	Breaker  *breaker.Breaker
	Caller   modelpipeline.Caller
	Sessions *sessionstore.Store
	Version  string
	NowMs    func() int64
}

// New builds a Server from opts, filling in a wall-clock NowMs when none is
// injected (tests inject their own).
func New(opts Options) *Server {
	nowMs := opts.NowMs
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Server{
		cfg:       opts.Config,
		b:         opts.Bus,
		traces:    opts.Traces,
		brk:       opts.Breaker,
		caller:    opts.Caller,
		sessions:  opts.Sessions,
		limiter:   newRateLimiter(opts.Config.RateLimitPerMinute),
		version:   opts.Version,
		startedAt: time.Now().UTC(),
		nowMs:     nowMs,
	}
}

// Handler returns the fully-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	return s.withRequestID(s.withCORS(withoutContentLength(mux)))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	missing := s.missingEnv()
	if len(missing) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":      "not_ready",
			"missing_env": missing,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// missingEnv reports production-required settings that are absent. Outside
// production nothing is required.
func (s *Server) missingEnv() []string {
	if s.cfg.AppEnv != config.EnvProduction {
		return nil
	}
	var missing []string
	if s.cfg.BackendPublicBaseURL == "" {
		missing = append(missing, "BACKEND_PUBLIC_BASE_URL")
	}
	if len(s.cfg.CORSOrigins) == 0 {
		missing = append(missing, "CORS_ORIGINS")
	}
	if s.cfg.ModelAPIKey == "" && s.cfg.ModelProvider != "local" && s.cfg.ModelProvider != "custom" {
		missing = append(missing, "MODEL_API_KEY")
	}
	return missing
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
