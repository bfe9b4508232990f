package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/francescomaiomascio/yai/pkg/capabilities"
	"github.com/francescomaiomascio/yai/pkg/kernel"
	"github.com/francescomaiomascio/yai/pkg/limiter"
	"github.com/francescomaiomascio/yai/pkg/memory"
	"github.com/francescomaiomascio/yai/pkg/observability"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server routes HTTP requests to the emitter and the memory subsystem.
type Server struct {
	emitter  *kernel.Emitter
	memories *memory.Service
	views    *memory.ViewBuilder
	tokens   *capabilities.TokenManager

	limiter    limiter.Store
	ratePolicy limiter.Policy
	telemetry  *observability.Provider
	checks     map[string]HealthCheck
	schemas    schemas
	now        func() time.Time
	logger     *slog.Logger
}

// NewServer wires the HTTP surface. tokens may be nil, in which case every
// protected route answers 401.
func NewServer(emitter *kernel.Emitter, memories *memory.Service, views *memory.ViewBuilder, tokens *capabilities.TokenManager) (*Server, error) {
	sch, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		emitter:  emitter,
		memories: memories,
		views:    views,
		tokens:   tokens,
		checks:   make(map[string]HealthCheck),
		schemas:  sch,
		now:      time.Now,
		logger:   slog.Default().With("component", "api"),
	}, nil
}

// WithLimiter enables per-origin rate limiting.
func (s *Server) WithLimiter(store limiter.Store, policy limiter.Policy) *Server {
	s.limiter = store
	s.ratePolicy = policy
	return s
}

// WithTelemetry traces every route through p.
func (s *Server) WithTelemetry(p *observability.Provider) *Server {
	s.telemetry = p
	return s
}

// WithHealthCheck adds a named probe to GET /health.
func (s *Server) WithHealthCheck(name string, check HealthCheck) *Server {
	s.checks[name] = check
	return s
}

// WithClock overrides the default timestamp source for emitted events.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l.With("component", "api")
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "GET /health", false, s.handleHealth)
	s.route(mux, "GET /v1/taxonomy", false, s.handleTaxonomy)

	s.route(mux, "POST /v1/events", true, s.handleEmit)
	s.route(mux, "GET /v1/events", true, s.handleLog)
	s.route(mux, "GET /v1/runs/{run_id}/events", true, s.handleRunEvents)

	s.route(mux, "POST /v1/memories", true, s.handleCommit)
	s.route(mux, "POST /v1/memories/{memory_id}/{transition}", true, s.handleTransition)
	s.route(mux, "GET /v1/memories/{memory_id}/state", true, s.handleState)
	s.route(mux, "GET /v1/runs/{run_id}/memory-view", true, s.handleView)

	return requestID(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, protected bool, h http.HandlerFunc) {
	var handler http.Handler = h
	handler = s.rateLimit(handler)
	if protected {
		handler = s.authenticate(handler)
	}
	mux.Handle(pattern, s.instrument(pattern, handler))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		ctx := r.Context()
		var done func(bool, error)
		if s.telemetry != nil {
			ctx, done = s.telemetry.Track(ctx, pattern, attribute.String("http.route", pattern))
		}
		next.ServeHTTP(rec, r.WithContext(ctx))
		if done != nil {
			done(rec.status >= 500, nil)
		}
		s.logger.DebugContext(ctx, "request",
			"route", pattern,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", RequestIDFrom(ctx),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	store := s.emitter.Store()
	writeJSON(w, status, map[string]any{
		"status":     overall,
		"events":     store.Len(),
		"head":       store.Head(),
		"memories":   s.memories.Registry().Count(),
		"checks":     results,
		"checked_at": kernel.FormatTimestamp(s.now()),
	})
}

type taxonomyEntry struct {
	EventType      kernel.EventType `json:"event_type"`
	AllowedOrigins []string         `json:"allowed_origins"`
}

type taxonomyCategory struct {
	Category string          `json:"category"`
	Events   []taxonomyEntry `json:"events"`
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, _ *http.Request) {
	auth := s.emitter.Authority()
	var out []taxonomyCategory
	for _, c := range kernel.Categories() {
		cat := taxonomyCategory{Category: c.String()}
		for _, t := range kernel.EventTypes(c) {
			cat.Events = append(cat.Events, taxonomyEntry{EventType: t, AllowedOrigins: auth.AllowedOriginsFor(t)})
		}
		out = append(out, cat)
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

// runAccess admits tokens bound to runID (or to every run).
func runAccess(claims *capabilities.Claims, runID string) error {
	if claims.RunID != capabilities.AnyRun && claims.RunID != runID {
		return &capabilities.AccessDeniedError{
			Code:    capabilities.CodeAccessDenied,
			Subject: claims.Subject,
			RunID:   runID,
		}
	}
	return nil
}

func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return n, nil
}
