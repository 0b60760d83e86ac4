// Package httpapi exposes the gateway's two wire-compatible ingress
// surfaces (OpenAI's /v1/chat/completions and Anthropic's
// /v1/messages, spec §6) and wires every incoming request through
// orchestrator.Orchestrator.
//
// Grounded on the teacher's internal/server: a chi.Router built once in
// routes(), middleware.Logger/Recoverer as the global middleware pair,
// and a model-name → Provider registry resolved the same way
// resolveProvider did. Auth and body-size-limit middleware are new —
// the teacher never needed either — modeled on chi/middleware's own
// RequestSize/BasicAuth shape.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luthien-control/luthien-gateway/internal/config"
	"github.com/luthien-control/luthien-gateway/internal/emitter"
	"github.com/luthien-control/luthien-gateway/internal/metrics"
	"github.com/luthien-control/luthien-gateway/internal/policy"
	"github.com/luthien-control/luthien-gateway/internal/provider"
	"github.com/luthien-control/luthien-gateway/internal/recorder"
)

// CredentialInvalidator is notified when an upstream call fails with an
// authentication-kind error, so a caller can rotate or disable the
// offending API key out-of-band (SPEC_FULL.md supplemented feature).
// The default Server has none configured; a nil Invalidator is a valid,
// inert no-op.
type CredentialInvalidator interface {
	InvalidateCredential(providerName, model string)
}

// RecorderFactory builds a per-transaction recorder.Recorder. Keeping
// this as a func field (rather than a single shared Recorder) mirrors
// Default's one-recorder-per-transaction lifetime (spec §4.3).
type RecorderFactory func(transactionID string) recorder.Recorder

// Server holds the HTTP router and every collaborator a request
// handler needs: the model registry, the shared policy, the emitter,
// the tracer, and the knobs that size the pipeline.
type Server struct {
	router chi.Router
	cfg    *config.Config

	// models maps model name to the Provider that serves it, built at
	// startup from cfg.Providers, the same registry shape as the
	// teacher's Server.models.
	models map[string]provider.Provider

	policy      policy.Policy
	emitter     policy.Emitter
	tracer      policy.Tracer
	newRecorder RecorderFactory
	invalidator CredentialInvalidator

	stats      *metrics.Metrics
	metricsReg *prometheus.Registry

	timeoutSeconds float64

	// subscribeActivity opens one activity-stream subscription per
	// /v2/activity/monitor caller (SPEC_FULL.md supplemented feature:
	// external dashboards watching the RedisSink's published events). Nil
	// disables the route entirely — most deployments run without Redis
	// configured.
	subscribeActivity func(ctx context.Context) (emitter.ActivitySubscriber, func() error, error)
}

// New builds a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. stats/metricsReg may be nil, in
// which case /metrics serves an empty registry rather than failing.
// subscribeActivity may be nil, in which case /v2/activity/monitor is
// not registered.
func New(cfg *config.Config, models map[string]provider.Provider, pol policy.Policy, emitterIn policy.Emitter, tracer policy.Tracer, newRecorder RecorderFactory, invalidator CredentialInvalidator, stats *metrics.Metrics, metricsReg *prometheus.Registry, timeoutSeconds float64, subscribeActivity func(ctx context.Context) (emitter.ActivitySubscriber, func() error, error)) *Server {
	if metricsReg == nil {
		metricsReg = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:               cfg,
		models:            models,
		policy:            pol,
		emitter:           emitterIn,
		tracer:            tracer,
		newRecorder:       newRecorder,
		invalidator:       invalidator,
		stats:             stats,
		metricsReg:        metricsReg,
		timeoutSeconds:    timeoutSeconds,
		subscribeActivity: subscribeActivity,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.bodyLimitMiddleware)
	r.Use(s.authMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler(s.metricsReg))

	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/messages", s.handleMessages)

	if s.subscribeActivity != nil {
		r.Get("/v2/activity/monitor", emitter.ActivityMonitorHandler(s.subscribeActivity))
	}

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler, so main can pass it
// directly as an http.Server's Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"})
}

// resolveProvider looks up the Provider for a model name, exactly the
// registry lookup the teacher's resolveProvider did.
func (s *Server) resolveProvider(model string) (provider.Provider, error) {
	p, ok := s.models[model]
	if !ok {
		return nil, errUnknownModel(model)
	}
	return p, nil
}

// newTransactionID mints a fresh transaction identifier (spec §3
// PolicyContext.transaction_id). Grounded on google/uuid, the one pack
// dependency declared for this purpose and otherwise unused.
func newTransactionID() string {
	return uuid.NewString()
}

// bodyLimitMiddleware enforces spec §6's request-size ceiling,
// returning 413 rather than letting json.Decode fail deep in a
// handler with a confusing error.
func (s *Server) bodyLimitMiddleware(next http.Handler) http.Handler {
	limit := s.cfg.MaxRequestSize
	if limit <= 0 {
		limit = config.DefaultMaxRequestSize
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the proxy API key against either an
// "Authorization: Bearer <key>" header (OpenAI's convention) or an
// "x-api-key" header (Anthropic's), per spec §6. An empty configured
// key disables the check, matching local/dev usage.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		key := s.cfg.Auth.ProxyAPIKey
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		if bearer := r.Header.Get("Authorization"); bearer == "Bearer "+key {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("x-api-key") == key {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"error": map[string]string{"message": "invalid API key", "type": "authentication_error"}})
	})
}

// requestTimeout bounds how long a non-streaming upstream call may
// take before the handler gives up; streaming calls are instead bound
// by the executor's keepalive timeout.
const requestTimeout = 5 * time.Minute
