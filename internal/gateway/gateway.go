// Package gateway exposes the chat engine over HTTP: a single-shot JSON
// endpoint, a streaming WebSocket endpoint, health, and Prometheus
// metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/engine"
)

// Gateway is the HTTP front of the chat service.
type Gateway struct {
	config    Config
	engine    *engine.Engine
	users     *Registry
	probe     func(ctx context.Context) error
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithBackendProbe wires a readiness probe against the completion
// backend, surfaced on GET /health.
func WithBackendProbe(probe func(ctx context.Context) error) Option {
	return func(g *Gateway) { g.probe = probe }
}

// New creates a Gateway. cfg must already carry defaults.
func New(cfg Config, eng *engine.Engine, users *Registry, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{
		config: cfg,
		engine: eng,
		users:  users,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins serving. It returns once the listener is bound; serving
// continues in a background goroutine until Stop.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:              g.config.Bind,
		Handler:           g.buildRouter(),
		ReadHeaderTimeout: g.config.ReadHeaderTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen failed: %w", err)
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Bind)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down with the configured timeout.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Chat endpoints — bearer token auth.
	r.Post("/chat", g.handleChat())
	r.Get("/ws/chat", g.handleChatSocket())

	return r
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"` // "ok" or "degraded"
	Uptime  string `json:"uptime"`
	Backend string `json:"backend,omitempty"`
}

// handleHealth returns an http.HandlerFunc for GET /health.
// Returns 200 when the completion backend answers its probe, 503 otherwise.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status: "ok",
			Uptime: time.Since(g.startedAt).Round(time.Second).String(),
		}

		if g.probe != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := g.probe(ctx); err != nil {
				resp.Status = "degraded"
				resp.Backend = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == "degraded" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// authenticate resolves the request's bearer token (Authorization header,
// or ?token= for WebSocket clients that cannot set headers).
func (g *Gateway) authenticate(r *http.Request) (engine.User, bool) {
	token := ""
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			token = after
		}
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return engine.User{}, false
	}
	return g.users.Authenticate(token)
}
