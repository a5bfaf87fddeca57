// Package server provides the operational HTTP server of the MSH.
//
// The AS4 endpoint itself is served by the HTTP receiver of the Receive
// agent; this server only exposes endpoints for operators:
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe, pings the repository
//   - GET /agents  - Names of the running agents
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sirosfoundation/go-msh/internal/observability"
)

// Pinger checks connectivity of a backing store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config configures the server
type Config struct {
	Address string

	// Metrics serves /metrics when set
	Metrics bool

	// Agents are listed on /agents
	Agents []string
}

// Server is the health and metrics HTTP server
type Server struct {
	config  Config
	logger  *slog.Logger
	store   Pinger
	httpSrv *http.Server
}

// New creates a new server
func New(cfg Config, store Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		logger: logger.With("component", "server"),
		store:  store,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start serves until ctx is done, then shuts the server down
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return err
	}
	s.logger.Info("starting server", "addr", ln.Addr().String(), "metrics", s.config.Metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /agents", s.handleAgents)

	if s.config.Metrics {
		observability.InitMetrics()
		mux.Handle("GET /metrics", observability.MetricsHandler())
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("repository not ready", "error", err)
			s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.config.Agents
	if agents == nil {
		agents = []string{}
	}
	s.jsonResponse(w, map[string][]string{"agents": agents}, http.StatusOK)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
