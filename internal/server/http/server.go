// Package httpserver provides the HTTP REST API server for the research
// session service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/research-session-service/internal/bus"
	"github.com/helixir/research-session-service/internal/kvstore"
	"github.com/helixir/research-session-service/internal/observability"
	"github.com/helixir/research-session-service/internal/session"
)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	sessions   *session.Manager
	store      kvstore.Store
	events     *bus.Emitter
	metrics    *observability.Metrics
	validate   *validator.Validate
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(
	cfg Config,
	sessions *session.Manager,
	store kvstore.Store,
	events *bus.Emitter,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		sessions: sessions,
		store:    store,
		events:   events,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1/sessions/{sessionID}", func(r chi.Router) {
		r.Use(sessionContextMiddleware)

		r.Get("/state", s.getState)
		r.Delete("/", s.evictSession)

		r.Post("/messages", s.addMessage)
		r.Post("/conversation/clear", s.clearConversation)

		r.Post("/sources/{sourceID}/toggle", s.toggleSource)
		r.Get("/sources/total", s.selectedSourcesTotal)

		r.Put("/report/status", s.setReportStatus)
		r.Post("/report/generate", s.generateReport)

		r.Post("/purchases", s.addPurchase)
		r.Get("/purchases/{itemID}", s.getPurchase)

		r.Put("/summaries/{sourceID}", s.cacheSummary)
		r.Get("/summaries/{sourceID}", s.getSummary)

		r.Get("/preferences/dark-mode", s.getDarkMode)
		r.Put("/preferences/dark-mode", s.setDarkMode)
		r.Put("/tier", s.setTier)

		r.Get("/events", s.streamEvents)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler returns readiness status including store connectivity.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"store":  "unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"store":  "ok",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already out; nothing useful to do with an encode failure.
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
