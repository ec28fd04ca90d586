package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taskmill/runtime/internal/telemetry"
)

// Server is the HTTP server for the telemetry query API.
type Server struct {
	handlers   *Handlers
	httpServer *http.Server
}

// NewServer creates a Server on addr serving the given aggregator.
func NewServer(addr string, agg *telemetry.Aggregator, logger *slog.Logger) *Server {
	handlers := NewHandlers(agg, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/summary", handlers.HandleSummary)
	mux.HandleFunc("GET /api/v1/events", handlers.HandleEvents)
	mux.HandleFunc("GET /healthz", handlers.HandleHealth)

	return &Server{
		handlers: handlers,
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the HTTP server. Blocks until the server is stopped or
// an error occurs.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server. The aggregator is a pure
// read path, so there is no in-flight run state to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handlers returns the Handlers for testing purposes.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}
