package console

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/maishede/little-eighteen/internal/auth"
	"github.com/maishede/little-eighteen/internal/config"
)

// Server is the local operator API.
type Server struct {
	mu             sync.Mutex
	httpServer     *http.Server
	rover          RoverPort
	telemetry      TelemetryPort
	authMiddleware *auth.Middleware
	logger         *log.Logger
	startTime      time.Time
	cfg            config.ConsoleConfig
}

// NewServer creates an API server without authentication.
func NewServer(rover RoverPort, telemetry TelemetryPort, cfg config.ConsoleConfig) *Server {
	return &Server{
		rover:     rover,
		telemetry: telemetry,
		logger:    log.Default(),
		startTime: time.Now(),
		cfg:       cfg,
	}
}

// NewServerWithAuth creates an API server that requires bearer tokens.
func NewServerWithAuth(rover RoverPort, telemetry TelemetryPort, authMiddleware *auth.Middleware, cfg config.ConsoleConfig) *Server {
	s := NewServer(rover, telemetry, cfg)
	s.authMiddleware = authMiddleware
	return s
}

// SetLogger replaces the request logger.
func (s *Server) SetLogger(l *log.Logger) {
	if l != nil {
		s.logger = l
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.withCorrelation(s.routes())
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
