package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"signalbot/internal/core"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server handles Prometheus metrics export and the health endpoint
type Server struct {
	port   int
	health http.Handler
	logger core.ILogger
	srv    *http.Server
}

// NewServer creates a new metrics server. health may be nil.
func NewServer(port int, health http.Handler, logger core.ILogger) *Server {
	return &Server{
		port:   port,
		health: health,
		logger: logger.WithField("component", "metrics_server"),
	}
}

// Handler returns the routes served
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if s.health != nil {
		mux.Handle("/health", s.health)
	}
	return mux
}

// Run serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting Prometheus metrics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.logger.Info("Stopping metrics server")
		return s.srv.Shutdown(shutdownCtx)
	}
}
