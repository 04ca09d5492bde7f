// Package api exposes the HTTP surface of loadoor: submission, status,
// baseline management and the directory catalogue.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/loadworks/loadoor/pkg/config"
	"github.com/loadworks/loadoor/pkg/service"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	svc        service.Service
	httpServer *http.Server
}

// NewServer creates a new API server over the service facade.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	svc service.Service,
) Server {
	return &server{
		log: log.WithField("component", "api"),
		cfg: cfg,
		svc: svc,
	}
}

// Start builds the router and begins serving.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server failed")
		}
	}()

	s.log.WithField("listen", s.cfg.Listen).Info("API server started")

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	s.log.Debug("API server stopped")

	return nil
}
