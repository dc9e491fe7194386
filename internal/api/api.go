// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/alerting"
	"github.com/good-yellow-bee/lognexus/internal/api/health"
	"github.com/good-yellow-bee/lognexus/internal/broadcast"
	"github.com/good-yellow-bee/lognexus/internal/ingest"
	"github.com/good-yellow-bee/lognexus/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address           string
	QueryTimeout      time.Duration // Timeout for storage-backed API calls
	StreamMaxDuration time.Duration // Max lifetime of an event stream connection
	Verbose           bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.StreamMaxDuration == 0 {
		c.StreamMaxDuration = 30 * time.Minute
	}
}

// Deps are the services the API exposes.
type Deps struct {
	Store     storage.Storage
	Logs      storage.LogRepository
	Ingest    *ingest.Service
	Triggers  *alerting.TriggerService
	Lifecycle *alerting.Lifecycle
	// Hub feeds the event stream; nil disables it.
	Hub    *broadcast.Hub
	Logger logrus.FieldLogger
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	deps          Deps
	log           logrus.FieldLogger
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Ingest == nil || deps.Triggers == nil || deps.Lifecycle == nil {
		return nil, fmt.Errorf("ingest, trigger and lifecycle services are required")
	}
	cfg.SetDefaults()

	logger := deps.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	s := &Server{
		config:        cfg,
		deps:          deps,
		log:           logger.WithField("component", "api"),
		healthHandler: health.NewHandler(),
	}

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.setupRouter(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open up to StreamMaxDuration.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.WithField("address", s.config.Address).Info("HTTP API listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}

func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.QueryTimeout)
}

// fail writes err in its HTTP form and logs unexpected failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	JSONError(w, apiErr)
}
