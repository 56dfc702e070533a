// Package api provides the HTTP REST API and WebSocket server for GridPulse.
//
// It exposes device registry operations, stored telemetry queries (latest,
// history, summary) and a live readings stream over WebSocket.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gridpulse/gridpulse-core/internal/auth"
	"github.com/gridpulse/gridpulse-core/internal/device"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/config"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/logging"
	"github.com/gridpulse/gridpulse-core/internal/ingest"
	"github.com/gridpulse/gridpulse-core/internal/store"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	AuthCfg  config.AuthConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Auth     *auth.Service // required when AuthCfg.Enabled
	Version  string
}

// Server is the HTTP API server for GridPulse.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	authCfg  config.AuthConfig
	logger   *logging.Logger
	registry *device.Registry
	store    *store.Store
	pipeline *ingest.Pipeline
	auth     *auth.Service
	version  string

	server    *http.Server
	ctx       context.Context    // server-scoped; done when Close() is called
	cancel    context.CancelFunc // cancels ctx and the WebSocket streams on it
	startedAt time.Time
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("aggregation store is required")
	}
	if deps.AuthCfg.Enabled && deps.Auth == nil {
		return nil, fmt.Errorf("auth service is required when auth is enabled")
	}
	// Pipeline is optional — without it the WebSocket stream and ingest
	// metrics are unavailable but stored queries still function.

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		authCfg:  deps.AuthCfg,
		logger:   deps.Logger,
		registry: deps.Registry,
		store:    deps.Store,
		pipeline: deps.Pipeline,
		auth:     deps.Auth,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; use Close() to stop it.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
