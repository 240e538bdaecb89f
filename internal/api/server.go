package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lockstead/lockstead-core/internal/bridge"
	"github.com/lockstead/lockstead-core/internal/family"
	"github.com/lockstead/lockstead-core/internal/infrastructure/config"
	"github.com/lockstead/lockstead-core/internal/infrastructure/logging"
	"github.com/lockstead/lockstead-core/internal/lock"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Engine   *lock.Engine
	Bridge   *bridge.Bridge
	Family   *family.Coordinator // nil when sharing is disabled
	Version  string
}

// Server is the HTTP API server for lockstead-core.
//
// It is the thin caller surface over the reconciliation engine, the
// automation bridge, and the sync coordinator: every endpoint maps to one
// engine or coordinator operation. The server is created with New() and
// started with Start().
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	cfg     config.APIConfig
	secCfg  config.SecurityConfig
	logger  *logging.Logger
	engine  *lock.Engine
	bridge  *bridge.Bridge
	family  *family.Coordinator
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("lock engine is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("automation bridge is required")
	}

	return &Server{
		cfg:     deps.Config,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		engine:  deps.Engine,
		bridge:  deps.Bridge,
		family:  deps.Family,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server failed", "error", err)
		}
	}()
	return nil
}

// Close shuts the server down gracefully.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleHealth reports process liveness. No auth required.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	familyState := string(family.StateUnavailable)
	if s.family != nil {
		familyState = string(s.family.State())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.version,
		"active_locks": len(s.engine.ListLocks()),
		"family_state": familyState,
	})
}
