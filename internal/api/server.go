package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/stolenwatch/internal/audit"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/config"
	"github.com/nerrad567/stolenwatch/internal/tracker"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Logger is the logging surface the server needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// StatusProvider reports the poller's current status.
type StatusProvider interface {
	Status() tracker.Status
}

// AuditLister lists audit trail entries.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.AuditLog, error)
}

// HealthChecker is implemented by the database handle and the sink clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check is one backend checked by /health. A failing Required check turns the
// response into a 503; any other failure only marks it degraded.
type Check struct {
	Name     string
	Checker  HealthChecker
	Required bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  Logger
	Status  StatusProvider
	Audit   AuditLister
	Checks  []Check
	Version string
}

// Server is the operations HTTP server.
type Server struct {
	cfg     config.APIConfig
	logger  Logger
	status  StatusProvider
	audit   AuditLister
	checks  []Check
	version string

	server   *http.Server
	listener net.Listener
}

// New creates a new API server. The server is not listening until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Status == nil {
		return nil, fmt.Errorf("status provider is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("audit lister is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		status:  deps.Status,
		audit:   deps.Audit,
		checks:  deps.Checks,
		version: deps.Version,
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// happens synchronously so a port clash is reported to the caller.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s == nil || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
