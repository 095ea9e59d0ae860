package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/tasklane-core/internal/antihammer"
	"github.com/nerrad567/tasklane-core/internal/auth"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/config"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by optional backends reported on /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	DB     *sql.DB

	// FailureDelay is the response floor for failed authentication.
	FailureDelay time.Duration

	Authenticator *auth.Authenticator
	Authorisor    *auth.Authorisor
	Hasher        *auth.PasswordHasher
	Users         auth.UserRepository
	Members       auth.MembershipRepository

	// AntiHammer is optional; nil disables client blocking.
	AntiHammer *antihammer.Guard

	// Registry receives HTTP metrics. A private registry is created when nil.
	Registry *prometheus.Registry

	// Backends are optional dependencies reported on /health by name.
	Backends map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg          config.APIConfig
	logger       *logging.Logger
	security     *logging.Logger
	db           *sql.DB
	authn        *auth.Authenticator
	authz        *auth.Authorisor
	hasher       *auth.PasswordHasher
	users        auth.UserRepository
	members      auth.MembershipRepository
	guard        *antihammer.Guard
	registry     *prometheus.Registry
	metrics      *httpMetrics
	backends     map[string]HealthChecker
	failureDelay time.Duration
	version      string
	server       *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Authenticator == nil || deps.Authorisor == nil {
		return nil, fmt.Errorf("authenticator and authorisor are required")
	}
	if deps.Users == nil || deps.Members == nil || deps.Hasher == nil {
		return nil, fmt.Errorf("user and membership repositories and a hasher are required")
	}

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	metrics, err := newHTTPMetrics(registry)
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		security:     deps.Logger.Security(),
		db:           deps.DB,
		authn:        deps.Authenticator,
		authz:        deps.Authorisor,
		hasher:       deps.Hasher,
		users:        deps.Users,
		members:      deps.Members,
		guard:        deps.AntiHammer,
		registry:     registry,
		metrics:      metrics,
		backends:     deps.Backends,
		failureDelay: deps.FailureDelay,
		version:      deps.Version,
	}, nil
}

// Handler returns the fully wired router. Start uses it; tests can serve
// it through httptest directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
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
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
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

// HealthCheck verifies the API server is running and its database responds.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("api health check: database: %w", err)
		}
	}
	return nil
}
