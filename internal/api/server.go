package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/joao-cbj/silo-watch-backend/internal/audit"
	"github.com/joao-cbj/silo-watch-backend/internal/auth"
	"github.com/joao-cbj/silo-watch-backend/internal/correlation"
	"github.com/joao-cbj/silo-watch-backend/internal/gateway"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/config"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/logging"
	"github.com/joao-cbj/silo-watch-backend/internal/metrics"
	"github.com/joao-cbj/silo-watch-backend/internal/provisioning"
	"github.com/joao-cbj/silo-watch-backend/internal/reading"
	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a dependency whose health is reported by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadingMirror receives every ingested reading. *influxdb.Client
// implements it.
type ReadingMirror interface {
	WriteReading(identifier string, temperature, humidity float64, at time.Time)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Silos        silo.Repository
	Readings     reading.Repository
	Journal      audit.Repository
	Users        auth.UserRepository
	Orchestrator *provisioning.Orchestrator
	Registry     *correlation.Registry[gateway.Response]

	// Relay serves the polling gateway's paths. Nil when the gateway uses MQTT.
	Relay *gateway.PullTransport

	// Optional.
	Metrics *metrics.Collector
	Mirror  ReadingMirror
	Health  map[string]HealthChecker
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	silos    silo.Repository
	readings reading.Repository
	journal  audit.Repository
	users    auth.UserRepository
	orch     *provisioning.Orchestrator
	registry *correlation.Registry[gateway.Response]
	relay    *gateway.PullTransport
	metrics  *metrics.Collector
	mirror   ReadingMirror
	health   map[string]HealthChecker
	version  string

	// gatewayMu serialises state-changing gateway operations; the gateway
	// handles one BLE connection at a time.
	gatewayMu sync.Mutex

	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
	startTime time.Time
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Silos == nil || deps.Readings == nil {
		return nil, errors.New("silo and reading repositories are required")
	}
	if deps.Users == nil {
		return nil, errors.New("user repository is required")
	}
	if deps.Orchestrator == nil || deps.Registry == nil {
		return nil, errors.New("provisioning orchestrator and registry are required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, errors.New("JWT secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		silos:     deps.Silos,
		readings:  deps.Readings,
		journal:   deps.Journal,
		users:     deps.Users,
		orch:      deps.Orchestrator,
		registry:  deps.Registry,
		relay:     deps.Relay,
		metrics:   deps.Metrics,
		mirror:    deps.Mirror,
		health:    deps.Health,
		version:   deps.Version,
		hub:       NewHub(deps.Logger),
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
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

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
