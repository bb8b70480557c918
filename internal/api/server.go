package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/database"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
	"github.com/pourwell/pourwell-core/internal/infrastructure/mqtt"
	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// PumpStore reads and replaces the pump bindings.
// It is satisfied by *recipe.PumpConfigStore.
type PumpStore interface {
	Current() recipe.PumpConfig
	Save(cfg recipe.PumpConfig) error
}

// RecipeStore serves the recipe book.
// It is satisfied by *recipe.Store.
type RecipeStore interface {
	List() []recipe.Recipe
	Lookup(name string) (recipe.Recipe, error)
	SetFavorite(name string, favorite bool) (recipe.Recipe, error)
}

// PumpMonitor reports the last commanded direction of a channel.
// It is satisfied by *pump.Driver.
type PumpMonitor interface {
	State(channel int) (pump.Direction, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Service *dispense.Service
	Pumps   PumpStore
	Recipes RecipeStore
	Motor   PumpMonitor  // optional: live pump directions
	DB      *database.DB // optional: pool metrics and health
	MQTT    *mqtt.Client // optional: connection state
	Hub     *Hub         // if set, the server uses this hub instead of creating its own
	Version string
}

// Server is the HTTP API server for Pourwell Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	service   *dispense.Service
	pumps     PumpStore
	recipes   RecipeStore
	motor     PumpMonitor
	db        *database.DB
	mqtt      *mqtt.Client
	version   string
	startTime time.Time

	server      *http.Server
	hub         *Hub
	externalHub bool

	// ctx outlives requests; background prime and clean run under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, service, stores)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("dispense service is required")
	}
	if deps.Pumps == nil {
		return nil, fmt.Errorf("pump store is required")
	}
	if deps.Recipes == nil {
		return nil, fmt.Errorf("recipe store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		service:   deps.Service,
		pumps:     deps.Pumps,
		recipes:   deps.Recipes,
		motor:     deps.Motor,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// Background work started by handlers stops when ctx ends or on Close.
func (s *Server) Start(ctx context.Context) error {
	context.AfterFunc(ctx, s.cancel)

	if !s.externalHub {
		go s.hub.Run(s.ctx)
	}

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
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.cancel()

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

// HealthCheck verifies the API server is running and responsive.
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
