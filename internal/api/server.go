package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-connect/internal/bridges/avr"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/corelink"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/solar"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-connect/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LinkStatusProvider reports controller link state for the status endpoint.
// This keeps the API server off the bridge's concrete type so the two can
// be wired in either order.
type LinkStatusProvider interface {
	SlotStates() map[string]string
	SlotLiveness() map[string]bool
	Counters() corelink.BridgeCounters
}

// SolarStatusProvider reports the solar poller's health and latest snapshot.
type SolarStatusProvider interface {
	Status() solar.Status
}

// AVRStatusProvider reports the AVR serial bridge's health and counters.
type AVRStatusProvider interface {
	Status() avr.Status
}

// SolarHistoryProvider serves recent solar telemetry for the history endpoint.
// Satisfied by the InfluxDB client.
type SolarHistoryProvider interface {
	RecentSolarSamples(ctx context.Context, window time.Duration) ([]influxdb.SolarSample, error)
	IsConnected() bool
}

// BusStatusReporter reports local bus connectivity. Satisfied by the MQTT client.
type BusStatusReporter interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Logger      *logging.Logger
	Link        LinkStatusProvider   // required: controller link status
	Journal     journal.Repository   // optional: events endpoint errors without it
	Solar       SolarStatusProvider  // optional: omitted from status when disabled
	AVR         AVRStatusProvider    // optional: omitted from status when disabled
	Influx      SolarHistoryProvider // optional: history endpoint errors without it
	Bus         BusStatusReporter    // optional: bus block omitted from status
	DB          *database.DB         // optional: database block omitted from status
	ExternalHub *Hub                 // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the local HTTP and WebSocket surface of the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	link        LinkStatusProvider
	journal     journal.Repository
	solar       SolarStatusProvider
	avr         AVRStatusProvider
	influx      SolarHistoryProvider
	bus         BusStatusReporter
	db          *database.DB
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, link provider)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link status provider is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		link:      deps.Link,
		journal:   deps.Journal,
		solar:     deps.Solar,
		avr:       deps.AVR,
		influx:    deps.Influx,
		bus:       deps.Bus,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// Use externally-provided hub if available (needed when the corelink
	// bridge also requires the hub for WebSocket broadcasting).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	// Build router
	router := s.buildRouter()

	// Create HTTP server
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	// Start listening in background
	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
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
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
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

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
