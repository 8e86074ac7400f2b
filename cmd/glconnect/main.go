// Gray Logic Connect - Controller Gateway
//
// This is the main entry point for the Gray Logic Connect gateway. It keeps
// a secure dual-session link to the home-automation controller and relays
// traffic between that link and the local MQTT bus, alongside a pair of
// device bridges (solar inverter polling, AV receiver serial passthrough)
// and a read-only status API.
//
// For the bus contract, see: docs/protocols/mqtt.md
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/gray-logic-connect/migrations"

	"github.com/nerrad567/gray-logic-connect/internal/api"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/avr"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/corelink"
	"github.com/nerrad567/gray-logic-connect/internal/bridges/solar"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-connect/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-connect/internal/journal"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Connect",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open journal database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Journal repository for link events
	journalRepo := journal.NewSQLiteRepository(db.DB)

	// Connect to the local bus
	busClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to local bus: %w", err)
	}
	defer func() {
		log.Info("disconnecting from local bus")
		if closeErr := busClient.Close(); closeErr != nil {
			log.Error("error closing bus client", "error", closeErr)
		}
	}()
	log.Info("local bus connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Set up bus logging callbacks
	busClient.SetLogger(log)
	busClient.SetOnConnect(func() {
		log.Info("local bus reconnected")
	})
	busClient.SetOnDisconnect(func(err error) {
		log.Warn("local bus disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, shared between the API server and the corelink bridge
	// so link transitions reach connected dashboards.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Bus adapter shared by every bridge.
	bus := &busAdapter{client: busClient}

	// Corelink bridge: the controller link itself.
	linkBridge, err := startCorelink(ctx, cfg, bus, journalRepo, influxClient, hub, log)
	if err != nil {
		return fmt.Errorf("starting corelink bridge: %w", err)
	}
	defer func() {
		log.Info("stopping corelink bridge")
		linkBridge.Stop()
	}()

	// Solar inverter poller (optional)
	var solarBridge *solar.Bridge
	if cfg.Solar.Enabled {
		solarBridge, err = startSolar(ctx, cfg, bus, influxClient, log)
		if err != nil {
			return fmt.Errorf("starting solar poller: %w", err)
		}
		defer func() {
			log.Info("stopping solar poller")
			solarBridge.Stop()
		}()
	} else {
		log.Info("solar poller disabled")
	}

	// AV receiver serial bridge (optional)
	var avrBridge *avr.Bridge
	if cfg.AVR.Enabled {
		avrBridge, err = startAVR(ctx, cfg, bus, log)
		if err != nil {
			return fmt.Errorf("starting AVR bridge: %w", err)
		}
		defer func() {
			log.Info("stopping AVR bridge")
			avrBridge.Stop()
		}()
	} else {
		log.Info("AVR bridge disabled")
	}

	// Status API server
	apiServer, err := startAPI(ctx, cfg, apiDeps{
		link:    linkBridge,
		journal: journalRepo,
		solar:   solarBridge,
		avr:     avrBridge,
		influx:  influxClient,
		bus:     busClient,
		db:      db,
		hub:     hub,
	}, log)
	if err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, busClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. AVR bridge (if enabled)
	// 3. Solar poller (if enabled)
	// 4. Corelink bridge
	// 5. InfluxDB (if enabled)
	// 6. Local bus
	// 7. Database

	log.Info("Gray Logic Connect stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GLCONNECT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GLCONNECT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - busClient: Local bus client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, busClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check local bus
	if err := busClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("bus: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// Corelink slot health travels over the bus (glconnect/health/corelink)
	// rather than gating startup: the controller being unreachable is a
	// reportable condition, not a boot failure.

	return nil
}

// startCorelink builds and starts the controller link bridge.
//
// The metrics recorder is only wired when InfluxDB is enabled; a typed-nil
// client must not end up inside the interface field.
func startCorelink(ctx context.Context, cfg *config.Config, bus corelink.BusClient, journalRepo *journal.SQLiteRepository, influxClient *influxdb.Client, hub *api.Hub, log *logging.Logger) (*corelink.Bridge, error) {
	opts := corelink.BridgeOptions{
		Link: corelink.Config{
			ClientID:       cfg.CoreLink.ClientID,
			PersistenceDir: cfg.CoreLink.PersistenceDir,
		},
		Controller: corelink.ControllerEndpoint{
			Host:      cfg.CoreLink.Controller.Host,
			Port:      cfg.CoreLink.Controller.Port,
			AutoStart: cfg.CoreLink.Controller.AutoStart,
		},
		Profile: corelink.ProfileCredentials{
			Username:  cfg.CoreLink.Profile.Username,
			Password:  cfg.CoreLink.Profile.Password,
			AutoStart: cfg.CoreLink.Profile.AutoStart,
		},
		Bus:     bus,
		Journal: journalRepo,
		Events:  hub,
		Version: version,
		Logger:  log,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := corelink.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("corelink bridge started",
		"controller", fmt.Sprintf("%s:%d", cfg.CoreLink.Controller.Host, cfg.CoreLink.Controller.Port),
		"auto_start", cfg.CoreLink.Controller.AutoStart,
	)

	return bridge, nil
}

// startSolar builds and starts the inverter poller.
func startSolar(ctx context.Context, cfg *config.Config, bus solar.Publisher, influxClient *influxdb.Client, log *logging.Logger) (*solar.Bridge, error) {
	opts := solar.Options{
		URL:      cfg.Solar.URL,
		Interval: cfg.Solar.Interval(),
		Bus:      bus,
		Logger:   log,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}

	bridge, err := solar.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}

	bridge.Start(ctx)
	log.Info("solar poller started",
		"url", cfg.Solar.URL,
		"interval", cfg.Solar.Interval().String(),
	)

	return bridge, nil
}

// startAVR builds and starts the serial passthrough bridge.
func startAVR(ctx context.Context, cfg *config.Config, bus avr.Bus, log *logging.Logger) (*avr.Bridge, error) {
	bridge, err := avr.NewBridge(avr.Options{
		Port:   cfg.AVR.Port,
		Baud:   cfg.AVR.Baud,
		Bus:    bus,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("AVR bridge started", "port", cfg.AVR.Port, "baud", cfg.AVR.Baud)

	return bridge, nil
}

// apiDeps bundles the optional collaborators for the status API so
// startAPI can wire only the ones that exist.
type apiDeps struct {
	link    *corelink.Bridge
	journal *journal.SQLiteRepository
	solar   *solar.Bridge
	avr     *avr.Bridge
	influx  *influxdb.Client
	bus     *mqtt.Client
	db      *database.DB
	hub     *api.Hub
}

// startAPI builds and starts the status API server.
func startAPI(ctx context.Context, cfg *config.Config, deps apiDeps, log *logging.Logger) (*api.Server, error) {
	apiCfg := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Link:        deps.link,
		Journal:     deps.journal,
		Bus:         deps.bus,
		DB:          deps.db,
		ExternalHub: deps.hub,
		Version:     version,
	}
	// Interface fields take concrete pointers only when the subsystem is
	// enabled, so a disabled bridge stays out of the status document.
	if deps.solar != nil {
		apiCfg.Solar = deps.solar
	}
	if deps.avr != nil {
		apiCfg.AVR = deps.avr
	}
	if deps.influx != nil {
		apiCfg.Influx = deps.influx
	}

	server, err := api.New(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting server: %w", err)
	}
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	return server, nil
}

// busAdapter adapts the infrastructure MQTT client to the bridge-side bus
// interfaces. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic string, payload []byte) error
// - Bridges expect: func(topic string, payload []byte)
type busAdapter struct {
	client *mqtt.Client
}

// Publish implements corelink.BusClient, solar.Publisher, and avr.Bus.
func (a *busAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements corelink.BusClient and avr.Bus.
func (a *busAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	// Wrap the void handler to return nil error (bridge handlers don't return errors)
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements corelink.BusClient.
func (a *busAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
