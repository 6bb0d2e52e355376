// Blinky Core - BLE discovery gateway
//
// This is the main entry point for the blinkyd daemon. It ingests scan
// observations from edge scanners over MQTT, maintains the discovery
// registry, decodes Blinky LED/button state, and serves the REST and
// WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/blinky-core/migrations"

	"github.com/nerrad567/blinky-core/internal/api"
	blinkybridge "github.com/nerrad567/blinky-core/internal/bridges/blinky"
	"github.com/nerrad567/blinky-core/internal/discovery"
	"github.com/nerrad567/blinky-core/internal/infrastructure/config"
	"github.com/nerrad567/blinky-core/internal/infrastructure/database"
	"github.com/nerrad567/blinky-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/blinky-core/internal/infrastructure/logging"
	"github.com/nerrad567/blinky-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/blinky-core/internal/scand"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Blinky Core",
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

	// Open database
	db, err := database.Open(database.Config{
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

	// Initialise discovery registry and persisted catalogue
	registry := discovery.New(discovery.Options{
		ServiceUUID:    cfg.Discovery.ServiceUUID,
		RSSIThreshold:  cfg.Discovery.RSSIThreshold,
		RequireService: cfg.Discovery.FilterByService,
		RequireNearby:  cfg.Discovery.FilterByDistance,
		Logger:         log,
	})
	catalogue := discovery.NewSQLiteRepository(db.DB)
	log.Info("discovery registry initialised",
		"service_uuid", cfg.Discovery.ServiceUUID,
		"rssi_threshold", cfg.Discovery.RSSIThreshold,
	)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
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

	// Start the Blinky bridge: scan ingestion, state decoding, LED commands
	bridge, err := startBridge(ctx, cfg, mqttClient, registry, catalogue, influxClient, log)
	if err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer func() {
		log.Info("stopping bridge")
		bridge.Stop()
	}()

	// Start managed scanner (if configured)
	if cfg.Scanner.Managed {
		scanner, scanErr := startScanner(ctx, cfg, bridge, log)
		if scanErr != nil {
			return fmt.Errorf("starting scanner: %w", scanErr)
		}
		defer func() {
			log.Info("stopping scanner")
			if stopErr := scanner.Stop(); stopErr != nil {
				log.Error("error stopping scanner", "error", stopErr)
			}
		}()
	} else {
		log.Info("scanner management disabled, expecting external scanners")
	}

	// Start API server and wire bridge events to WebSocket clients
	apiServer, err := startAPI(ctx, cfg, registry, catalogue, bridge, db, log)
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
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, scanner, bridge, InfluxDB, MQTT, database.

	log.Info("Blinky Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BLINKY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BLINKY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startBridge creates and starts the Blinky MQTT bridge.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	mqttClient *mqtt.Client,
	registry *discovery.Registry,
	catalogue discovery.Repository,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*blinkybridge.Bridge, error) {
	opts := blinkybridge.Options{
		GatewayID:  cfg.Gateway.ID,
		QoS:        byte(cfg.MQTT.QoS),
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Registry:   registry,
		Catalogue:  catalogue,
		Logger:     log,
	}
	// Assign only when non-nil so the interface stays nil when disabled.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := blinkybridge.New(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("bridge started", "gateway_id", cfg.Gateway.ID)

	return bridge, nil
}

// startScanner creates and starts the managed blinky-scand process.
func startScanner(ctx context.Context, cfg *config.Config, bridge *blinkybridge.Bridge, log *logging.Logger) (*scand.Manager, error) {
	scheme := "tcp"
	if cfg.MQTT.Broker.TLS {
		scheme = "ssl"
	}

	scanner, err := scand.NewManager(scand.Config{
		Managed:            cfg.Scanner.Managed,
		Binary:             cfg.Scanner.Binary,
		ScannerID:          cfg.Scanner.ScannerID,
		Adapter:            cfg.Scanner.Adapter,
		ActiveScan:         cfg.Scanner.ActiveScan,
		BrokerURL:          fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		Username:           cfg.MQTT.Auth.Username,
		Password:           cfg.MQTT.Auth.Password,
		RestartOnFailure:   cfg.Scanner.RestartOnFailure,
		RestartDelay:       time.Duration(cfg.Scanner.RestartDelaySeconds) * time.Second,
		MaxRestartAttempts: cfg.Scanner.MaxRestartAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating scanner manager: %w", err)
	}
	scanner.SetLogger(log)

	// The bridge sees scanner health reports on MQTT; the manager uses that
	// as the liveness signal for restart decisions.
	scanner.SetHealthChecker(bridge)

	log.Info("starting scanner",
		"scanner_id", cfg.Scanner.ScannerID,
		"adapter", cfg.Scanner.Adapter,
	)

	if err := scanner.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting scanner: %w", err)
	}

	return scanner, nil
}

// startAPI creates and starts the HTTP API server, then wires bridge
// callbacks into the WebSocket hub so decoded state changes and scanner
// health transitions reach subscribed clients.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	registry *discovery.Registry,
	catalogue discovery.Repository,
	bridge *blinkybridge.Bridge,
	db *database.DB,
	log *logging.Logger,
) (*api.Server, error) {
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Registry:  registry,
		Catalogue: catalogue,
		Bridge:    bridge,
		Database:  db,
		Version:   version,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	hub := server.Hub()
	bridge.SetOnLEDState(func(address string, on bool, at time.Time) {
		hub.Broadcast(api.ChannelStateChanged, map[string]any{
			"address":   address,
			"led":       on,
			"timestamp": at.UTC().Format(time.RFC3339),
		})
	})
	bridge.SetOnButton(func(address string, pressed bool, at time.Time) {
		hub.Broadcast(api.ChannelButtonChanged, map[string]any{
			"address":   address,
			"pressed":   pressed,
			"timestamp": at.UTC().Format(time.RFC3339),
		})
	})
	bridge.SetOnScannerHealth(func(msg blinkybridge.HealthMessage) {
		hub.Broadcast(api.ChannelBridgeHealth, msg)
	})

	return server, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The only difference is the Subscribe handler
// signature: the infrastructure client's handlers return an error, the
// bridge's do not.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements blinky.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements blinky.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements blinky.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
