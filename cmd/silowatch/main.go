// Silo Watch backend.
//
// Serves the silo and reading API, and drives the BLE gateway that binds
// temperature/humidity sensors to silos. Gateway commands travel over MQTT
// or, for gateways without a broker connection, through a polled relay
// path store served by the same API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joao-cbj/silo-watch-backend/migrations"

	"github.com/joao-cbj/silo-watch-backend/internal/api"
	"github.com/joao-cbj/silo-watch-backend/internal/audit"
	"github.com/joao-cbj/silo-watch-backend/internal/auth"
	"github.com/joao-cbj/silo-watch-backend/internal/correlation"
	"github.com/joao-cbj/silo-watch-backend/internal/gateway"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/config"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/database"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/influxdb"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/logging"
	"github.com/joao-cbj/silo-watch-backend/internal/infrastructure/mqtt"
	"github.com/joao-cbj/silo-watch-backend/internal/metrics"
	"github.com/joao-cbj/silo-watch-backend/internal/provisioning"
	"github.com/joao-cbj/silo-watch-backend/internal/reading"
	"github.com/joao-cbj/silo-watch-backend/internal/silo"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting silo watch backend",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	collector := metrics.New()
	registry := correlation.New[gateway.Response]()
	defer registry.Close()
	collector.RegisterOutstanding(registry.Outstanding)

	dispatcher := gateway.NewDispatcher(registry, gateway.DispatcherOptions{
		Logger: log.Component("gateway"),
		OnDrop: collector.IncResponseDropped,
	})

	health := map[string]api.HealthChecker{"database": db}

	// Gateway transport
	var (
		transport gateway.Transport
		relay     *gateway.PullTransport
	)
	switch cfg.Gateway.Transport {
	case config.TransportMQTT:
		mqttClient, connErr := mqtt.ConnectWithLogger(cfg.MQTT, log.Component("mqtt"))
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", mqttClient.ClientID(),
		)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		push := gateway.NewPushTransport(mqttClient, gateway.PushConfig{
			CommandTopic:  cfg.Gateway.Topics.Command,
			ResponseTopic: cfg.Gateway.Topics.Responses,
		}, dispatcher, log.Component("gateway"))
		if startErr := push.Start(); startErr != nil {
			return fmt.Errorf("starting gateway push transport: %w", startErr)
		}
		defer push.Close() //nolint:errcheck // Shutdown path
		transport = push
		health["mqtt"] = mqttClient

	case config.TransportPoll:
		relay = gateway.NewPullTransport(gateway.NewSQLitePathStore(db), registry, dispatcher, gateway.PullConfig{
			Interval:     cfg.Gateway.PollInterval(),
			CommandRoot:  cfg.Gateway.Poll.CommandRoot,
			ResponseRoot: cfg.Gateway.Poll.ResponseRoot,
		}, log.Component("gateway"))
		defer relay.Close() //nolint:errcheck // Shutdown path
		transport = relay
		log.Info("gateway relay enabled",
			"interval", cfg.Gateway.PollInterval(),
			"command_root", cfg.Gateway.Poll.CommandRoot,
		)
	}

	// Time-series mirror (optional)
	var mirror *influxdb.Client
	mirror, err = influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := mirror.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		mirror.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		health["influxdb"] = mirror
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	journal := audit.NewSQLiteRepository(db)
	orchDeps := provisioning.Deps{
		Registry:  registry,
		Transport: transport,
		Sync:      provisioning.NewSQLiteSynchronizer(db, log.Component("provisioning")),
		Journal:   journal,
		Metrics:   collector,
		Logger:    log.Component("provisioning"),
	}
	if mirror != nil {
		orchDeps.Mirror = mirror
	}
	orch, err := provisioning.New(orchDeps, provisioning.ConfigFromGateway(cfg.Gateway))
	if err != nil {
		return fmt.Errorf("creating provisioning orchestrator: %w", err)
	}
	log.Info("provisioning ready",
		"transport", orch.TransportName(),
		"timeout_policy", orch.Policy(),
	)

	users := auth.NewUserRepository(db)
	if _, seedErr := auth.SeedAdmin(ctx, users, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding admin user: %w", seedErr)
	}

	apiDeps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		Logger:       log,
		Silos:        silo.NewSQLiteRepository(db),
		Readings:     reading.NewSQLiteRepository(db),
		Journal:      journal,
		Users:        users,
		Orchestrator: orch,
		Registry:     registry,
		Relay:        relay,
		Metrics:      collector,
		Health:       health,
		Version:      version,
	}
	if mirror != nil {
		apiDeps.Mirror = mirror
	}
	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API server, InfluxDB, gateway
	// transport, MQTT, registry, database.
	log.Info("silo watch backend stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SILOWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SILOWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
