// GridPulse Core - Energy Telemetry Platform
//
// This is the main entry point for the GridPulse Core application.
// GridPulse ingests telemetry from energy devices (meters, inverters,
// battery systems) over MQTT and polled REST, normalises it through a
// bounded ingestion pipeline, and serves the aggregated readings over
// a REST API and a live WebSocket stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/gridpulse/gridpulse-core/migrations"

	"github.com/gridpulse/gridpulse-core/internal/adapter"
	"github.com/gridpulse/gridpulse-core/internal/api"
	"github.com/gridpulse/gridpulse-core/internal/auth"
	"github.com/gridpulse/gridpulse-core/internal/device"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/config"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/database"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/influxdb"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/logging"
	"github.com/gridpulse/gridpulse-core/internal/infrastructure/mqtt"
	"github.com/gridpulse/gridpulse-core/internal/ingest"
	"github.com/gridpulse/gridpulse-core/internal/store"
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
func run(ctx context.Context) error { //nolint:gocognit // Linear startup sequence: each block wires one subsystem
	log := logging.Default()
	log.Info("starting GridPulse Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	// Open the registry database and run migrations
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Device registry
	registry := device.NewRegistry(device.NewSQLiteRepository(db))
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Auth service (optional)
	var authService *auth.Service
	if cfg.Auth.Enabled {
		authService = auth.NewService(
			auth.NewUserRepository(db),
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.AccessTokenTTL)*time.Minute,
		)
		authService.SetLogger(log)
		if bootErr := authService.Bootstrap(ctx, cfg.Auth.Bootstrap.Username, cfg.Auth.Bootstrap.Password); bootErr != nil {
			return fmt.Errorf("bootstrapping admin user: %w", bootErr)
		}
	} else {
		log.Warn("API authentication is disabled")
	}

	// Aggregation store
	st := store.New(store.Config{
		RetentionHorizon:   cfg.Store.RetentionHorizonDuration(),
		CompactionInterval: cfg.Store.CompactionIntervalDuration(),
	})
	st.SetLogger(log)
	defer st.Close()

	// Long-term archive (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		st.SetArchive(influxClient)
		log.Info("InfluxDB archive connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB archive disabled")
	}

	// Ingestion pipeline
	pipeline := ingest.New(ingest.Config{
		QueueCapacity:    cfg.Ingest.QueueCapacity,
		Workers:          cfg.Ingest.Workers,
		SkewTolerance:    cfg.Ingest.SkewToleranceDuration(),
		RetryAttempts:    cfg.Ingest.RetryAttempts,
		OverflowCapacity: cfg.Ingest.OverflowCapacity,
		SubscriberBuffer: cfg.Ingest.SubscriberBuffer,
		DrainTimeout:     cfg.Ingest.DrainTimeoutDuration(),
	}, registry, st)
	pipeline.SetLogger(log)

	// MQTT adapter
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
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttAdapter := adapter.NewMQTT(mqttClient, pipeline, byte(cfg.MQTT.QoS))
	mqttAdapter.SetLogger(log)

	// REST poller (optional)
	var restPoller *adapter.RESTPoller
	if len(cfg.Poll.Targets) > 0 {
		restPoller = adapter.NewRESTPoller(restConfigFrom(cfg.Poll), pipeline)
		restPoller.SetLogger(log)
		log.Info("REST poller configured", "targets", len(cfg.Poll.Targets))
	}

	// API server
	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		AuthCfg:  cfg.Auth,
		Logger:   log,
		Registry: registry,
		Store:    st,
		Pipeline: pipeline,
		Auth:     authService,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	log.Info("initialisation complete")

	// Run the long-lived loops until the shutdown signal arrives. The
	// pipeline drains its queue on cancellation before Run returns.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.Run(gctx) })
	g.Go(func() error { return st.Run(gctx) })
	g.Go(func() error { return mqttAdapter.Run(gctx) })
	if restPoller != nil {
		g.Go(func() error { return restPoller.Run(gctx) })
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime error: %w", err)
	}

	log.Info("GridPulse Core stopped")
	return nil
}

// restConfigFrom converts the YAML poll settings into adapter config.
func restConfigFrom(cfg config.PollConfig) adapter.RESTConfig {
	targets := make([]adapter.PollTarget, 0, len(cfg.Targets))
	for _, t := range cfg.Targets {
		targets = append(targets, adapter.PollTarget{
			DeviceID: t.DeviceID,
			URL:      t.URL,
			Interval: time.Duration(t.Interval) * time.Second,
		})
	}
	return adapter.RESTConfig{
		Timeout:    time.Duration(cfg.Timeout) * time.Second,
		RetryCount: cfg.RetryCount,
		Targets:    targets,
	}
}

// getConfigPath returns the configuration file path.
// Uses GRIDPULSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRIDPULSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
