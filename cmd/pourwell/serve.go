package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pourwell/pourwell-core/internal/api"
	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
	"github.com/pourwell/pourwell-core/internal/infrastructure/database"
	"github.com/pourwell/pourwell-core/internal/infrastructure/influxdb"
	"github.com/pourwell/pourwell-core/internal/infrastructure/logging"
	"github.com/pourwell/pourwell-core/internal/infrastructure/mqtt"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dispenser service",
		Long: `Run the dispenser until interrupted: the HTTP API and WebSocket stream,
MQTT remote commands when enabled, and live reload of the pump and recipe files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, log)
		},
	}
}

// run is the service lifecycle, separated from the command for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//   - log: Logger instance
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, cfg *config.Config, log *logging.Logger) error { //nolint:gocognit // Startup sequence: each optional collaborator adds a branch
	log.Info("starting Pourwell Core",
		"version", version,
		"commit", commit,
		"build_date", date,
		"machine", cfg.Machine.ID,
	)

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)
	serviceOpts := []dispense.Option{dispense.WithHub(hub)}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var err error
		mqttClient, err = mqtt.Connect(cfg.MQTT)
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
		serviceOpts = append(serviceOpts, dispense.WithMQTT(mqttClient))
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		var err error
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Machine.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		serviceOpts = append(serviceOpts, dispense.WithTelemetry(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	d, err := openDispenser(ctx, cfg, log, serviceOpts...)
	if err != nil {
		return err
	}
	// Runs on every exit path: the executor is closed and every pump
	// commanded to stop before the lines are released.
	defer func() {
		if closeErr := d.close(log); closeErr != nil {
			log.Error("error shutting down dispenser", "error", closeErr)
		}
	}()

	if mqttClient != nil {
		if err := mqttClient.SubscribeCommands(func(action string, payload []byte) error {
			return d.service.HandleCommand(ctx, action, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to commands: %w", err)
		}
		log.Info("listening for remote commands", "topic", mqtt.Topics{}.AllCommands())
	}

	watcher, err := watchStores(log, d.pumps, d.recipes)
	if err != nil {
		log.Warn("file watching unavailable, edits need a restart", "error", err)
	} else {
		defer watcher.Close() //nolint:errcheck // Best-effort on shutdown
	}

	if err := healthCheck(ctx, d.db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if cfg.API.Enabled {
		srv, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log,
			Service: d.service,
			Pumps:   d.pumps,
			Recipes: d.recipes,
			Motor:   d.driver,
			DB:      d.db,
			MQTT:    mqttClient,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. File watcher
	// 3. Dispenser (stop pumps, release lines, database)
	// 4. InfluxDB (if enabled)
	// 5. MQTT (if enabled)

	log.Info("Pourwell Core stopped")
	return nil
}

// watchStores reloads the pump bindings and the recipe book when their
// files change on disk.
func watchStores(log *logging.Logger, pumps *recipe.PumpConfigStore, recipes *recipe.Store) (*recipe.Watcher, error) {
	w, err := recipe.NewWatcher(0, log)
	if err != nil {
		return nil, err
	}
	if err := w.Watch(pumps.Path(), pumps.Load); err != nil {
		w.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	if err := w.Watch(recipes.Path(), recipes.Load); err != nil {
		w.Close() //nolint:errcheck // Already failing
		return nil, err
	}
	w.Start()
	return w, nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
