// Lockstead Core - Device Lock Enforcement Engine
//
// This is the main entry point for the Lockstead Core application.
// Lockstead pins smart-home devices to a chosen power state and keeps
// them there:
//   - Reversion rules installed on the automation platform for instant snap-back
//   - A polling reconciliation loop as the safety net behind the rules
//   - Timed locks that expire and clean up after themselves
//   - Optional household sharing so every family member sees the same locks
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lockstead/lockstead-core/migrations"

	"github.com/lockstead/lockstead-core/internal/api"
	"github.com/lockstead/lockstead-core/internal/bridge"
	"github.com/lockstead/lockstead-core/internal/control"
	"github.com/lockstead/lockstead-core/internal/family"
	"github.com/lockstead/lockstead-core/internal/family/remote"
	"github.com/lockstead/lockstead-core/internal/infrastructure/config"
	"github.com/lockstead/lockstead-core/internal/infrastructure/database"
	"github.com/lockstead/lockstead-core/internal/infrastructure/influxdb"
	"github.com/lockstead/lockstead-core/internal/infrastructure/logging"
	"github.com/lockstead/lockstead-core/internal/infrastructure/mqtt"
	"github.com/lockstead/lockstead-core/internal/lock"
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
	log.Info("starting Lockstead Core",
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

	// Connect to InfluxDB (optional diagnostics sink)
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

	// Start the device control port over MQTT
	port := control.NewMQTTPort(&busAdapter{client: mqttClient}, cfg.GetStateFreshness(), byte(cfg.MQTT.QoS))
	port.SetLogger(log)
	if startErr := port.Start(ctx); startErr != nil {
		return fmt.Errorf("starting control port: %w", startErr)
	}
	log.Info("control port started", "state_freshness", cfg.GetStateFreshness())

	// Automation rule bridge with leak mitigation
	ruleBridge := bridge.New(port, bridge.Config{
		TotalRuleCeiling:   cfg.Enforcement.TotalRuleCeiling,
		FeatureRuleCeiling: cfg.Enforcement.FeatureRuleCeiling,
		PurgePause:         cfg.GetPurgePause(),
	})
	ruleBridge.SetLogger(log)
	if influxClient != nil {
		ruleBridge.SetRecorder(influxClient)
	}

	// Lock engine: persistence, expiry timers, reconciliation loop
	lockRepo := lock.NewSQLiteRepository(db.DB)
	engine := lock.NewEngine(port, ruleBridge, lockRepo, cfg.GetPollInterval())
	engine.SetLogger(log)
	engine.SetHouseholdID(cfg.Household.ID)
	if influxClient != nil {
		engine.SetRecorder(influxClient)
	}
	defer func() {
		log.Info("stopping lock engine")
		engine.Stop()
	}()

	// Family sharing (optional)
	var coordinator *family.Coordinator
	if cfg.Remote.Enabled {
		coordinator = startFamilySync(ctx, cfg, db, engine, log)
	} else {
		log.Info("family sharing disabled")
	}
	if coordinator != nil && influxClient != nil {
		coordinator.SetRecorder(influxClient)
	}

	// Restore persisted locks before serving requests. Expired rows are
	// dropped, surviving timers are rescheduled, and the enforcement loop
	// starts if any lock survives.
	if restoreErr := engine.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring locks: %w", restoreErr)
	}
	log.Info("lock state restored", "active_locks", len(engine.ListLocks()))

	// Start the HTTP API
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Security: cfg.Security,
		Logger:   log,
		Engine:   engine,
		Bridge:   ruleBridge,
		Family:   coordinator,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
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
	// 1. API server
	// 2. Lock engine
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Lockstead Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses LOCKSTEAD_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("LOCKSTEAD_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startFamilySync wires the remote store client, the sync coordinator, and
// the push-invalidation stream, then attaches the sharer to the engine.
//
// A failed initial Setup is not fatal: the coordinator retries on its sync
// interval, and local enforcement never depends on the remote store.
//
// Parameters:
//   - ctx: Context bounding the background sync goroutines
//   - cfg: Application configuration
//   - db: Database handle for the local activity cache
//   - engine: Lock engine to attach the sharer to
//   - log: Logger instance
//
// Returns:
//   - *family.Coordinator: Running coordinator, never nil
func startFamilySync(ctx context.Context, cfg *config.Config, db *database.DB, engine *lock.Engine, log *logging.Logger) *family.Coordinator {
	client := remote.NewClient(remote.Config{
		URL:     cfg.Remote.URL,
		Token:   cfg.Remote.Token,
		Timeout: cfg.GetRemoteTimeout(),
	})
	client.SetLogger(log)

	activityRepo := family.NewSQLiteActivityRepository(db.DB)
	coordinator := family.NewCoordinator(client, activityRepo, family.Config{
		HouseholdID:   cfg.Household.ID,
		HouseholdName: cfg.Household.Name,
		MemberName:    cfg.Household.MemberName,
		AccountID:     cfg.Household.AccountID,
		SyncInterval:  cfg.GetSyncInterval(),
	})
	coordinator.SetLogger(log)

	setupCtx, cancel := context.WithTimeout(ctx, cfg.GetRemoteTimeout())
	defer cancel()
	if err := coordinator.Setup(setupCtx); err != nil {
		log.Warn("family sync setup deferred, will retry in background", "error", err)
	} else {
		log.Info("family sync ready",
			"household", cfg.Household.ID,
			"member", cfg.Household.MemberName,
		)
	}

	go coordinator.Run(ctx)
	go client.Subscribe(ctx, []string{"family_member", "shared_lock", "lock_activity"}, func(string) {
		coordinator.NotifyChange()
	})

	engine.SetSharer(family.NewLockSharer(coordinator))
	return coordinator
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	// Check database
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check MQTT
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// busAdapter adapts the infrastructure MQTT client to the control port's
// MessageBus interface. The only mismatch is Subscribe's handler parameter:
// the client takes its named MessageHandler type, the port a plain func.
type busAdapter struct {
	client *mqtt.Client
}

// Publish implements control.MessageBus.
func (a *busAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// PublishRetained implements control.MessageBus.
func (a *busAdapter) PublishRetained(topic string, payload []byte) error {
	return a.client.PublishRetained(topic, payload)
}

// ClearRetained implements control.MessageBus.
func (a *busAdapter) ClearRetained(topic string) error {
	return a.client.ClearRetained(topic)
}

// Subscribe implements control.MessageBus.
func (a *busAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}
