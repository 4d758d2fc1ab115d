// Ariston Bridge
//
// This is the main entry point for the Ariston bridge. It keeps a local cache
// of an Ariston NET heating plant in sync with the vendor cloud and exposes it
// over MQTT, a REST API and a WebSocket stream:
//   - Polls the remote service and publishes every parameter change
//   - Executes set requests with optimistic updates and bounded retries
//   - Records set outcomes in SQLite and numeric telemetry in InfluxDB
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/nerrad567/ariston-bridge/migrations"

	"github.com/nerrad567/ariston-bridge/internal/api"
	"github.com/nerrad567/ariston-bridge/internal/auth"
	"github.com/nerrad567/ariston-bridge/internal/bridges/ariston"
	"github.com/nerrad567/ariston-bridge/internal/history"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/ariston-bridge/internal/infrastructure/mqtt"
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

	if err := execute(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute parses the command line and either runs the bridge or performs a
// one-shot command.
func execute(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("aristonbridge", flag.ContinueOnError)
	configPath := fs.String("config", getConfigPath(), "path to the YAML configuration file")
	mintToken := fs.String("mint-token", "", "print an API token for `subject:role` and exit")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch {
	case *showVersion:
		fmt.Fprintf(stdout, "aristonbridge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	case *mintToken != "":
		cfg, err := config.Load(*configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		token, err := issueToken(cfg, *mintToken)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, token)
		return nil
	default:
		return run(ctx, *configPath)
	}
}

// issueToken signs a token for spec "subject:role" with the configured secret.
func issueToken(cfg *config.Config, spec string) (string, error) {
	if cfg.Security.JWT.Secret == "" {
		return "", fmt.Errorf("security.jwt.secret is not set")
	}
	subject, role, ok := strings.Cut(spec, ":")
	if !ok || subject == "" {
		return "", fmt.Errorf("mint-token: want subject:role, got %q", spec)
	}
	token, err := auth.GenerateToken(subject, auth.Role(role), cfg.Security.JWT.Secret, cfg.GetAccessTokenTTL())
	if err != nil {
		return "", fmt.Errorf("mint-token: %w", err)
	}
	return token, nil
}

// run starts every component in dependency order, waits for ctx to be
// cancelled and shuts down in reverse order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Ariston bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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
	log.Debug("ariston settings", "ariston", cfg.Ariston.String())

	// Database and set history
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	historyRepo := history.NewSQLiteRepository(db.DB)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
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
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	// Engine
	engine, err := newEngine(cfg, log)
	if err != nil {
		return err
	}

	recorder, err := history.NewRecorder(history.RecorderConfig{
		Repository: historyRepo,
		Retention:  cfg.GetHistoryRetention(),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("creating history recorder: %w", err)
	}
	recorder.Start(context.WithoutCancel(ctx))
	defer func() {
		log.Info("stopping history recorder", "dropped", recorder.Dropped())
		recorder.Stop()
	}()
	engine.AddSetObserver(recorder.Observe)

	if influxClient != nil {
		detach := ariston.AttachTelemetry(cfg.Bridge.ID, engine, influxClient)
		defer detach()
	}

	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting engine: %w", startErr)
	}
	defer func() {
		log.Info("stopping engine")
		engine.Stop()
	}()

	// MQTT bridge
	if mqttClient != nil {
		bridge, bridgeErr := ariston.NewBridge(ariston.BridgeOptions{
			ID:             cfg.Bridge.ID,
			Version:        version,
			HealthInterval: cfg.GetHealthInterval(),
			MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
			Engine:         engine,
			Logger:         log,
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping bridge")
			bridge.Stop()
		}()
	}

	// REST + WebSocket API
	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			Engine:   engine,
			History:  historyRepo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("security.jwt.secret is not set, API writes are unauthenticated")
		}
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// newEngine builds the remote client and engine from configuration.
func newEngine(cfg *config.Config, log *logging.Logger) (*ariston.Engine, error) {
	client, err := ariston.NewClient(ariston.ClientOptions{
		BaseURL:        cfg.Ariston.BaseURL,
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating remote client: %w", err)
	}

	engine, err := ariston.NewEngine(ariston.EngineOptions{
		API:            client,
		Username:       cfg.Ariston.Username,
		Password:       cfg.Ariston.Password,
		Gateway:        cfg.Ariston.Gateway,
		Parameters:     cfg.Ariston.Parameters,
		Zones:          cfg.Ariston.Zones,
		Period:         cfg.GetPeriod(),
		SetRetryDelay:  cfg.GetSetRetryDelay(),
		MaxSetRetries:  cfg.Ariston.MaxSetRetries,
		RequestTimeout: cfg.GetRequestTimeout(),
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// getConfigPath returns the configuration file path.
// Uses ARISTON_BRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ARISTON_BRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the infrastructure connections that are enabled.
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

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface, whose handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements ariston.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ariston.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements ariston.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
