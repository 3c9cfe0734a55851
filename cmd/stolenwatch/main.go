// stolenwatch - stolen device geofence alerting daemon
//
// stolenwatch polls the fleet-management device directory for devices
// carrying the configured "stolen" tag, detects when one of them powers on
// (its last-connection time moves forward), resolves its location and
// e-mails the operator once when it is inside the watched area.
//
// Usage:
//
//	stolenwatch              run the daemon until SIGINT/SIGTERM
//	stolenwatch -history 20  print the 20 most recent alert decisions and exit
//	stolenwatch -version     print version information and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/nerrad567/stolenwatch/migrations"

	"github.com/nerrad567/stolenwatch/internal/alert"
	"github.com/nerrad567/stolenwatch/internal/api"
	"github.com/nerrad567/stolenwatch/internal/audit"
	"github.com/nerrad567/stolenwatch/internal/geofence"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/config"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/database"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/logging"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/stolenwatch/internal/infrastructure/redisstore"
	"github.com/nerrad567/stolenwatch/internal/knox"
	"github.com/nerrad567/stolenwatch/internal/tracker"
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

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// options are the command-line flags.
type options struct {
	history     int
	showVersion bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("stolenwatch", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.IntVar(&opts.history, "history", 0, "print the N most recent alert decisions and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.history < 0 {
		return opts, fmt.Errorf("-history must not be negative")
	}
	return opts, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: command-line arguments without the program name
//   - stdout: destination of -history and -version output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "stolenwatch %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	log := logging.Default()

	configPath := getConfigPath()
	log.Debug("loading configuration", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting stolenwatch",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	auditRepo := audit.NewSQLiteRepository(db.DB)

	if opts.history > 0 {
		return printHistory(ctx, stdout, auditRepo, opts.history)
	}

	var publishers []alert.Publisher
	var sinks observerSinks
	checks := []api.Check{{Name: "database", Checker: db, Required: true}}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, mqtt.ErrDisabled):
		log.Info("MQTT disabled")
	case err != nil:
		return fmt.Errorf("connecting to MQTT: %w", err)
	default:
		mqttClient.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		publishers = append(publishers, &mqttPublisher{client: mqttClient})
		checks = append(checks, api.Check{Name: "mqtt", Checker: mqttClient})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
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
		sinks.influx = influxClient
		checks = append(checks, api.Check{Name: "influxdb", Checker: influxClient})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	redisStore, err := redisstore.Connect(ctx, cfg.Redis)
	switch {
	case errors.Is(err, redisstore.ErrDisabled):
		log.Info("Redis disabled")
	case err != nil:
		return fmt.Errorf("connecting to Redis: %w", err)
	default:
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisStore.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		publishers = append(publishers, &redisPublisher{store: redisStore})
		sinks.redis = redisStore
		checks = append(checks, api.Check{Name: "redis", Checker: redisStore})
		log.Info("Redis connected", "addr", cfg.Redis.Addr)
	}

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed", "backends", len(checks))

	poller, err := buildPoller(cfg, auditRepo, publishers, sinks, log)
	if err != nil {
		return err
	}

	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log.With("component", "api"),
			Status:  poller,
			Audit:   auditRepo,
			Checks:  checks,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := poller.Run(ctx); err != nil {
		return fmt.Errorf("poll loop: %w", err)
	}

	log.Info("stolenwatch stopped")
	return nil
}

// buildPoller wires the directory client, the mail dispatcher and the
// optional sinks into a Poller.
func buildPoller(cfg *config.Config, auditRepo audit.Repository, publishers []alert.Publisher, sinks observerSinks, log *logging.Logger) (*tracker.Poller, error) {
	directory, err := knox.New(knox.Config{
		BaseURL:      cfg.Knox.BaseURL,
		TokenURL:     cfg.Knox.TokenURL,
		ClientID:     cfg.Knox.ClientID,
		ClientSecret: cfg.Knox.ClientSecret,
		PageSize:     cfg.Knox.PageSize,
		DeviceStatus: cfg.Knox.DeviceStatus,
		Timeout:      cfg.RequestTimeout(),
		Logger:       log.With("component", "knox"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating directory client: %w", err)
	}

	sender := alert.NewSMTPSender(alert.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		To:       cfg.SMTP.To,
		Timeout:  cfg.SMTPTimeout(),
	})

	fence := geofence.Fence{
		Center:   geofence.Point{Latitude: *cfg.Watch.Latitude, Longitude: *cfg.Watch.Longitude},
		RadiusKm: cfg.Watch.RadiusKm,
	}

	dispatcher, err := alert.NewDispatcher(alert.DispatcherOptions{
		Sender: sender,
		Format: alert.FormatOptions{
			AreaName:       cfg.Watch.AreaName,
			RadiusKm:       cfg.Watch.RadiusKm,
			UTCOffsetHours: cfg.Alert.UTCOffsetHours,
			MapURLTemplate: cfg.Alert.MapURLTemplate,
		},
		Audit:       auditRepo,
		Publishers:  publishers,
		Logger:      log.With("component", "alert"),
		SendTimeout: cfg.SMTPTimeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	pollerLog := log.With("component", "tracker")
	pollerOpts := tracker.Options{
		Tag:        cfg.Watch.Tag,
		Fence:      fence,
		Interval:   cfg.RefreshInterval(),
		Tokens:     directory,
		Directory:  directory,
		Dispatcher: dispatcher,
		Audit:      auditRepo,
		Logger:     pollerLog,
	}
	if !sinks.empty() {
		sinks.log = pollerLog
		pollerOpts.Observer = &sinks
	}

	poller, err := tracker.NewPoller(pollerOpts)
	if err != nil {
		return nil, fmt.Errorf("creating poller: %w", err)
	}
	return poller, nil
}

// healthCheck verifies every connected backend answers, stopping at the
// first failure. Optional sinks only appear in checks when they connected.
func healthCheck(ctx context.Context, checks []api.Check) error {
	for _, c := range checks {
		if err := c.Checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses STOLENWATCH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("STOLENWATCH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
