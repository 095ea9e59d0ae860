// Tasklane Core - credential and authorisation service
//
// This is the main entry point for the Tasklane Core service. Without
// arguments (or with "serve") it runs the HTTP API. Two operator commands
// are also available:
//
//	tasklane hash-password          hash a password for manual seeding
//	tasklane watch-events           stream security events from the MQTT bus
//	tasklane migrate [up|down|version]
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/tasklane-core/migrations"

	"github.com/nerrad567/tasklane-core/internal/antihammer"
	"github.com/nerrad567/tasklane-core/internal/api"
	"github.com/nerrad567/tasklane-core/internal/audit"
	"github.com/nerrad567/tasklane-core/internal/auth"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/config"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/database"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/logging"
	"github.com/nerrad567/tasklane-core/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"

	// shutdownTimeout bounds the audit queue drain on exit.
	shutdownTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := dispatch(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// dispatch selects the subcommand.
func dispatch(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return run(ctx)
	}

	switch args[0] {
	case "serve":
		return run(ctx)
	case "hash-password":
		return hashPassword(os.Stdin, os.Stdout)
	case "watch-events":
		return watchEvents(ctx, os.Stdout)
	case "migrate":
		return migrate(ctx, args[1:], os.Stdout)
	case "version":
		fmt.Printf("tasklane %s (commit %s, built %s)\n", version, commit, date)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// run starts the API and blocks until ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Tasklane Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	security := log.Security()
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

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
	schemaVersion, _ := db.SchemaVersion(ctx) //nolint:errcheck // informational only
	log.Info("database ready", "path", db.Path(), "schema_version", schemaVersion)

	catalog := auth.DefaultCatalog()
	users := auth.NewUserRepository(db.DB)
	roles := auth.NewRoleRepository(db.DB)
	members := auth.NewMembershipRepository(db.DB)

	if seedErr := auth.SeedRoles(ctx, roles, catalog, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding roles: %w", seedErr)
	}

	hasher := newHasher(cfg, users, security)
	seedPassword, seedErr := auth.SeedSysadmin(ctx, users, hasher, cfg.Security.Bootstrap.Email, security.Logger)
	if seedErr != nil {
		return fmt.Errorf("seeding sysadmin: %w", seedErr)
	}
	if seedPassword != "" {
		fmt.Fprintf(os.Stderr, "initial sysadmin password (shown once): %s\n", seedPassword)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	backends := map[string]api.HealthChecker{}

	guard, stopGuard, err := startAntiHammer(ctx, cfg, log, backends)
	if err != nil {
		return err
	}
	defer stopGuard()

	sinks := []audit.Sink{}
	metricsSink, err := audit.NewMetricsSink(registry)
	if err != nil {
		return fmt.Errorf("registering event metrics: %w", err)
	}
	sinks = append(sinks, metricsSink)

	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() { log.Info("MQTT session up", "reconnects", mqttClient.Reconnects()) })
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
		backends["mqtt"] = mqttClient
		sinks = append(sinks, audit.NewMQTTSink(mqttClient))
	} else {
		log.Info("MQTT event bus disabled")
	}

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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
		backends["influxdb"] = influxClient
		sinks = append(sinks, audit.NewInfluxSink(influxClient, cfg.Service.InstanceID))
	} else {
		log.Info("InfluxDB disabled")
	}

	events := audit.NewDispatcher(security.Logger, audit.DefaultQueueSize, sinks...)
	// Runs past ctx so events from requests still draining are delivered.
	go events.Run(context.WithoutCancel(ctx))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := events.Close(closeCtx); closeErr != nil {
			log.Error("security events not fully delivered", "error", closeErr, "dropped", events.Dropped())
		}
	}()

	authn := auth.NewAuthenticator(auth.AuthenticatorDeps{
		Users:              users,
		Tokens:             auth.NewTokenPairRepository(db.DB),
		Hasher:             hasher,
		Windows:            tokenWindows(cfg.Security.Tokens),
		RawTokenBytes:      cfg.Security.Tokens.RawTokenBytes,
		OptimisticRotation: cfg.Security.Tokens.OptimisticRotation,
		Logger:             security.Logger,
		Events:             events,
	})

	server, err := api.New(api.Deps{
		Config:        cfg.API,
		Logger:        log,
		DB:            db.DB,
		FailureDelay:  cfg.FailureDelay(),
		Authenticator: authn,
		Authorisor:    auth.NewAuthorisor(catalog, roles, nil),
		Hasher:        hasher,
		Users:         users,
		Members:       members,
		AntiHammer:    guard,
		Registry:      registry,
		Backends:      backends,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// loadConfig reads the optional .env file and then the YAML config.
func loadConfig() (*config.Config, error) {
	if err := loadEnvFile(getEnvFilePath()); err != nil {
		return nil, err
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// loadEnvFile exports the variables in path without overriding ones
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TASKLANE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TASKLANE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func getEnvFilePath() string {
	if path := os.Getenv("TASKLANE_ENV_FILE"); path != "" {
		return path
	}
	return defaultEnvFile
}

func passwordParams(cfg config.PasswordConfig) auth.PasswordParams {
	return auth.PasswordParams{
		TimeCost:    cfg.TimeCost,
		MemoryCost:  cfg.MemoryCost,
		Parallelism: cfg.Parallelism,
		HashLength:  cfg.HashLength,
		SaltLength:  cfg.SaltLength,
	}
}

func newHasher(cfg *config.Config, users auth.Rehasher, log *logging.Logger) *auth.PasswordHasher {
	opts := []auth.HasherOption{auth.WithLogger(log.Logger)}
	if cfg.Security.Password.RehashOnLogin {
		opts = append(opts, auth.WithRehasher(users))
	}
	return auth.NewPasswordHasher(passwordParams(cfg.Security.Password), opts...)
}

func tokenWindows(cfg config.TokenConfig) auth.TokenWindows {
	return auth.TokenWindows{
		Access:      cfg.AccessTTL,
		Refresh:     cfg.RefreshTTL,
		LongAccess:  cfg.LongAccessTTL,
		LongRefresh: cfg.LongRefreshTTL,
		Elevation:   cfg.ElevationTTL,
	}
}

// startAntiHammer builds the failure guard. It returns a nil guard when
// anti-hammering is disabled. The returned stop func is always safe to call.
func startAntiHammer(ctx context.Context, cfg *config.Config, log *logging.Logger, backends map[string]api.HealthChecker) (*antihammer.Guard, func(), error) {
	ah := cfg.Security.AntiHammer
	if !ah.Enabled {
		log.Info("anti-hammering disabled")
		return nil, func() {}, nil
	}

	if ah.UseRedis {
		opts := &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		if cfg.Redis.TLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client := redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close() //nolint:errcheck // already failing
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}

		backends["redis"] = redisHealth{client}
		log.Info("anti-hammering on redis", "addr", cfg.Redis.Addr, "block_attempts", ah.BlockAttempts)
		store := antihammer.NewRedisStore(client, "", ah.Cooldown)
		stop := func() {
			if err := client.Close(); err != nil {
				log.Error("error closing redis", "error", err)
			}
		}
		return antihammer.New(store, ah.BlockAttempts, log.Security().Logger), stop, nil
	}

	store := antihammer.NewMemoryStore(ah.Cooldown)
	decayCtx, cancel := context.WithCancel(ctx)
	go store.Run(decayCtx)
	log.Info("anti-hammering in memory", "block_attempts", ah.BlockAttempts, "cooldown", ah.Cooldown)
	return antihammer.New(store, ah.BlockAttempts, log.Security().Logger), cancel, nil
}

// redisHealth adapts *redis.Client to api.HealthChecker.
type redisHealth struct {
	client *redis.Client
}

func (h redisHealth) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
