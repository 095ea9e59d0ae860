package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Tasklane Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// ServiceConfig identifies this deployment.
type ServiceConfig struct {
	Name       string `yaml:"name"`
	InstanceID string `yaml:"instance_id"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig groups everything the credential engine needs.
type SecurityConfig struct {
	Password PasswordConfig `yaml:"password"`
	Tokens   TokenConfig    `yaml:"tokens"`

	// FailureDelayMS is the minimum latency of an authentication failure
	// response, measured from the start of the request.
	FailureDelayMS int `yaml:"failure_delay_ms"`

	AntiHammer AntiHammerConfig `yaml:"antihammer"`

	// Bootstrap creates the first system administrator on an empty database.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

// PasswordConfig holds the Argon2id cost parameters.
type PasswordConfig struct {
	TimeCost    uint32 `yaml:"time_cost"`
	MemoryCost  uint32 `yaml:"memory_cost"` // KiB
	Parallelism uint8  `yaml:"parallelism"`
	HashLength  uint32 `yaml:"hash_length"`
	SaltLength  uint32 `yaml:"salt_length"`

	// RehashOnLogin upgrades stored hashes created with weaker parameters.
	RehashOnLogin bool `yaml:"rehash_on_login"`
}

// TokenConfig holds token-pair lifetimes. Durations are Go duration strings.
type TokenConfig struct {
	AccessTTL          time.Duration `yaml:"access_ttl"`
	RefreshTTL         time.Duration `yaml:"refresh_ttl"`
	LongAccessTTL      time.Duration `yaml:"long_access_ttl"`
	LongRefreshTTL     time.Duration `yaml:"long_refresh_ttl"`
	ElevationTTL       time.Duration `yaml:"elevation_ttl"`
	RawTokenBytes      int           `yaml:"raw_token_bytes"`
	OptimisticRotation bool          `yaml:"optimistic_rotation"`
}

// AntiHammerConfig controls the per-IP authentication failure window.
type AntiHammerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Cooldown      time.Duration `yaml:"cooldown"`
	BlockAttempts int           `yaml:"block_attempts"`

	// UseRedis shares counters between instances through the redis section.
	UseRedis bool `yaml:"use_redis"`
}

// BootstrapConfig describes the seeded administrator account.
type BootstrapConfig struct {
	Email string `yaml:"email"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

// MQTTConfig contains MQTT broker settings for the security event bus.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for auth telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TASKLANE_SECTION_KEY
// For example: TASKLANE_DATABASE_PATH, TASKLANE_API_PORT
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with production defaults.
// Token windows and the failure delay match what existing API clients
// already expect.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:       "tasklane",
			InstanceID: "tasklane-01",
		},
		Database: DatabaseConfig{
			Path:        "./data/tasklane.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Password: PasswordConfig{
				TimeCost:    3,
				MemoryCost:  64 * 1024,
				Parallelism: 1,
				HashLength:  32,
				SaltLength:  16,
			},
			Tokens: TokenConfig{
				AccessTTL:      time.Hour,
				RefreshTTL:     6 * time.Hour,
				LongAccessTTL:  24 * time.Hour,
				LongRefreshTTL: 30 * 24 * time.Hour,
				ElevationTTL:   15 * time.Minute,
				RawTokenBytes:  32,
			},
			FailureDelayMS: 1000,
			AntiHammer: AntiHammerConfig{
				Enabled:       true,
				Cooldown:      time.Minute,
				BlockAttempts: 100,
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tasklane-core",
			},
			QoS:         1,
			TopicPrefix: "tasklane",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TASKLANE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TASKLANE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TASKLANE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("TASKLANE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TASKLANE_BOOTSTRAP_EMAIL"); v != "" {
		cfg.Security.Bootstrap.Email = v
	}

	// Secrets are expected to come from the environment, not the file.
	if v := os.Getenv("TASKLANE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TASKLANE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("TASKLANE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("TASKLANE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Minimum acceptable Argon2id costs. Anything weaker is a misconfiguration.
const (
	minMemoryCost = 8 * 1024
	minHashLength = 16
	minSaltLength = 8
	minTokenBytes = 16
)

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	p := c.Security.Password
	if p.TimeCost < 1 {
		errs = append(errs, "security.password.time_cost must be at least 1")
	}
	if p.MemoryCost < minMemoryCost {
		errs = append(errs, "security.password.memory_cost must be at least 8192 KiB")
	}
	if p.Parallelism < 1 {
		errs = append(errs, "security.password.parallelism must be at least 1")
	}
	if p.HashLength < minHashLength {
		errs = append(errs, "security.password.hash_length must be at least 16")
	}
	if p.SaltLength < minSaltLength {
		errs = append(errs, "security.password.salt_length must be at least 8")
	}

	t := c.Security.Tokens
	if t.AccessTTL <= 0 || t.RefreshTTL <= 0 || t.LongAccessTTL <= 0 || t.LongRefreshTTL <= 0 {
		errs = append(errs, "security.tokens TTLs must be positive")
	}
	if t.AccessTTL > t.RefreshTTL || t.LongAccessTTL > t.LongRefreshTTL {
		errs = append(errs, "security.tokens access TTL must not exceed refresh TTL")
	}
	if t.ElevationTTL <= 0 {
		errs = append(errs, "security.tokens.elevation_ttl must be positive")
	}
	if t.RawTokenBytes < minTokenBytes {
		errs = append(errs, "security.tokens.raw_token_bytes must be at least 16")
	}

	if c.Security.FailureDelayMS < 0 {
		errs = append(errs, "security.failure_delay_ms must not be negative")
	}

	ah := c.Security.AntiHammer
	if ah.Enabled {
		if ah.BlockAttempts < 1 {
			errs = append(errs, "security.antihammer.block_attempts must be at least 1")
		}
		if ah.UseRedis && c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required when security.antihammer.use_redis is set")
		}
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// FailureDelay returns the authentication failure latency floor.
func (c *Config) FailureDelay() time.Duration {
	return time.Duration(c.Security.FailureDelayMS) * time.Millisecond
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
