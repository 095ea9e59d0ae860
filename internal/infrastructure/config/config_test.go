package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
service:
  name: "tasklane-test"
database:
  path: "/tmp/test.db"
api:
  port: 9090
security:
  tokens:
    access_ttl: 30m
    refresh_ttl: 2h
    elevation_ttl: 5m
  failure_delay_ms: 250
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Name != "tasklane-test" {
		t.Errorf("Service.Name = %q, want %q", cfg.Service.Name, "tasklane-test")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Security.Tokens.AccessTTL != 30*time.Minute {
		t.Errorf("Tokens.AccessTTL = %v, want 30m", cfg.Security.Tokens.AccessTTL)
	}
	if cfg.Security.Tokens.ElevationTTL != 5*time.Minute {
		t.Errorf("Tokens.ElevationTTL = %v, want 5m", cfg.Security.Tokens.ElevationTTL)
	}
	// Unset values keep their defaults.
	if cfg.Security.Tokens.LongRefreshTTL != 30*24*time.Hour {
		t.Errorf("Tokens.LongRefreshTTL = %v, want 720h", cfg.Security.Tokens.LongRefreshTTL)
	}
	if cfg.FailureDelay() != 250*time.Millisecond {
		t.Errorf("FailureDelay() = %v, want 250ms", cfg.FailureDelay())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
security:
  password:
    memory_cost: 1024
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error for weak memory cost, got nil")
	}
	if !strings.Contains(err.Error(), "memory_cost") {
		t.Errorf("error should mention memory_cost, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(_ *Config) {},
			wantErr: false,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero time cost",
			mutate:  func(c *Config) { c.Security.Password.TimeCost = 0 },
			wantErr: true,
		},
		{
			name:    "short salt",
			mutate:  func(c *Config) { c.Security.Password.SaltLength = 4 },
			wantErr: true,
		},
		{
			name:    "access outlives refresh",
			mutate:  func(c *Config) { c.Security.Tokens.AccessTTL = 7 * time.Hour },
			wantErr: true,
		},
		{
			name:    "zero elevation window",
			mutate:  func(c *Config) { c.Security.Tokens.ElevationTTL = 0 },
			wantErr: true,
		},
		{
			name:    "tiny raw tokens",
			mutate:  func(c *Config) { c.Security.Tokens.RawTokenBytes = 8 },
			wantErr: true,
		},
		{
			name:    "negative failure delay",
			mutate:  func(c *Config) { c.Security.FailureDelayMS = -1 },
			wantErr: true,
		},
		{
			name:    "antihammer with no attempts",
			mutate:  func(c *Config) { c.Security.AntiHammer.BlockAttempts = 0 },
			wantErr: true,
		},
		{
			name: "antihammer disabled ignores attempts",
			mutate: func(c *Config) {
				c.Security.AntiHammer.Enabled = false
				c.Security.AntiHammer.BlockAttempts = 0
			},
			wantErr: false,
		},
		{
			name: "redis antihammer without address",
			mutate: func(c *Config) {
				c.Security.AntiHammer.UseRedis = true
				c.Redis.Addr = ""
			},
			wantErr: true,
		},
		{
			name: "invalid QoS when mqtt enabled",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("TASKLANE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("TASKLANE_API_HOST", "192.168.1.1")
	t.Setenv("TASKLANE_API_PORT", "9443")
	t.Setenv("TASKLANE_LOG_LEVEL", "debug")
	t.Setenv("TASKLANE_BOOTSTRAP_EMAIL", "root@example.com")
	t.Setenv("TASKLANE_REDIS_PASSWORD", "redis-secret")
	t.Setenv("TASKLANE_MQTT_USERNAME", "testuser")
	t.Setenv("TASKLANE_MQTT_PASSWORD", "testpass")
	t.Setenv("TASKLANE_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
		{"Security.Bootstrap.Email", cfg.Security.Bootstrap.Email, "root@example.com"},
		{"Redis.Password", cfg.Redis.Password, "redis-secret"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}

	if cfg.API.Port != 9443 {
		t.Errorf("API.Port = %d, want 9443", cfg.API.Port)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := Default()
	t.Setenv("TASKLANE_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want default 8080", cfg.API.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Security.Tokens.AccessTTL != time.Hour {
		t.Errorf("default AccessTTL = %v, want 1h", cfg.Security.Tokens.AccessTTL)
	}
	if cfg.Security.Tokens.RefreshTTL != 6*time.Hour {
		t.Errorf("default RefreshTTL = %v, want 6h", cfg.Security.Tokens.RefreshTTL)
	}
	if cfg.Security.Tokens.LongAccessTTL != 24*time.Hour {
		t.Errorf("default LongAccessTTL = %v, want 24h", cfg.Security.Tokens.LongAccessTTL)
	}
	if cfg.Security.Tokens.ElevationTTL != 15*time.Minute {
		t.Errorf("default ElevationTTL = %v, want 15m", cfg.Security.Tokens.ElevationTTL)
	}
	if cfg.Security.Tokens.RawTokenBytes != 32 {
		t.Errorf("default RawTokenBytes = %d, want 32", cfg.Security.Tokens.RawTokenBytes)
	}
	if cfg.Security.AntiHammer.BlockAttempts != 100 {
		t.Errorf("default BlockAttempts = %d, want 100", cfg.Security.AntiHammer.BlockAttempts)
	}
}

func TestLoad_ShippedConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	def := Default()
	if cfg.Security.Tokens != def.Security.Tokens {
		t.Errorf("Tokens = %+v, want %+v", cfg.Security.Tokens, def.Security.Tokens)
	}
	if cfg.Security.AntiHammer != def.Security.AntiHammer {
		t.Errorf("AntiHammer = %+v, want %+v", cfg.Security.AntiHammer, def.Security.AntiHammer)
	}
	if cfg.FailureDelay() != time.Second {
		t.Errorf("FailureDelay() = %v, want 1s", cfg.FailureDelay())
	}
	if cfg.MQTT.Enabled || cfg.InfluxDB.Enabled {
		t.Error("optional backends should ship disabled")
	}
}
