// Package config loads the daemon's YAML configuration, applies defaults and
// validates it before any component starts.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AdminSecretEnv overrides the configured administrative secret so the
// credential can stay out of config files checked into version control.
const AdminSecretEnv = "CALLQUOTA_ADMIN_SECRET"

// RedisConfig holds the redis backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// PostgresConfig holds the postgres backend settings.
type PostgresConfig struct {
	ConnString string `yaml:"connString"`
	MaxConns   int32  `yaml:"maxConns"`
	MinConns   int32  `yaml:"minConns"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type     string         `yaml:"type"` // memory, redis, postgres
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PolicyConfig is the per-identity budget.
type PolicyConfig struct {
	Unit string `yaml:"unit"` // calls, seconds
	Max  int64  `yaml:"max"`
}

// ExemptionConfig tunes the cached allow-list.
type ExemptionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Config is the daemon's full configuration.
type Config struct {
	ListenAddress string          `yaml:"listenAddress"`
	BaseKey       string          `yaml:"baseKey"`
	AdminSecret   string          `yaml:"adminSecret"`
	OpTimeout     time.Duration   `yaml:"opTimeout"`
	Storage       StorageConfig   `yaml:"storage"`
	Policy        PolicyConfig    `yaml:"policy"`
	Exemption     ExemptionConfig `yaml:"exemption"`
	Log           LogConfig       `yaml:"log"`
}

// Default returns the configuration the daemon runs with when no file is
// given: an in-memory store and a one-call budget.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		BaseKey:       "callquota",
		OpTimeout:     5 * time.Second,
		Storage:       StorageConfig{Type: "memory"},
		Policy:        PolicyConfig{Unit: "calls", Max: 1},
		Exemption:     ExemptionConfig{TTL: 60 * time.Second},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults unchanged. The administrative secret can always be
// supplied through the environment instead of the file.
func Load(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, conf); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if secret := os.Getenv(AdminSecretEnv); secret != "" {
		conf.AdminSecret = secret
	}

	conf.Storage.Type = strings.ToLower(conf.Storage.Type)
	conf.Policy.Unit = strings.ToLower(conf.Policy.Unit)
	conf.Log.Level = strings.ToLower(conf.Log.Level)
	conf.Log.Format = strings.ToLower(conf.Log.Format)

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listenAddress cannot be empty")
	}
	if c.BaseKey == "" {
		return fmt.Errorf("baseKey cannot be empty")
	}
	if c.OpTimeout < 0 {
		return fmt.Errorf("opTimeout cannot be negative, got %v", c.OpTimeout)
	}

	switch c.Storage.Type {
	case "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Storage.Postgres.ConnString == "" {
			return fmt.Errorf("storage.postgres.connString is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage type %q (want memory, redis or postgres)", c.Storage.Type)
	}

	switch c.Policy.Unit {
	case "calls", "seconds":
	default:
		return fmt.Errorf("unknown policy unit %q (want calls or seconds)", c.Policy.Unit)
	}
	if c.Policy.Max <= 0 {
		return fmt.Errorf("policy.max must be positive, got %d", c.Policy.Max)
	}

	if c.Exemption.TTL < 0 {
		return fmt.Errorf("exemption.ttl cannot be negative, got %v", c.Exemption.TTL)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// SlogLevel maps the configured level onto the slog scale.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
