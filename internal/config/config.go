// Package config loads runtime settings from a .env file, an optional YAML
// file and the process environment, in that order of precedence (lowest
// first).
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Remote kinds.
const (
	RemoteMemory = "memory"
	RemoteSQL    = "sql"
	RemoteHTTP   = "http"
)

type Config struct {
	DBPath string       `yaml:"db_path"`
	Tenant TenantConfig `yaml:"tenant"`
	Remote RemoteConfig `yaml:"remote"`
	Sync   SyncConfig   `yaml:"sync"`
	HTTP   HTTPConfig   `yaml:"http"`
	Logger LoggerConfig `yaml:"logger"`
}

type TenantConfig struct {
	ID    string `yaml:"id"`
	Actor string `yaml:"actor"`
}

type RemoteConfig struct {
	// Kind selects the backend: memory, sql or http.
	Kind   string `yaml:"kind"`
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	URL    string `yaml:"url"`
}

type SyncConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Debounce       time.Duration `yaml:"debounce"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LoggerConfig struct {
	Level             string `yaml:"level"`
	Encoding          string `yaml:"encoding"`
	Development       bool   `yaml:"development"`
	DisableCaller     bool   `yaml:"disable_caller"`
	DisableStacktrace bool   `yaml:"disable_stacktrace"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath: "stocksync.db",
		Tenant: TenantConfig{ID: "default"},
		Remote: RemoteConfig{Kind: RemoteMemory, Driver: "postgres"},
		Sync: SyncConfig{
			RequestTimeout: 3 * time.Second,
			Debounce:       time.Second,
			ProbeInterval:  15 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Logger: LoggerConfig{
			Level:             "info",
			Encoding:          "console",
			DisableStacktrace: true,
		},
	}
}

// Load builds the configuration. path names an optional YAML file; an empty
// path skips it. A missing .env file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DBPath = getEnv("STOCK_DB_PATH", cfg.DBPath)
	cfg.Tenant.ID = getEnv("STOCK_TENANT_ID", cfg.Tenant.ID)
	cfg.Tenant.Actor = getEnv("STOCK_ACTOR_ID", cfg.Tenant.Actor)
	cfg.Remote.Kind = getEnv("STOCK_REMOTE_KIND", cfg.Remote.Kind)
	cfg.Remote.Driver = getEnv("STOCK_REMOTE_DRIVER", cfg.Remote.Driver)
	cfg.Remote.DSN = getEnv("STOCK_REMOTE_DSN", cfg.Remote.DSN)
	cfg.Remote.URL = getEnv("STOCK_REMOTE_URL", cfg.Remote.URL)
	cfg.Sync.RequestTimeout = getEnvDuration("STOCK_REQUEST_TIMEOUT", cfg.Sync.RequestTimeout)
	cfg.Sync.Debounce = getEnvDuration("STOCK_SYNC_DEBOUNCE", cfg.Sync.Debounce)
	cfg.Sync.ProbeInterval = getEnvDuration("STOCK_PROBE_INTERVAL", cfg.Sync.ProbeInterval)
	cfg.HTTP.Addr = getEnv("STOCK_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Logger.Level = getEnv("LOGGER_LEVEL", cfg.Logger.Level)
	cfg.Logger.Encoding = getEnv("LOGGER_ENCODING", cfg.Logger.Encoding)
	cfg.Logger.Development = getEnvBool("LOGGER_DEVELOPMENT", cfg.Logger.Development)
	cfg.Logger.DisableCaller = getEnvBool("LOGGER_DISABLE_CALLER", cfg.Logger.DisableCaller)
	cfg.Logger.DisableStacktrace = getEnvBool("LOGGER_DISABLE_STACKTRACE", cfg.Logger.DisableStacktrace)
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Tenant.ID == "" {
		return fmt.Errorf("tenant.id is required")
	}

	switch c.Remote.Kind {
	case RemoteMemory:
	case RemoteSQL:
		if c.Remote.Driver != "postgres" && c.Remote.Driver != "sqlite3" {
			return fmt.Errorf("remote.driver %q: must be postgres or sqlite3", c.Remote.Driver)
		}
		if c.Remote.DSN == "" {
			return fmt.Errorf("remote.dsn is required for the sql remote")
		}
	case RemoteHTTP:
		if c.Remote.URL == "" {
			return fmt.Errorf("remote.url is required for the http remote")
		}
	default:
		return fmt.Errorf("remote.kind %q: must be one of memory, sql, http", c.Remote.Kind)
	}

	if c.Sync.RequestTimeout <= 0 || c.Sync.Debounce < 0 || c.Sync.ProbeInterval <= 0 {
		return fmt.Errorf("sync durations must be positive")
	}
	switch c.Logger.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("logger.encoding %q: must be json or console", c.Logger.Encoding)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
