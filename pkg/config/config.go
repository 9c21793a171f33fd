package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for dataplane-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables; environment variables override YAML values.
// Secrets (datasource password) come only from environment variables.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8084"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// SeedPath points at the YAML fixture used to populate the permission
	// store and metadata registry at startup. Empty means start empty.
	SeedPath string `yaml:"seed_path" env:"SEED_PATH" env-default:""`

	Cache      CacheConfig      `yaml:"cache"`
	Query      QueryConfig      `yaml:"query"`
	Datasource DatasourceConfig `yaml:"datasource"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	// MaxEntries bounds the cache; the oldest entry by insertion time is
	// evicted when a put would exceed it.
	MaxEntries int `yaml:"max_entries" env:"CACHE_MAX_ENTRIES" env-default:"1000"`
	// DefaultTTLMinutes is applied when a put does not specify a TTL.
	DefaultTTLMinutes int `yaml:"default_ttl_minutes" env:"CACHE_DEFAULT_TTL_MINUTES" env-default:"60"`
	// CleanupIntervalMinutes drives the optional expired-entry sweep.
	// Zero disables the sweep; expiry is lazy on Get either way.
	CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes" env:"CACHE_CLEANUP_INTERVAL_MINUTES" env-default:"5"`
	// HistorySize bounds the per-user query history ring.
	HistorySize int `yaml:"history_size" env:"CACHE_HISTORY_SIZE" env-default:"100"`
}

// DefaultTTL returns the default cache TTL as a duration.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes) * time.Minute
}

// QueryConfig holds query execution limits and the async worker pool size.
type QueryConfig struct {
	// DefaultTimeoutSeconds applies to users without a configured timeout.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" env:"QUERY_DEFAULT_TIMEOUT_SECONDS" env-default:"300"`
	// DefaultMaxResultRows applies to users without a configured row cap.
	DefaultMaxResultRows int `yaml:"default_max_result_rows" env:"QUERY_DEFAULT_MAX_RESULT_ROWS" env-default:"10000"`
	// DefaultPageSize is used when a request omits pagination.
	DefaultPageSize int `yaml:"default_page_size" env:"QUERY_DEFAULT_PAGE_SIZE" env-default:"100"`
	// WorkerCount bounds concurrent async query execution.
	WorkerCount int `yaml:"worker_count" env:"QUERY_WORKER_COUNT" env-default:"4"`
}

// DefaultTimeout returns the default query timeout as a duration.
func (c QueryConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// DatasourceConfig holds settings for the backing query engine connection.
type DatasourceConfig struct {
	Type     string `yaml:"type" env:"DATASOURCE_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"DATASOURCE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"DATASOURCE_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"DATASOURCE_USER" env-default:"dataplane"`
	Password string `yaml:"-" env:"DATASOURCE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATASOURCE_DATABASE" env-default:"dataplane"`
	SSLMode  string `yaml:"ssl_mode" env:"DATASOURCE_SSL_MODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env:"DATASOURCE_MAX_CONNS" env-default:"10"`
}

// Load reads configuration from config.yaml (when present) and the
// environment, then applies the build version.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read config from env: %w", err)
		}
	}

	cfg.Version = version

	if cfg.Cache.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache max_entries must be positive, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Query.WorkerCount <= 0 {
		return nil, fmt.Errorf("query worker_count must be positive, got %d", cfg.Query.WorkerCount)
	}

	return cfg, nil
}
