// Package config loads and validates all runtime configuration for the
// orchestrator.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Tenant credentials are NOT configured here — they live in the config store
// and are resolved per request. This file only holds infrastructure wiring:
// ports, store backends, connection URLs, and default ceilings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// Store selects the persistence backend for tenant configs, rate-limit
	// state, and fallback chains:
	//   "postgres" — pgx-backed stores (requires DATABASE_URL). Production.
	//   "memory"   — in-process stores. Single node, lost on restart.
	// Default: "memory".
	Store StoreConfig

	// Cache controls the response cache backend.
	Cache CacheConfig

	// Usage controls where usage and audit entries are written.
	Usage UsageConfig

	// Limits are the ceilings applied to tenants without explicit rows.
	Limits LimitsConfig

	// AttemptTimeout is the per-provider request timeout. Default: 30s.
	AttemptTimeout time.Duration

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	Mode string
	// DatabaseURL is a postgres:// connection string. Required when Mode is
	// "postgres".
	DatabaseURL string
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Shared across replicas.
	//   "memory" — In-process TTL cache. No external deps.
	// Default: "memory".
	Mode string

	// RedisURL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	RedisURL string
}

// UsageConfig controls the usage/audit sink.
type UsageConfig struct {
	// Mode selects the sink:
	//   "clickhouse" — batched inserts into ClickHouse (requires CLICKHOUSE_ADDR).
	//   "slog"       — structured log lines on stdout.
	//   "memory"     — in-process buffer, development only.
	// Default: "slog".
	Mode string

	// ClickHouseAddr is host:port of the ClickHouse native endpoint.
	ClickHouseAddr string
	// ClickHouseDB is the database name. Default: "default".
	ClickHouseDB string
	// ClickHouseUser / ClickHousePassword are optional credentials.
	ClickHouseUser     string
	ClickHousePassword string
}

// LimitsConfig holds the default per-tenant ceilings. Zero disables a
// dimension.
type LimitsConfig struct {
	MaxRequestsPerHour int
	MaxTokensPerDay    int
	MaxCostPerMonthUSD float64
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_MODE", "memory")
	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("USAGE_MODE", "slog")
	v.SetDefault("CLICKHOUSE_DB", "default")
	v.SetDefault("ATTEMPT_TIMEOUT", "30s")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Default tenant ceilings; per-tenant overrides live in the limiter store.
	v.SetDefault("MAX_REQUESTS_PER_HOUR", 1000)
	v.SetDefault("MAX_TOKENS_PER_DAY", 1_000_000)
	v.SetDefault("MAX_COST_PER_MONTH_USD", 100.0)

	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Store: StoreConfig{
			Mode:        strings.ToLower(v.GetString("STORE_MODE")),
			DatabaseURL: v.GetString("DATABASE_URL"),
		},

		Cache: CacheConfig{
			Mode:     strings.ToLower(v.GetString("CACHE_MODE")),
			RedisURL: v.GetString("REDIS_URL"),
		},

		Usage: UsageConfig{
			Mode:               strings.ToLower(v.GetString("USAGE_MODE")),
			ClickHouseAddr:     v.GetString("CLICKHOUSE_ADDR"),
			ClickHouseDB:       v.GetString("CLICKHOUSE_DB"),
			ClickHouseUser:     v.GetString("CLICKHOUSE_USER"),
			ClickHousePassword: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		Limits: LimitsConfig{
			MaxRequestsPerHour: v.GetInt("MAX_REQUESTS_PER_HOUR"),
			MaxTokensPerDay:    v.GetInt("MAX_TOKENS_PER_DAY"),
			MaxCostPerMonthUSD: v.GetFloat64("MAX_COST_PER_MONTH_USD"),
		},

		AttemptTimeout: v.GetDuration("ATTEMPT_TIMEOUT"),
		CORSOrigins:    v.GetStringSlice("CORS_ORIGINS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	switch c.Store.Mode {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required when STORE_MODE=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf(
			"config: invalid STORE_MODE %q; must be one of: postgres, memory",
			c.Store.Mode,
		)
	}

	switch c.Cache.Mode {
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf(
				"config: REDIS_URL is required when CACHE_MODE=redis; " +
					"set CACHE_MODE=memory to use the built-in in-process cache",
			)
		}
	case "memory":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory",
			c.Cache.Mode,
		)
	}

	switch c.Usage.Mode {
	case "clickhouse":
		if c.Usage.ClickHouseAddr == "" {
			return fmt.Errorf("config: CLICKHOUSE_ADDR is required when USAGE_MODE=clickhouse")
		}
	case "slog", "memory":
	default:
		return fmt.Errorf(
			"config: invalid USAGE_MODE %q; must be one of: clickhouse, slog, memory",
			c.Usage.Mode,
		)
	}

	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("config: ATTEMPT_TIMEOUT must be a positive duration")
	}
	if c.Limits.MaxRequestsPerHour < 0 || c.Limits.MaxTokensPerDay < 0 || c.Limits.MaxCostPerMonthUSD < 0 {
		return fmt.Errorf("config: limit ceilings must not be negative")
	}

	return nil
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
