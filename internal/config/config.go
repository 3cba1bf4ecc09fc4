// Package config loads and validates all runtime configuration for the
// HeyGPT API service.
//
// Configuration is read from environment variables (preferred for
// containers) or from a config.yaml file in the working directory.
// Environment variables take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example ANTHROPIC_API_KEYS becomes
// anthropic_api_keys in YAML.
//
// At least one Anthropic API key is required. Redis is optional — set
// CACHE_MODE=memory (the default) to use the built-in in-process cache
// with no external dependencies.
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

	// Anthropic holds the upstream credential pool and client settings.
	Anthropic AnthropicConfig

	// Keys controls the credential health state machine.
	Keys KeysConfig

	// Cache controls caching behaviour.
	Cache CacheConfig

	// Redis holds the connection URL for the Redis-backed cache and rate
	// limiter. Required only when CacheMode is "redis" or RPMLimit > 0.
	Redis RedisConfig

	// RateLimit controls the free-tier request quota.
	RateLimit RateLimitConfig

	// ClickHouse holds the optional request-analytics sink address.
	ClickHouse ClickHouseConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// AnthropicConfig holds the upstream credential pool and client settings.
type AnthropicConfig struct {
	// APIKeys is the rotating credential pool. At least one key is required.
	APIKeys []string

	// BaseURL overrides the API endpoint. Useful for local mocks.
	BaseURL string

	// Timeout bounds every upstream call. Default: 30s.
	Timeout time.Duration

	// DefaultModel is used when a request omits the model field.
	// Default: "claude-3-5-haiku-20241022".
	DefaultModel string
}

// KeysConfig controls the per-credential health state machine.
type KeysConfig struct {
	// DegradedThreshold is the consecutive-failure count that demotes a
	// credential to degraded. Default: 3.
	DegradedThreshold int

	// OpenThreshold is the consecutive-failure count that opens the
	// credential's circuit. Default: 5.
	OpenThreshold int

	// Cooldown is how long an open circuit stays open. Default: 60s.
	Cooldown time.Duration
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// Mode selects the cache backend:
	//   "redis"  — Redis-backed cache (requires REDIS_URL). Recommended for production.
	//   "memory" — In-process TTL cache. No external deps; not shared across replicas.
	//   "none"   — Cache disabled entirely.
	// Default: "memory".
	Mode string

	// TTL is the default time-to-live for cached responses. Default: 1h.
	TTL time.Duration

	// ExcludeExact is a list of exact model names that must never be cached.
	ExcludeExact []string

	// ExcludePatterns is a list of Go regular expressions matched against
	// model names. Requests whose model matches any pattern are not cached.
	ExcludePatterns []string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// RateLimitConfig controls the free-tier request quota.
type RateLimitConfig struct {
	// RPMLimit is the maximum requests per minute allowed per client IP.
	// 0 disables rate limiting. Default: 0.
	RPMLimit int
}

// ClickHouseConfig holds the optional analytics sink.
type ClickHouseConfig struct {
	// Addr is the native-protocol address, e.g. "localhost:9000".
	// Empty disables the ClickHouse sink; request logs go to slog instead.
	Addr string
	// Database is the target database name. Default: "default".
	Database string
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

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("DEFAULT_MODEL", "claude-3-5-haiku-20241022")

	v.SetDefault("CACHE_MODE", "memory")
	v.SetDefault("CACHE_TTL", "1h")

	// Key pool defaults.
	v.SetDefault("KEY_DEGRADED_THRESHOLD", 3)
	v.SetDefault("KEY_OPEN_THRESHOLD", 5)
	v.SetDefault("KEY_COOLDOWN", "60s")

	// Rate limit: 0 = disabled.
	v.SetDefault("RPM_LIMIT", 0)

	v.SetDefault("CLICKHOUSE_DATABASE", "default")

	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),

		Anthropic: AnthropicConfig{
			APIKeys:      splitKeys(v.GetString("ANTHROPIC_API_KEYS")),
			BaseURL:      v.GetString("ANTHROPIC_BASE_URL"),
			Timeout:      v.GetDuration("UPSTREAM_TIMEOUT"),
			DefaultModel: v.GetString("DEFAULT_MODEL"),
		},

		Keys: KeysConfig{
			DegradedThreshold: v.GetInt("KEY_DEGRADED_THRESHOLD"),
			OpenThreshold:     v.GetInt("KEY_OPEN_THRESHOLD"),
			Cooldown:          v.GetDuration("KEY_COOLDOWN"),
		},

		Cache: CacheConfig{
			Mode:            strings.ToLower(v.GetString("CACHE_MODE")),
			TTL:             v.GetDuration("CACHE_TTL"),
			ExcludeExact:    v.GetStringSlice("CACHE_EXCLUDE_EXACT"),
			ExcludePatterns: v.GetStringSlice("CACHE_EXCLUDE_PATTERNS"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		RateLimit: RateLimitConfig{
			RPMLimit: v.GetInt("RPM_LIMIT"),
		},

		ClickHouse: ClickHouseConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitKeys parses a comma-separated key list, trimming whitespace and
// dropping empty elements.
func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if len(c.Anthropic.APIKeys) == 0 {
		return fmt.Errorf(
			"config: ANTHROPIC_API_KEYS is required (comma-separated list of one or more keys)",
		)
	}

	// Redis URL is required when cache mode is "redis" or rate limiting is on.
	if c.Cache.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when CACHE_MODE=redis; " +
				"set CACHE_MODE=memory to use the built-in in-process cache",
		)
	}
	if c.RateLimit.RPMLimit > 0 && c.Redis.URL == "" {
		return fmt.Errorf("config: REDIS_URL is required when RPM_LIMIT > 0")
	}

	switch c.Cache.Mode {
	case "redis", "memory", "none":
	default:
		return fmt.Errorf(
			"config: invalid CACHE_MODE %q; must be one of: redis, memory, none",
			c.Cache.Mode,
		)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	// Key pool sanity checks.
	if c.Keys.DegradedThreshold < 1 {
		return fmt.Errorf("config: KEY_DEGRADED_THRESHOLD must be ≥ 1, got %d", c.Keys.DegradedThreshold)
	}
	if c.Keys.OpenThreshold < c.Keys.DegradedThreshold {
		return fmt.Errorf(
			"config: KEY_OPEN_THRESHOLD (%d) must be ≥ KEY_DEGRADED_THRESHOLD (%d)",
			c.Keys.OpenThreshold, c.Keys.DegradedThreshold,
		)
	}
	if c.Keys.Cooldown <= 0 {
		return fmt.Errorf("config: KEY_COOLDOWN must be a positive duration")
	}
	if c.Anthropic.Timeout <= 0 {
		return fmt.Errorf("config: UPSTREAM_TIMEOUT must be a positive duration")
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
