// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Draft    DraftConfig    `yaml:"draft"`
	Billing  BillingConfig  `yaml:"billing"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	OpenAPI  OpenAPIConfig  `yaml:"openapi"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the billing store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// CacheConfig configures the plan version cache.
type CacheConfig struct {
	Mode  string        `yaml:"mode"` // "none", "memory" or "redis"
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis,omitempty"`
}

// RedisConfig configures the Redis connection used by the plan cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DraftConfig configures draft invoice computation.
type DraftConfig struct {
	Workers int           `yaml:"workers"` // concurrent aggregations per request
	Timeout time.Duration `yaml:"timeout"` // 0 = no limit beyond the request
}

// BillingConfig configures billing policy.
type BillingConfig struct {
	ClampNegative bool `yaml:"clamp_negative"` // floor adjusted totals at zero
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyPrefix  string `yaml:"key_prefix"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures OpenAPI/Swagger documentation.
type OpenAPIConfig struct {
	Enabled bool `yaml:"enabled"` // Enable OpenAPI endpoints
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	USAGEBILL_SERVER_HOST         - Server host (default: 0.0.0.0)
//	USAGEBILL_SERVER_PORT         - Server port (default: 8080)
//	USAGEBILL_DATABASE_DRIVER     - sqlite or memory (default: sqlite)
//	USAGEBILL_DATABASE_DSN        - Database path (default: usagebill.db)
//	USAGEBILL_CACHE_MODE          - none, memory or redis (default: memory)
//	USAGEBILL_CACHE_TTL           - Plan cache TTL (default: 5m)
//	USAGEBILL_REDIS_ADDR          - Redis address for cache mode redis
//	USAGEBILL_REDIS_PASSWORD      - Redis password
//	USAGEBILL_REDIS_DB            - Redis database number
//	USAGEBILL_DRAFT_WORKERS       - Concurrent aggregations per request (default: 8)
//	USAGEBILL_DRAFT_TIMEOUT       - Draft computation timeout (default: 30s)
//	USAGEBILL_BILLING_CLAMP_NEGATIVE - Floor adjusted totals at zero (default: false)
//	USAGEBILL_AUTH_KEY_PREFIX     - API key prefix (default: ub_)
//	USAGEBILL_AUTH_BCRYPT_COST    - bcrypt cost for new keys (default: 10)
//	USAGEBILL_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	USAGEBILL_LOG_FORMAT          - Log format: json or console (default: json)
//	USAGEBILL_METRICS_ENABLED     - Enable /metrics endpoint (default: true)
//	USAGEBILL_OPENAPI_ENABLED     - Enable OpenAPI/Swagger (default: true)
func LoadFromEnv() (*Config, error) {
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		OpenAPI: OpenAPIConfig{Enabled: true},
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies USAGEBILL_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("USAGEBILL_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("USAGEBILL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("USAGEBILL_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("USAGEBILL_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Database configuration
	if v := os.Getenv("USAGEBILL_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("USAGEBILL_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// Cache configuration
	if v := os.Getenv("USAGEBILL_CACHE_MODE"); v != "" {
		cfg.Cache.Mode = v
	}
	if v := os.Getenv("USAGEBILL_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("USAGEBILL_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("USAGEBILL_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("USAGEBILL_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cache.Redis.DB = n
		}
	}

	// Draft configuration
	if v := os.Getenv("USAGEBILL_DRAFT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Draft.Workers = n
		}
	}
	if v := os.Getenv("USAGEBILL_DRAFT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Draft.Timeout = d
		}
	}

	// Billing configuration
	if v := os.Getenv("USAGEBILL_BILLING_CLAMP_NEGATIVE"); v != "" {
		cfg.Billing.ClampNegative = parseBool(v)
	}

	// Auth configuration
	if v := os.Getenv("USAGEBILL_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}
	if v := os.Getenv("USAGEBILL_AUTH_BCRYPT_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Auth.BcryptCost = n
		}
	}

	// Logging configuration
	if v := os.Getenv("USAGEBILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("USAGEBILL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("USAGEBILL_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("USAGEBILL_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// OpenAPI configuration
	if v := os.Getenv("USAGEBILL_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "usagebill.db"
	}

	if cfg.Cache.Mode == "" {
		cfg.Cache.Mode = "memory"
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 5 * time.Minute
	}
	if cfg.Cache.Redis.Prefix == "" {
		cfg.Cache.Redis.Prefix = "usagebill:plan:"
	}

	if cfg.Draft.Workers == 0 {
		cfg.Draft.Workers = 8
	}
	if cfg.Draft.Timeout == 0 {
		cfg.Draft.Timeout = 30 * time.Second
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "ub_"
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 10
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required when database.driver is 'sqlite'")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'memory', got %q", cfg.Database.Driver)
	}

	switch cfg.Cache.Mode {
	case "none", "memory":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required when cache.mode is 'redis'")
		}
	default:
		return fmt.Errorf("cache.mode must be one of: none, memory, redis")
	}
	if cfg.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}

	if cfg.Draft.Workers < 1 {
		return fmt.Errorf("draft.workers must be at least 1, got %d", cfg.Draft.Workers)
	}
	if cfg.Draft.Timeout < 0 {
		return fmt.Errorf("draft.timeout must not be negative")
	}

	if len(cfg.Auth.KeyPrefix) > 8 {
		return fmt.Errorf("auth.key_prefix must be at most 8 characters, got %q", cfg.Auth.KeyPrefix)
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31, got %d", cfg.Auth.BcryptCost)
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
