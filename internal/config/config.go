// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/auth"
	"github.com/eugener/radagast/internal/ratelimit"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	APIKeys   []auth.Key      `yaml:"api_keys"`
	Rate      RateConfig      `yaml:"rate"`
	Cache     CacheConfig     `yaml:"cache"`
	Backend   BackendConfig   `yaml:"backend"`
	Models    ModelsConfig    `yaml:"models"`
	Batch     BatchConfig     `yaml:"batch"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	BindAddress        string        `yaml:"bind_address"`
	MetricsBindAddress string        `yaml:"metrics_bind_address"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// RateConfig holds the default admission rate for keys without overrides.
type RateConfig struct {
	Default ratelimit.Rate `yaml:"default_rate"`
}

// CacheConfig selects and tunes the response cache store.
type CacheConfig struct {
	Backend       string `yaml:"cache_backend"` // "memory" or "redis"
	DefaultTTLs   int    `yaml:"cache_ttl_default_s"`
	NegativeTTLs  int    `yaml:"negative_ttl_s"`
	SchemaVersion int    `yaml:"schema_version"` // bump to invalidate all entries
	MaxSize       int    `yaml:"max_size"`       // memory backend only
	Strict        bool   `yaml:"strict"`         // fail startup when the store is unreachable

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for cache_backend: redis.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"`
}

// BackendConfig holds the text-generation host settings.
type BackendConfig struct {
	URL            string `yaml:"backend_url"`
	TimeoutS       int    `yaml:"backend_timeout_s"`
	MaxRetries     int    `yaml:"backend_max_retries"`
	TotalDeadlineS int    `yaml:"backend_total_deadline_s"`
	Strict         bool   `yaml:"strict"` // fail startup when the backend is unreachable
}

// ModelsConfig holds router settings.
type ModelsConfig struct {
	Aliases          map[string]string `yaml:"aliases"`
	RefreshIntervalS int               `yaml:"model_refresh_interval_s"`
	MaxTokensCeiling int               `yaml:"max_tokens_ceiling"`
}

// BatchConfig bounds batch fan-out.
type BatchConfig struct {
	MaxConcurrency int `yaml:"batch_max_concurrency"`
	DeadlineS      int `yaml:"deadline_s"` // 0 means no whole-batch deadline
}

// DatabaseConfig holds SQLite settings for usage accounting.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"; empty disables accounting
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used when no file overrides a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:        ":8080",
			MetricsBindAddress: ":9090",
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       120 * time.Second,
			ShutdownTimeout:    30 * time.Second,
		},
		Rate: RateConfig{
			Default: ratelimit.Rate{Capacity: 60, RefillPerSec: 1},
		},
		Cache: CacheConfig{
			Backend:       "memory",
			DefaultTTLs:   3600,
			NegativeTTLs:  30,
			SchemaVersion: 1,
			MaxSize:       10_000,
			Redis:         RedisConfig{Addr: "localhost:6379", Namespace: "radagast"},
		},
		Backend: BackendConfig{
			URL:            "http://localhost:11434",
			TimeoutS:       30,
			MaxRetries:     3,
			TotalDeadlineS: 120,
		},
		Models: ModelsConfig{
			RefreshIntervalS: 30,
			MaxTokensCeiling: gateway.DefaultMaxTokensCeiling,
		},
		Batch: BatchConfig{
			MaxConcurrency: 10,
		},
		Database: DatabaseConfig{
			DSN: "radagast.db",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
// The zero path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints. A non-nil error maps to exit
// code 64.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache_backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.SchemaVersion < 1 || c.Cache.SchemaVersion > 255 {
		return fmt.Errorf("schema_version must be in [1, 255], got %d", c.Cache.SchemaVersion)
	}
	if c.Cache.DefaultTTLs <= 0 {
		return fmt.Errorf("cache_ttl_default_s must be positive, got %d", c.Cache.DefaultTTLs)
	}
	if c.Cache.NegativeTTLs <= 0 {
		return fmt.Errorf("negative_ttl_s must be positive, got %d", c.Cache.NegativeTTLs)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("backend_max_retries must be >= 0, got %d", c.Backend.MaxRetries)
	}
	if !c.Rate.Default.Valid() {
		return fmt.Errorf("default_rate needs positive capacity and refill_per_second")
	}
	for i, k := range c.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api_keys[%d]: key must be non-empty", i)
		}
		if k.Rate != nil && !k.Rate.Valid() {
			return fmt.Errorf("api_keys[%d]: rate override needs positive capacity and refill_per_second", i)
		}
	}
	if c.Batch.MaxConcurrency < 1 {
		return fmt.Errorf("batch_max_concurrency must be >= 1, got %d", c.Batch.MaxConcurrency)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
}
