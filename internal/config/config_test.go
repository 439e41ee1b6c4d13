package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/eugener/radagast/internal/auth"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  bind_address: ":9191"
  metrics_bind_address: ":9192"
api_keys:
  - key: secret-1
    name: sim-a
    rate:
      capacity: 100
      refill_per_second: 10
  - key: secret-2
rate:
  default_rate:
    capacity: 5
    refill_per_second: 1
cache:
  cache_backend: redis
  cache_ttl_default_s: 600
  schema_version: 2
  redis:
    addr: redis:6379
backend:
  backend_url: http://ollama:11434
  backend_timeout_s: 15
  backend_max_retries: 2
  strict: true
models:
  aliases:
    default: mistral
  model_refresh_interval_s: 10
batch:
  batch_max_concurrency: 4
database:
  dsn: ":memory:"
log_level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.BindAddress != ":9191" {
		t.Errorf("bind_address = %q", cfg.Server.BindAddress)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0].Name != "sim-a" {
		t.Errorf("api_keys = %+v", cfg.APIKeys)
	}
	if cfg.APIKeys[0].Rate == nil || cfg.APIKeys[0].Rate.Capacity != 100 {
		t.Errorf("per-key rate not parsed: %+v", cfg.APIKeys[0].Rate)
	}
	if cfg.Rate.Default.Capacity != 5 {
		t.Errorf("default rate = %+v", cfg.Rate.Default)
	}
	if cfg.Cache.Backend != "redis" || cfg.Cache.SchemaVersion != 2 || cfg.Cache.Redis.Addr != "redis:6379" {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if !cfg.Backend.Strict || cfg.Backend.MaxRetries != 2 {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Models.Aliases["default"] != "mistral" {
		t.Errorf("aliases = %+v", cfg.Models.Aliases)
	}
	if cfg.Batch.MaxConcurrency != 4 {
		t.Errorf("batch = %+v", cfg.Batch)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestLoad_DefaultsKeptWhenUnset(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `log_level: warn`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.BindAddress != ":8080" {
		t.Errorf("bind_address default = %q", cfg.Server.BindAddress)
	}
	if cfg.Cache.Backend != "memory" || cfg.Cache.NegativeTTLs != 30 {
		t.Errorf("cache defaults = %+v", cfg.Cache)
	}
	if cfg.Backend.URL != "http://localhost:11434" {
		t.Errorf("backend_url default = %q", cfg.Backend.URL)
	}
	if cfg.Batch.MaxConcurrency != 10 {
		t.Errorf("batch default = %d", cfg.Batch.MaxConcurrency)
	}
	if lvl, _ := cfg.SlogLevel(); lvl != slog.LevelWarn {
		t.Errorf("log level = %v", lvl)
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestExpandEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv.
	t.Setenv("TEST_API_KEY", "sk-secret-123")

	result := expandEnv([]byte("key: ${TEST_API_KEY}"))
	if string(result) != "key: sk-secret-123" {
		t.Errorf("expandEnv = %q", result)
	}

	// Unset variables are left intact so the error surfaces downstream.
	result = expandEnv([]byte("key: ${TEST_UNSET_VAR}"))
	if string(result) != "key: ${TEST_UNSET_VAR}" {
		t.Errorf("expandEnv unset = %q", result)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"schema version zero", func(c *Config) { c.Cache.SchemaVersion = 0 }},
		{"schema version overflow", func(c *Config) { c.Cache.SchemaVersion = 256 }},
		{"negative ttl", func(c *Config) { c.Cache.NegativeTTLs = 0 }},
		{"missing backend url", func(c *Config) { c.Backend.URL = "" }},
		{"negative retries", func(c *Config) { c.Backend.MaxRetries = -1 }},
		{"invalid default rate", func(c *Config) { c.Rate.Default.Capacity = 0 }},
		{"empty api key", func(c *Config) { c.APIKeys[0].Key = "" }},
		{"zero batch concurrency", func(c *Config) { c.Batch.MaxConcurrency = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.APIKeys = append(cfg.APIKeys, auth.Key{Key: "k"})
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("want validation error, got nil")
			}
		})
	}
}
