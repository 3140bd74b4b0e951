// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Store         StoreConfig         `yaml:"store"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Engine        EngineConfig        `yaml:"engine"`
	Predicates    map[string]string   `yaml:"predicates"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes the operational HTTP server settings. The server
// only exposes health, readiness, and metrics endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefinitionsConfig describes where to find workflow definition YAML files.
type DefinitionsConfig struct {
	Directories    []string      `yaml:"directories"`
	HotReload      bool          `yaml:"hot_reload"`
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// StoreConfig describes workflow instance persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DedupConfig describes the action dispatch deduplication store.
type DedupConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// EngineConfig describes workflow engine runtime settings.
type EngineConfig struct {
	SLAPollInterval   time.Duration `yaml:"sla_poll_interval"`
	SLAPollBatchSize  int           `yaml:"sla_poll_batch_size"`
	DispatchQueueSize int           `yaml:"dispatch_queue_size"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Definitions: DefinitionsConfig{
			Directories:    []string{"/definitions"},
			ReloadInterval: 60 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "CASEFLOW_STORE_DSN",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			Driver:     "memory",
			AddrEnv:    "CASEFLOW_DEDUP_ADDR",
			DefaultTTL: 24 * time.Hour,
		},
		Engine: EngineConfig{
			SLAPollInterval:   60 * time.Second,
			SLAPollBatchSize:  200,
			DispatchQueueSize: 256,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must not be empty")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q not supported (memory, postgres)", c.Store.Driver))
	}
	switch c.Dedup.Driver {
	case "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("dedup.driver %q not supported (none, memory, redis)", c.Dedup.Driver))
	}
	if c.Engine.SLAPollInterval <= 0 {
		errs = append(errs, "engine.sla_poll_interval must be positive")
	}
	if c.Engine.DispatchQueueSize <= 0 {
		errs = append(errs, "engine.dispatch_queue_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CASEFLOW_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CASEFLOW_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CASEFLOW_DEFINITIONS_DIRECTORIES"); v != "" {
		cfg.Definitions.Directories = strings.Split(v, ",")
	}
	if v := os.Getenv("CASEFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CASEFLOW_DEDUP_DRIVER"); v != "" {
		cfg.Dedup.Driver = v
	}
	if v := os.Getenv("CASEFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
