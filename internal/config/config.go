package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Engine    EngineConfig    `yaml:"engine"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds database connection settings. An empty URL runs the
// service on in-memory repositories only.
type DatabaseConfig struct {
	URL string `yaml:"url"`
	// SecretKey is a 32-byte key enabling at-rest encryption of trigger
	// secrets. Empty stores secrets as plaintext.
	SecretKey string `yaml:"secret_key"`
}

// EngineConfig holds execution engine settings.
type EngineConfig struct {
	MaxInFlight          int           `yaml:"max_in_flight"`         // concurrent node invocations (default: 10)
	RunDeadline          time.Duration `yaml:"run_deadline"`          // per-run wall-clock budget; 0 disables
	ReleaseIntermediates bool          `yaml:"release_intermediates"` // drop consumed intermediate outputs
}

// GatewayConfig holds agent invocation settings.
type GatewayConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"` // per-invocation timeout (default: 60s)
	MaxRetries     int           `yaml:"max_retries"`     // transient-failure retries (default: 3)
	InitialDelay   time.Duration `yaml:"initial_delay"`   // first backoff delay (default: 1s)
	MaxDelay       time.Duration `yaml:"max_delay"`       // backoff ceiling (default: 5m)
	BackoffFactor  float64       `yaml:"backoff_factor"`  // backoff multiplier (default: 2.0)
}

// SchedulerConfig holds trigger and schedule settings.
type SchedulerConfig struct {
	DedupTTL time.Duration `yaml:"dedup_ttl"` // event idempotency window (default: 10m)
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{},
		Engine: EngineConfig{
			MaxInFlight: 10,
		},
		Gateway: GatewayConfig{
			DefaultTimeout: 60 * time.Second,
			MaxRetries:     3,
			InitialDelay:   time.Second,
			MaxDelay:       5 * time.Minute,
			BackoffFactor:  2.0,
		},
		Scheduler: SchedulerConfig{
			DedupTTL: 10 * time.Minute,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadDefault tries to load "config.yaml" from the current directory.
// If the file does not exist, it returns sensible defaults.
// Any other error (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	cfg, err := Load("config.yaml")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults(), nil
		}
		return nil, err
	}
	return cfg, nil
}
