// Package config loads engine configuration from a YAML file with
// environment variable expansion. A local .env file is honored for
// development.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Engine   EngineConfig   `yaml:"engine"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Events   EventsConfig   `yaml:"events"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis connection settings. Redis backs instance leases
// and trigger dedupe keys; when Addr is empty the engine falls back to
// PostgreSQL advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig holds executor and trigger tuning knobs. Intervals are in
// seconds to keep the YAML flat.
type EngineConfig struct {
	Workers                int `yaml:"workers"`
	ScanIntervalSeconds    int `yaml:"scan_interval_seconds"`
	LeaseTTLSeconds        int `yaml:"lease_ttl_seconds"`
	ClaimBatchSize         int `yaml:"claim_batch_size"`
	SchedulePollSeconds    int `yaml:"schedule_poll_seconds"`
	SegmentDebounceSeconds int `yaml:"segment_debounce_seconds"`
	SendMaxAttempts        int `yaml:"send_max_attempts"`
	GatewayTimeoutSeconds  int `yaml:"gateway_timeout_seconds"`
	ABTestEvalSeconds      int `yaml:"abtest_eval_seconds"`
}

// ScanInterval returns the eligibility-scan interval as a duration.
func (e EngineConfig) ScanInterval() time.Duration {
	return time.Duration(e.ScanIntervalSeconds) * time.Second
}

// LeaseTTL returns the instance lease TTL as a duration.
func (e EngineConfig) LeaseTTL() time.Duration {
	return time.Duration(e.LeaseTTLSeconds) * time.Second
}

// SchedulePoll returns the schedule trigger polling interval.
func (e EngineConfig) SchedulePoll() time.Duration {
	return time.Duration(e.SchedulePollSeconds) * time.Second
}

// SegmentDebounce returns the segment-entry coalescing window.
func (e EngineConfig) SegmentDebounce() time.Duration {
	return time.Duration(e.SegmentDebounceSeconds) * time.Second
}

// GatewayTimeout returns the per-attempt dispatch timeout.
func (e EngineConfig) GatewayTimeout() time.Duration {
	return time.Duration(e.GatewayTimeoutSeconds) * time.Second
}

// ABTestEvalInterval returns the A/B conclusion-check interval.
func (e EngineConfig) ABTestEvalInterval() time.Duration {
	return time.Duration(e.ABTestEvalSeconds) * time.Second
}

// GatewayConfig selects and configures the message dispatch gateway.
// Provider "ses" sends email through Amazon SESv2; "http" posts to
// per-channel provider endpoints.
type GatewayConfig struct {
	Provider  string            `yaml:"provider"`
	SESRegion string            `yaml:"ses_region"`
	Endpoints map[string]string `yaml:"endpoints"`
	APIKeyEnv string            `yaml:"api_key_env"`
}

// EventsConfig holds the delivery/engagement event queue settings.
// When QueueURL is empty the engine uses an in-process bus.
type EventsConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// Load reads configuration from the given YAML path. Environment variables
// referenced as ${VAR} in the file are expanded; a .env file in the working
// directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Engine.Workers == 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.ScanIntervalSeconds == 0 {
		c.Engine.ScanIntervalSeconds = 5
	}
	if c.Engine.LeaseTTLSeconds == 0 {
		c.Engine.LeaseTTLSeconds = 60
	}
	if c.Engine.ClaimBatchSize == 0 {
		c.Engine.ClaimBatchSize = 100
	}
	if c.Engine.SchedulePollSeconds == 0 {
		c.Engine.SchedulePollSeconds = 30
	}
	if c.Engine.SegmentDebounceSeconds == 0 {
		c.Engine.SegmentDebounceSeconds = 10
	}
	if c.Engine.SendMaxAttempts == 0 {
		c.Engine.SendMaxAttempts = 3
	}
	if c.Engine.GatewayTimeoutSeconds == 0 {
		c.Engine.GatewayTimeoutSeconds = 10
	}
	if c.Engine.ABTestEvalSeconds == 0 {
		c.Engine.ABTestEvalSeconds = 300
	}
	if c.Gateway.Provider == "" {
		c.Gateway.Provider = "http"
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Gateway.Provider {
	case "ses":
		if c.Gateway.SESRegion == "" {
			return fmt.Errorf("gateway.ses_region is required for provider ses")
		}
	case "http":
		// endpoints may be populated per channel at deploy time
	default:
		return fmt.Errorf("gateway.provider %q is not supported", c.Gateway.Provider)
	}
	return nil
}
