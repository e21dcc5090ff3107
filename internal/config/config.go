package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// P-value modes
const (
	PValueTable = "table"
	PValueExact = "exact"
)

// Config is the main configuration structure
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Outbox       OutboxConfig       `yaml:"outbox"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Statistics   StatisticsConfig   `yaml:"statistics"`
	Distribution DistributionConfig `yaml:"distribution"`
	Metrics      MetricsConfig      `yaml:"metrics"` // Prometheus metrics configuration
	Logging      LoggingConfig      `yaml:"logging"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// OutboxConfig contains dispatch outbox settings
type OutboxConfig struct {
	Path string `yaml:"path"` // BoltDB file holding dispatched batches
}

// SweepConfig contains auto-winner sweep settings
type SweepConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`    // Default: 1h
	Concurrency int           `yaml:"concurrency"` // Campaigns evaluated in parallel. Default: 4
}

// StatisticsConfig selects how p-values are computed
type StatisticsConfig struct {
	PValue string `yaml:"p_value"` // table or exact
}

// DistributionConfig contains recipient split settings
type DistributionConfig struct {
	Seed uint64 `yaml:"seed"` // 0 seeds from the clock
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ListenAddr      string        `yaml:"listen_addr"`      // Default: :9191
	Path            string        `yaml:"path"`             // Default: /metrics
	CollectInterval time.Duration `yaml:"collect_interval"` // Default: 5s
	AllowedIPs      []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads, defaults and validates the configuration file at path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/sendry-ab/app.db"
	}
	if c.Outbox.Path == "" {
		c.Outbox.Path = "/var/lib/sendry-ab/outbox.db"
	}

	// Sweep defaults
	if !c.Sweep.Enabled && c.Sweep.Interval == 0 && c.Sweep.Concurrency == 0 {
		// If nothing is set, run the sweep by default
		c.Sweep.Enabled = true
	}
	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = time.Hour
	}
	if c.Sweep.Concurrency == 0 {
		c.Sweep.Concurrency = 4
	}

	if c.Statistics.PValue == "" {
		c.Statistics.PValue = PValueTable
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9191"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 5 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	if c.Sweep.Concurrency < 1 {
		return fmt.Errorf("sweep.concurrency must be at least 1")
	}

	switch c.Statistics.PValue {
	case PValueTable, PValueExact:
	default:
		return fmt.Errorf("invalid statistics.p_value: %s (must be table or exact)", c.Statistics.PValue)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
