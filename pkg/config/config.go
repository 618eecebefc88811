// Package config loads and validates the fabricsync configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level fabricsync configuration.
type Config struct {
	// DataDir is the root for the database and per-fabric workspaces.
	DataDir string `yaml:"data_dir" validate:"required"`

	Database  DatabaseConfig  `yaml:"database"`
	Sync      SyncConfig      `yaml:"sync"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file. Relative paths resolve under DataDir.
	Path string `yaml:"path" validate:"required"`
}

// SyncConfig configures the sync orchestrator.
type SyncConfig struct {
	// AttemptTimeout bounds one sync attempt including retries.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" validate:"min=1s,max=10m"`

	// MaxRetries is the number of extra checkout attempts after a
	// transient failure.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay seeds the exponential backoff between retries.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"min=100ms"`

	// WorkdirBase holds ephemeral repository checkouts. Empty means the
	// system temp directory.
	WorkdirBase string `yaml:"workdir_base"`
}

// UnmarshalYAML decodes duration fields from strings like "90s" or "2m".
func (c *SyncConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		AttemptTimeout string `yaml:"attempt_timeout"`
		MaxRetries     *int   `yaml:"max_retries"`
		RetryBaseDelay string `yaml:"retry_base_delay"`
		WorkdirBase    string `yaml:"workdir_base"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&c.AttemptTimeout, raw.AttemptTimeout, "attempt_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.RetryBaseDelay, raw.RetryBaseDelay, "retry_base_delay"); err != nil {
		return err
	}
	if raw.MaxRetries != nil {
		c.MaxRetries = *raw.MaxRetries
	}
	if raw.WorkdirBase != "" {
		c.WorkdirBase = raw.WorkdirBase
	}
	return nil
}

// SchedulerConfig configures the periodic sync scheduler.
type SchedulerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Workers      int           `yaml:"workers" validate:"min=1,max=64"`
	TickInterval time.Duration `yaml:"tick_interval" validate:"min=1s"`
	QueueSize    int           `yaml:"queue_size" validate:"min=1"`
}

// UnmarshalYAML decodes the tick interval from strings like "5s".
func (c *SchedulerConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Enabled      *bool  `yaml:"enabled"`
		Workers      *int   `yaml:"workers"`
		TickInterval string `yaml:"tick_interval"`
		QueueSize    *int   `yaml:"queue_size"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if err := setDuration(&c.TickInterval, raw.TickInterval, "tick_interval"); err != nil {
		return err
	}
	if raw.Enabled != nil {
		c.Enabled = *raw.Enabled
	}
	if raw.Workers != nil {
		c.Workers = *raw.Workers
	}
	if raw.QueueSize != nil {
		c.QueueSize = *raw.QueueSize
	}
	return nil
}

// setDuration parses a duration string into dst, leaving dst alone when the
// string is empty.
func setDuration(dst *time.Duration, s, field string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	*dst = d
	return nil
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`
	LogOutput string `yaml:"log_output"`

	MetricsEnabled       bool   `yaml:"metrics_enabled"`
	MetricsListenAddress string `yaml:"metrics_listen_address"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Database: DatabaseConfig{
			Path: "fabricsync.db",
		},
		Sync: SyncConfig{
			AttemptTimeout: 60 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 1 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Workers:      4,
			TickInterval: 5 * time.Second,
			QueueSize:    64,
		},
		Telemetry: TelemetryConfig{
			LogLevel:             "info",
			LogFormat:            "console",
			LogOutput:            "stdout",
			MetricsEnabled:       true,
			MetricsListenAddress: ":9090",
			TracingEnabled:       false,
			TracingExporter:      "none",
		},
	}
}

// Load reads the configuration file at path, applies defaults for unset
// fields and validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// DatabasePath resolves the database file location.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, c.Database.Path)
}

// FabricsDir is where per-fabric ingestion workspaces live.
func (c *Config) FabricsDir() string {
	return filepath.Join(c.DataDir, "fabrics")
}

// applyDefaults fills fields the YAML left zero-valued.
func (c *Config) applyDefaults() {
	d := Default()
	if c.DataDir == "" {
		c.DataDir = d.DataDir
	}
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.Sync.AttemptTimeout == 0 {
		c.Sync.AttemptTimeout = d.Sync.AttemptTimeout
	}
	if c.Sync.RetryBaseDelay == 0 {
		c.Sync.RetryBaseDelay = d.Sync.RetryBaseDelay
	}
	if c.Scheduler.Workers == 0 {
		c.Scheduler.Workers = d.Scheduler.Workers
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = d.Scheduler.TickInterval
	}
	if c.Scheduler.QueueSize == 0 {
		c.Scheduler.QueueSize = d.Scheduler.QueueSize
	}
	if c.Telemetry.LogLevel == "" {
		c.Telemetry.LogLevel = d.Telemetry.LogLevel
	}
	if c.Telemetry.LogFormat == "" {
		c.Telemetry.LogFormat = d.Telemetry.LogFormat
	}
	if c.Telemetry.LogOutput == "" {
		c.Telemetry.LogOutput = d.Telemetry.LogOutput
	}
	if c.Telemetry.MetricsListenAddress == "" {
		c.Telemetry.MetricsListenAddress = d.Telemetry.MetricsListenAddress
	}
	if c.Telemetry.TracingExporter == "" {
		c.Telemetry.TracingExporter = d.Telemetry.TracingExporter
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fabricsync"
	}
	return filepath.Join(home, ".fabricsync")
}
