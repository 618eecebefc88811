package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
	if cfg.Sync.AttemptTimeout != 60*time.Second {
		t.Errorf("unexpected default attempt timeout: %s", cfg.Sync.AttemptTimeout)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("expected scheduler enabled by default")
	}
	if cfg.Telemetry.TracingEnabled {
		t.Error("expected tracing disabled by default")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Telemetry.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.Telemetry.LogLevel)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
data_dir: /var/lib/fabricsync
database:
  path: state.db
sync:
  attempt_timeout: 2m
  max_retries: 5
scheduler:
  enabled: false
  workers: 8
telemetry:
  log_level: debug
  log_format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/fabricsync" {
		t.Errorf("unexpected data dir: %q", cfg.DataDir)
	}
	if cfg.Sync.AttemptTimeout != 2*time.Minute {
		t.Errorf("unexpected attempt timeout: %s", cfg.Sync.AttemptTimeout)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("unexpected max retries: %d", cfg.Sync.MaxRetries)
	}
	if cfg.Scheduler.Enabled {
		t.Error("expected scheduler disabled")
	}
	if cfg.Scheduler.Workers != 8 {
		t.Errorf("unexpected workers: %d", cfg.Scheduler.Workers)
	}
	if cfg.Telemetry.LogFormat != "json" {
		t.Errorf("unexpected log format: %q", cfg.Telemetry.LogFormat)
	}

	// Unset fields fall back to defaults.
	if cfg.Sync.RetryBaseDelay != time.Second {
		t.Errorf("expected default retry base delay, got %s", cfg.Sync.RetryBaseDelay)
	}
	if cfg.Scheduler.QueueSize != 64 {
		t.Errorf("expected default queue size, got %d", cfg.Scheduler.QueueSize)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "telemetry:\n  log_level: loud\n"},
		{"too many retries", "sync:\n  max_retries: 99\n"},
		{"timeout too long", "sync:\n  attempt_timeout: 1h\n"},
		{"bad tracing exporter", "telemetry:\n  tracing_exporter: jaeger\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected validation to fail")
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("sync: [not: a: mapping\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDatabasePathResolution(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"
	cfg.Database.Path = "state.db"
	if got := cfg.DatabasePath(); got != filepath.Join("/data", "state.db") {
		t.Errorf("unexpected relative resolution: %q", got)
	}

	cfg.Database.Path = "/elsewhere/state.db"
	if got := cfg.DatabasePath(); got != "/elsewhere/state.db" {
		t.Errorf("absolute path must pass through, got %q", got)
	}

	if got := cfg.FabricsDir(); got != filepath.Join("/data", "fabrics") {
		t.Errorf("unexpected fabrics dir: %q", got)
	}
}
