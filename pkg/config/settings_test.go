package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Errorf("default settings invalid: %v", err)
	}
	if s.Workers != 1 {
		t.Errorf("Workers = %d, want 1", s.Workers)
	}
	if s.Placement != "thread" {
		t.Errorf("Placement = %q, want thread", s.Placement)
	}
	if s.Logging.Level != "info" || s.Logging.Format != "console" {
		t.Errorf("Logging = %+v", s.Logging)
	}
	if s.Tracing.Sampling != 1.0 {
		t.Errorf("Sampling = %v, want 1.0", s.Tracing.Sampling)
	}
}

func TestLoadSettingsOverlay(t *testing.T) {
	path := writeSettings(t, `
workers: 8
keep_going: true
history_db: /var/lib/kiln/history.db
logging:
  level: debug
metrics:
  enabled: true
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings error: %v", err)
	}
	if s.Workers != 8 || !s.KeepGoing {
		t.Errorf("settings = %+v", s)
	}
	if s.HistoryDB != "/var/lib/kiln/history.db" {
		t.Errorf("HistoryDB = %q", s.HistoryDB)
	}
	if s.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", s.Logging.Level)
	}
	// Unset fields keep their defaults
	if s.Logging.Format != "console" {
		t.Errorf("Format = %q, want console default", s.Logging.Format)
	}
	if s.Placement != "thread" {
		t.Errorf("Placement = %q, want thread default", s.Placement)
	}
	if s.Metrics.ListenAddress != ":9090" {
		t.Errorf("ListenAddress = %q, want :9090 default", s.Metrics.ListenAddress)
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadSettings succeeded for missing file")
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "workers: [not a number"},
		{name: "negative workers", content: "workers: -1"},
		{name: "unknown placement", content: "placement: cluster"},
		{name: "unknown log level", content: "logging:\n  level: loud"},
		{name: "sampling out of range", content: "tracing:\n  sampling: 2.0"},
		{name: "process without runner", content: "placement: process"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSettings(t, tt.content)
			if _, err := LoadSettings(path); err == nil {
				t.Errorf("LoadSettings accepted %q", tt.content)
			}
		})
	}
}

func TestValidateProcessPlacement(t *testing.T) {
	s := DefaultSettings()
	s.Placement = "process"

	err := s.Validate()
	if err == nil || !strings.Contains(err.Error(), "runner_path") {
		t.Errorf("Validate error = %v, want runner_path requirement", err)
	}

	s.RunnerPath = "/usr/local/bin/kiln-runner"
	if err := s.Validate(); err != nil {
		t.Errorf("Validate error with runner_path set: %v", err)
	}
}
