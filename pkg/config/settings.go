package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings is the engine configuration loaded from the kiln settings file,
// as opposed to the build manifest which declares the rules themselves.
type Settings struct {
	// Workers is the number of concurrent rule executors. Zero or one
	// selects the serial scheduler.
	Workers int `yaml:"workers" validate:"gte=0"`

	// KeepGoing continues past failed rules instead of stopping the run.
	KeepGoing bool `yaml:"keep_going"`

	// Placement selects where actions run (thread, process).
	Placement string `yaml:"placement" validate:"omitempty,oneof=thread process"`

	// RunnerPath locates the kiln-runner binary for process placement.
	RunnerPath string `yaml:"runner_path"`

	// HistoryDB is the SQLite database recording build history. Empty
	// disables history.
	HistoryDB string `yaml:"history_db"`

	// Logging configures structured logging.
	Logging LogSettings `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsSettings `yaml:"metrics"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingSettings `yaml:"tracing"`
}

// LogSettings configures the logger.
type LogSettings struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	Output string `yaml:"output"`
}

// MetricsSettings configures the metrics endpoint.
type MetricsSettings struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingSettings configures trace export.
type TracingSettings struct {
	Enabled  bool    `yaml:"enabled"`
	Exporter string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string  `yaml:"endpoint"`
	Sampling float64 `yaml:"sampling" validate:"gte=0,lte=1"`
}

// DefaultSettings returns the settings used when no file is present.
func DefaultSettings() *Settings {
	return &Settings{
		Workers:   1,
		Placement: "thread",
		Logging: LogSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsSettings{
			ListenAddress: ":9090",
		},
		Tracing: TracingSettings{
			Exporter: "stdout",
			Sampling: 1.0,
		},
	}
}

// LoadSettings reads and validates a YAML settings file. Fields absent from
// the file keep their defaults.
func LoadSettings(path string) (*Settings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", path, err)
	}
	return settings, nil
}

// Validate checks the settings against their constraints.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return err
	}
	if s.Placement == "process" && s.RunnerPath == "" {
		return fmt.Errorf("process placement requires runner_path")
	}
	return nil
}
