package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/rule"
	"github.com/kilnbuild/kiln/pkg/stores"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

// loadSettings loads the settings file named by the global flag, falling
// back to defaults when no file is given.
func loadSettings() (*config.Settings, error) {
	if settingsPath == "" {
		return config.DefaultSettings(), nil
	}
	return config.LoadSettings(settingsPath)
}

// loadManifest parses a build manifest. Starlark scripts are recognized by
// their .star extension; everything else goes through the CUE parser, which
// accepts files and directories alike.
func loadManifest(ctx context.Context, sources []string) (*config.Manifest, error) {
	if len(sources) == 1 && filepath.Ext(sources[0]) == ".star" {
		return config.NewStarlarkEvaluator(0).EvaluateManifestFile(ctx, sources[0])
	}
	return config.NewCUEParser().Parse(ctx, sources)
}

// manifestErrors formats a manifest's validation errors for the terminal.
func manifestErrors(manifest *config.Manifest) string {
	var b strings.Builder
	for _, e := range manifest.Errors {
		if e.File != "" {
			fmt.Fprintf(&b, "%s:%d:%d: ", e.File, e.Line, e.Column)
		} else if e.Path != "" {
			fmt.Fprintf(&b, "%s: ", e.Path)
		}
		b.WriteString(strings.TrimSpace(e.Message))
		b.WriteByte('\n')
	}
	return b.String()
}

// resolveTargets maps rule names to a target over the store. With no names,
// every rule is requested.
func resolveTargets(store *graph.Store, names []string) (graph.Target, error) {
	if len(names) == 0 {
		ids := make([]int, store.Len())
		for i := range ids {
			ids[i] = i
		}
		return store.Target(ids...), nil
	}

	byName := make(map[string]*rule.Rule, store.Len())
	for _, r := range store.Rules() {
		byName[r.Name()] = r
	}

	rules := make([]*rule.Rule, 0, len(names))
	for _, name := range names {
		r, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no rule named %q in manifest", name)
		}
		rules = append(rules, r)
	}
	return store.RuleTarget(rules...), nil
}

// telemetryConfig maps the settings file onto the telemetry configuration.
func telemetryConfig(settings *config.Settings, version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version

	if settings.Logging.Level != "" {
		cfg.Logging.Level = settings.Logging.Level
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if settings.Logging.Format != "" {
		cfg.Logging.Format = settings.Logging.Format
	}
	if settings.Logging.Output != "" {
		cfg.Logging.Output = settings.Logging.Output
	}

	cfg.Metrics.Enabled = settings.Metrics.Enabled
	if settings.Metrics.ListenAddress != "" {
		cfg.Metrics.ListenAddress = settings.Metrics.ListenAddress
	}

	cfg.Tracing.Enabled = settings.Tracing.Enabled
	if settings.Tracing.Exporter != "" {
		cfg.Tracing.Exporter = settings.Tracing.Exporter
	}
	cfg.Tracing.Endpoint = settings.Tracing.Endpoint
	if settings.Tracing.Sampling > 0 {
		cfg.Tracing.SamplingRate = settings.Tracing.Sampling
	}

	return cfg
}

// openHistory opens and migrates the history database named by the settings.
// An empty path disables history and returns nil.
func openHistory(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	if settings.HistoryDB == "" {
		return nil, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.HistoryDB})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
