package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/stores"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

func newBuildCommand(version string) *cobra.Command {
	var (
		manifestSources []string
		jobs            int
		keepGoing       bool
		dryRun          bool
		placement       string
		runnerPath      string
	)

	cmd := &cobra.Command{
		Use:   "build [target...]",
		Short: "Build targets from a manifest",
		Long: `Build the named targets and their dependencies.

This command:
  - Parses the manifest (CUE or Starlark)
  - Assembles the requested targets into a dependency-ordered closure
  - Skips rules whose memo record still matches their inputs and arguments
  - Runs stale rules serially or in parallel
  - Records the run in the history database when one is configured

Without target arguments every rule in the manifest is built.`,
		Example: `  # Build everything in build.cue
  kiln build

  # Build two named targets with four workers
  kiln build app docs -j 4

  # Report what would be rebuilt without running anything
  kiln build --dry-run

  # Run actions in pooled worker processes
  kiln build --placement process --runner ./kiln-runner`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("jobs") {
				settings.Workers = jobs
			}
			if cmd.Flags().Changed("keep-going") {
				settings.KeepGoing = keepGoing
			}
			if cmd.Flags().Changed("placement") {
				settings.Placement = placement
			}
			if cmd.Flags().Changed("runner") {
				settings.RunnerPath = runnerPath
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(settings, version))
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			manifest, err := loadManifest(ctx, manifestSources)
			if err != nil {
				return err
			}
			if len(manifest.Errors) > 0 {
				fmt.Print(manifestErrors(manifest))
				return fmt.Errorf("manifest has %d validation errors", len(manifest.Errors))
			}

			store, err := config.BuildStore(manifest)
			if err != nil {
				return err
			}
			target, err := resolveTargets(store, args)
			if err != nil {
				return err
			}
			closure, err := graph.Assemble(target)
			if err != nil {
				return err
			}

			buildID := uuid.NewString()
			logger := tel.Logger.WithBuildID(buildID)

			spanCtx, span := tel.Tracer.StartBuildSpan(ctx, buildID)
			defer span.End()

			observers := []engine.Observer{
				engine.NewLogObserver(logger.Zerolog()),
				newTelemetryObserver(spanCtx, tel),
			}

			history, err := openHistory(ctx, settings)
			if err != nil {
				return err
			}
			var recorder *stores.Recorder
			if history != nil {
				defer func() { _ = history.Close() }()

				targetNames, _ := json.Marshal(args)
				now := time.Now()
				err := history.CreateBuild(ctx, &stores.Build{
					ID:        buildID,
					Manifest:  manifest.Name,
					Targets:   string(targetNames),
					Workers:   settings.Workers,
					Placement: settings.Placement,
					DryRun:    dryRun,
					Status:    stores.BuildStatusRunning,
					StartedAt: now,
					CreatedAt: now,
				})
				if err != nil {
					return err
				}
				recorder = stores.NewRecorder(history, buildID)
				observers = append(observers, recorder)
			}

			logger.WithField("rules", closure.Len()).Info("build started")
			tel.Metrics.RecordBuildStarted()
			started := time.Now()

			sum, buildErr := engine.Make(spanCtx, closure, engine.Options{
				DryRun:     dryRun,
				KeepGoing:  settings.KeepGoing,
				Workers:    settings.Workers,
				Placement:  engine.Placement(settings.Placement),
				RunnerPath: settings.RunnerPath,
				Observers:  observers,
			})

			status := buildStatus(sum, buildErr)
			tel.Metrics.RecordBuildCompleted(string(status), time.Since(started))

			if history != nil {
				var errMsg *string
				if buildErr != nil {
					msg := buildErr.Error()
					errMsg = &msg
				}
				finishErr := history.FinishBuild(ctx, buildID, status, stores.BuildSummary{
					Total:     sum.Total,
					Updated:   sum.Updated,
					Skipped:   sum.Skipped,
					Failed:    sum.Failed,
					Discarded: sum.Discarded,
				}, errMsg)
				if finishErr != nil {
					logger.WithError(finishErr).Warn("failed to record build result")
				}
				for _, recErr := range recorder.Errs() {
					logger.WithError(recErr).Warn("failed to record rule outcome")
				}
			}

			if buildErr != nil {
				telemetry.RecordError(span, buildErr)
				return buildErr
			}
			telemetry.RecordSuccess(span)

			fmt.Println(sum.String())
			if !sum.OK() {
				return fmt.Errorf("build failed: %d rules failed, %d discarded", sum.Failed, sum.Discarded)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&manifestSources, "manifest", "f", []string{"build.cue"}, "manifest file or directory")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 1, "number of concurrent workers")
	cmd.Flags().BoolVarP(&keepGoing, "keep-going", "k", false, "continue past failed rules")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "report stale rules without running actions")
	cmd.Flags().StringVar(&placement, "placement", "thread", "action placement (thread, process)")
	cmd.Flags().StringVar(&runnerPath, "runner", "", "path to the kiln-runner binary")

	return cmd
}

// buildStatus reduces the run result to a recorded status.
func buildStatus(sum engine.Summary, err error) stores.BuildStatus {
	switch {
	case err != nil:
		return stores.BuildStatusInterrupted
	case sum.OK():
		return stores.BuildStatusSucceeded
	default:
		return stores.BuildStatusFailed
	}
}
