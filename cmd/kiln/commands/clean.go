package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/graph"
)

func newCleanCommand() *cobra.Command {
	var manifestSources []string

	cmd := &cobra.Command{
		Use:   "clean [target...]",
		Short: "Remove outputs and memo records",
		Long: `Remove the output files and memo records of the named targets and
their dependencies, forcing a full rebuild on the next run. Without target
arguments every rule in the manifest is cleaned.`,
		Example: `  # Clean everything
  kiln clean

  # Clean one target's closure
  kiln clean app`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadManifest(cmd.Context(), manifestSources)
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

			cleaned := 0
			for _, id := range closure.Order() {
				r := closure.Rule(id)
				if err := r.Clean(); err != nil {
					return fmt.Errorf("clean %s: %w", r.Name(), err)
				}
				cleaned++
			}

			log.Info().Int("rules", cleaned).Msg("Cleaned")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&manifestSources, "manifest", "f", []string{"build.cue"}, "manifest file or directory")

	return cmd
}
