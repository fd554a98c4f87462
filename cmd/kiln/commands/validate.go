package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/graph"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path...]",
		Short: "Validate build manifests",
		Long: `Validate build manifests without building anything.

This command checks:
  - CUE or Starlark syntax validity
  - Rule field constraints
  - Duplicate outputs and dependency cycles`,
		Example: `  # Validate the default manifest
  kiln validate

  # Validate a manifest directory
  kiln validate ./build

  # Validate a Starlark manifest
  kiln validate build.star`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := args
			if len(sources) == 0 {
				sources = []string{"build.cue"}
			}

			manifest, err := loadManifest(cmd.Context(), sources)
			if err != nil {
				return err
			}
			if len(manifest.Errors) > 0 {
				fmt.Print(manifestErrors(manifest))
				return fmt.Errorf("manifest has %d validation errors", len(manifest.Errors))
			}

			// Registration catches duplicate outputs; a throwaway assembly
			// over every rule catches cycles.
			store, err := config.BuildStore(manifest)
			if err != nil {
				return err
			}
			target, err := resolveTargets(store, nil)
			if err != nil {
				return err
			}
			if _, err := graph.Assemble(target); err != nil {
				return err
			}

			log.Info().
				Str("manifest", manifest.Name).
				Int("rules", len(manifest.Rules)).
				Msg("Manifest is valid")
			return nil
		},
	}

	return cmd
}
