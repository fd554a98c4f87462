package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/config"
	"github.com/kilnbuild/kiln/pkg/graph"
)

func newGraphCommand() *cobra.Command {
	var (
		manifestSources []string
		outputFile      string
	)

	cmd := &cobra.Command{
		Use:   "graph [target...]",
		Short: "Export the dependency graph as DOT",
		Long: `Export the dependency closure of the named targets in Graphviz DOT
format. Requested targets are highlighted; edges point from dependency to
dependent.`,
		Example: `  # Graph the whole manifest to stdout
  kiln graph

  # Graph one target into a file
  kiln graph app -o app.dot

  # Render with Graphviz
  kiln graph | dot -Tsvg -o build.svg`,
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

			dot := closure.ToDOT()
			if outputFile == "" {
				fmt.Print(dot)
				return nil
			}
			return os.WriteFile(outputFile, []byte(dot), 0o644)
		},
	}

	cmd.Flags().StringSliceVarP(&manifestSources, "manifest", "f", []string{"build.cue"}, "manifest file or directory")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write DOT to a file instead of stdout")

	return cmd
}
