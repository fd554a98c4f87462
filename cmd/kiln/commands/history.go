package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kilnbuild/kiln/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded build history",
		Long: `Inspect the build history database configured through the settings
file. Every build records its summary tallies plus the terminal event of
each dispatched rule.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded builds",
		Example: `  # Most recent builds
  kiln -c kiln.yaml history list

  # More of them
  kiln -c kiln.yaml history list --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireHistory(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			builds, err := store.ListBuilds(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMANIFEST\tSTATUS\tUPDATED\tSKIPPED\tFAILED\tSTARTED")
			for _, b := range builds {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					b.ID, b.Manifest, b.Status, b.Updated, b.Skipped, b.Failed,
					b.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of builds to list")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <build-id>",
		Short: "Show one build with its rule outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireHistory(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			build, err := store.GetBuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			outcomes, err := store.ListRuleOutcomes(cmd.Context(), build.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Build:     %s\n", build.ID)
			fmt.Printf("Manifest:  %s\n", build.Manifest)
			fmt.Printf("Status:    %s\n", build.Status)
			fmt.Printf("Summary:   total=%d updated=%d skipped=%d failed=%d discarded=%d\n",
				build.Total, build.Updated, build.Skipped, build.Failed, build.Discarded)
			if build.Error != nil {
				fmt.Printf("Error:     %s\n", *build.Error)
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RULE\tEVENT\tDURATION\tDETAIL")
			for _, o := range outcomes {
				detail := ""
				if o.Reason != nil {
					detail = *o.Reason
				}
				if o.Error != nil {
					detail = *o.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%dms\t%s\n", o.RuleName, o.Event, o.DurationMS, detail)
			}
			return w.Flush()
		},
	}

	return cmd
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := requireHistory(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deleted, err := store.PruneBuilds(cmd.Context(), keep)
			if err != nil {
				return err
			}

			log.Info().Int64("deleted", deleted).Int("kept", keep).Msg("Pruned build history")
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of recent builds to keep")

	return cmd
}

// requireHistory opens the configured history database or fails with a
// pointer at the settings file.
func requireHistory(cmd *cobra.Command) (*stores.SQLiteStore, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	if settings.HistoryDB == "" {
		return nil, fmt.Errorf("no history database configured; set history_db in the settings file")
	}
	return openHistory(cmd.Context(), settings)
}
