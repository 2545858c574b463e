package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/types"
)

var (
	runsImporter string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent import runs",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&runsImporter, "importer", "", "Only show runs of this importer")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListImportRuns(cmd.Context(), runsImporter, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if runs == nil {
		runs = []types.ImportRun{}
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No import runs found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "STARTED\tIMPORTER\tSTATUS\tCREATED\tCHANGED\tUNCHANGED\tDELETED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Importer, r.Status,
			r.Created, r.Changed, r.Unchanged, r.Deleted, r.Error)
	}
	return w.Flush()
}
