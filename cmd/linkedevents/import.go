package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/hyperengineering/linkedevents/internal/worker"
)

var (
	importOpts      importer.Options
	importScheduled bool
)

var importCmd = &cobra.Command{
	Use:   "import [importer]",
	Short: "Run an importer once",
	Long: "Run one importer, or with --scheduled every importer that has a worker schedule.\n" +
		"Without --places, --events or --keywords every kind the importer supports is imported.",
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

func init() {
	f := importCmd.Flags()
	f.BoolVar(&importOpts.Force, "force", false, "Allow deleting more entities than the safety guard permits")
	f.BoolVar(&importOpts.Remap, "remap", false, "Re-process deleted places so their events move to replacements")
	f.StringVar(&importOpts.Single, "single", "", "Import only the entity with this origin id or name")
	f.BoolVar(&importOpts.Places, "places", false, "Import places")
	f.BoolVar(&importOpts.Events, "events", false, "Import events")
	f.BoolVar(&importOpts.Keywords, "keywords", false, "Import keywords")
	f.BoolVar(&importScheduled, "scheduled", false, "Run every scheduled importer once")
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	if importScheduled == (len(args) == 1) {
		return errors.New("give an importer name or --scheduled")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	runner, db, err := openRunner()
	if err != nil {
		return err
	}
	defer db.Close()

	if importScheduled {
		coordinator := worker.NewImportCoordinator(runner, schedules())
		if failed := coordinator.RunOnce(ctx); failed > 0 {
			return fmt.Errorf("%d of %d scheduled imports failed", failed, len(coordinator.Names()))
		}
		return nil
	}

	run, err := runner.Run(ctx, args[0], importOpts)
	if run != nil {
		if perr := printRun(cmd.OutOrStdout(), run); perr != nil {
			return perr
		}
	}
	return err
}

func printRun(w io.Writer, run *types.ImportRun) error {
	if jsonOutput {
		return printJSON(w, run)
	}
	_, err := fmt.Fprintf(w, "%s %s: created %d, changed %d, unchanged %d, deleted %d\n",
		run.Importer, run.Status, run.Created, run.Changed, run.Unchanged, run.Deleted)
	return err
}
