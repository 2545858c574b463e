package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/types"

	// Built-in importers register themselves.
	_ "github.com/hyperengineering/linkedevents/internal/importer/helmet"
	_ "github.com/hyperengineering/linkedevents/internal/importer/lippupiste"
	_ "github.com/hyperengineering/linkedevents/internal/importer/matko"
	_ "github.com/hyperengineering/linkedevents/internal/importer/tprek"
)

var jsonOutput bool

var importersCmd = &cobra.Command{
	Use:   "importers",
	Short: "List the registered importers",
	Args:  cobra.NoArgs,
	RunE:  runImporters,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(importersCmd)
}

func runImporters(cmd *cobra.Command, args []string) error {
	var infos []types.ImporterInfo
	for _, name := range importer.Names() {
		imp, ok := importer.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, types.ImporterInfo{Name: name, Kinds: importer.Kinds(imp)})
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), infos)
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "NAME\tKINDS\tSCHEDULE")
	for _, info := range infos {
		schedule := "-"
		if d, ok := cfg.Worker.Schedules[info.Name]; ok {
			schedule = time.Duration(d).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, strings.Join(info.Kinds, ","), schedule)
	}
	return w.Flush()
}

// printJSON marshals v to indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
