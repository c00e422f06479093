package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lamnq/durascan/internal/state"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List resumable (paused or failed) scans",
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) {
	cfg, err := setup()
	if err != nil {
		os.Exit(1)
	}

	store, err := state.NewStore(cfg.State.Dir, cfg.State.CheckpointInterval)
	if err != nil {
		slog.Error("Failed to open state store", "error", err)
		os.Exit(1)
	}

	summaries := store.ListResumable()
	if len(summaries) == 0 {
		fmt.Println("no resumable scans")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "SCAN ID\tTARGET\tSTATUS\tPROGRESS\tSTARTED")
	for _, s := range summaries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			s.ScanID, s.Target, s.Status,
			s.CompletedFiles, s.TotalFiles,
			s.StartedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
