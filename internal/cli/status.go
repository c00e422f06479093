package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lamnq/durascan/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <scan-id>",
	Short: "Show the persisted state of one scan",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := setup()
	if err != nil {
		os.Exit(1)
	}

	store, err := state.NewStore(cfg.State.Dir, cfg.State.CheckpointInterval)
	if err != nil {
		slog.Error("Failed to open state store", "error", err)
		os.Exit(1)
	}

	st := store.LoadState(args[0])
	if st == nil {
		fmt.Printf("no persisted state for scan %s\n", args[0])
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "scan id\t%s\n", st.ScanID)
	_, _ = fmt.Fprintf(w, "target\t%s\n", st.Target)
	_, _ = fmt.Fprintf(w, "status\t%s\n", st.Status)
	_, _ = fmt.Fprintf(w, "started\t%s\n", st.StartedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(w, "progress\t%d/%d files\n", st.Progress.CompletedFiles, st.Progress.TotalFiles)
	_, _ = fmt.Fprintf(w, "findings\t%d\n", len(st.Findings))
	if st.PausedAt != nil {
		_, _ = fmt.Fprintf(w, "paused\t%s\n", st.PausedAt.Format("2006-01-02 15:04:05"))
	}
	if st.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "finished\t%s\n", st.CompletedAt.Format("2006-01-02 15:04:05"))
	}
	if st.Error != "" {
		_, _ = fmt.Fprintf(w, "error\t%s\n", st.Error)
	}
	for name, u := range st.ProviderUsage {
		_, _ = fmt.Fprintf(w, "provider %s\t%d calls, %d failures, %d active keys\n",
			name, u.Calls, u.Failures, u.ActiveKeys)
	}
	_ = w.Flush()
}
