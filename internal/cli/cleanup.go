package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lamnq/durascan/internal/state"
)

var cleanupDays int

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old completed and cancelled scan records",
	Run:   runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "retention window in days (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	cfg, err := setup()
	if err != nil {
		os.Exit(1)
	}

	days := cleanupDays
	if days <= 0 {
		days = cfg.State.RetentionDays
	}

	store, err := state.NewStore(cfg.State.Dir, cfg.State.CheckpointInterval)
	if err != nil {
		slog.Error("Failed to open state store", "error", err)
		os.Exit(1)
	}

	removed := store.Cleanup(days)
	fmt.Printf("removed %d scan record(s) older than %d days\n", removed, days)
}
