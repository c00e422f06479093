package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lamnq/durascan/internal/recovery"
)

var runCmd = &cobra.Command{
	Use:   "run <target>",
	Short: "Start a new scan over a file or directory",
	Args:  cobra.ExactArgs(1),
	Run:   runScan,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScan(cmd *cobra.Command, args []string) {
	cfg, err := setup()
	if err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.close()

	a.ops.Start()
	if a.janitor != nil {
		a.janitor.Start()
	}
	defer stopOps(a)

	if err := a.ctrl.Run(ctx, args[0]); err != nil {
		// A pause is a deliberate outcome, not a failure: an operator abort
		// or an interrupt leaves the scan resumable.
		if errors.Is(err, recovery.ErrUserAbort) || errors.Is(err, context.Canceled) {
			slog.Info("Scan paused", "cause", err)
			return
		}
		slog.Error("Scan failed", "error", err)
		stopOps(a)
		a.close()
		os.Exit(1)
	}

	slog.Info("Scan completed")
}

func stopOps(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.ops.Stop(ctx)
}
