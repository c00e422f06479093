package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lamnq/durascan/internal/recovery"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <scan-id>",
	Short: "Resume a paused or failed scan from its checkpoint",
	Args:  cobra.ExactArgs(1),
	Run:   runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
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
	defer stopOps(a)

	if err := a.ctrl.Resume(ctx, args[0]); err != nil {
		if errors.Is(err, recovery.ErrUserAbort) || errors.Is(err, context.Canceled) {
			slog.Info("Scan paused again", "cause", err)
			return
		}
		slog.Error("Resume failed", "error", err)
		stopOps(a)
		a.close()
		os.Exit(1)
	}

	slog.Info("Scan completed")
}
