// Package cli wires the durascan commands: run, resume, list, status and
// cleanup.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	archive "github.com/lamnq/durascan/internal/archive/postgres"
	"github.com/lamnq/durascan/internal/core/config"
	"github.com/lamnq/durascan/internal/credential"
	"github.com/lamnq/durascan/internal/credential/ledger"
	"github.com/lamnq/durascan/internal/ops"
	"github.com/lamnq/durascan/internal/provider"
	"github.com/lamnq/durascan/internal/recovery"
	"github.com/lamnq/durascan/internal/session"
	"github.com/lamnq/durascan/internal/state"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "durascan",
	Short: "Resilient multi-stage security scanner",
	Long: `durascan runs long multi-stage scan jobs that survive credential
failures and process restarts. Scans checkpoint their progress and can be
paused, resumed and swept by retention.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads .env and the YAML config, then initializes logging.
func setup() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Logging is not configured yet; use the plain default handler.
		slog.Error("Failed to load config", "error", err)
		return nil, err
	}

	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))

	return cfg, nil
}

// app holds the wired components for run/resume.
type app struct {
	cfg     *config.AppConfig
	store   *state.Store
	ctrl    *session.Controller
	ops     *ops.Server
	janitor *state.Janitor
	ledger  *ledger.Ledger
	archive *archive.Archive
}

func buildApp(ctx context.Context, cfg *config.AppConfig) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := state.NewStore(cfg.State.Dir, cfg.State.CheckpointInterval)
	if err != nil {
		return nil, err
	}

	pool := credential.NewPool()
	for _, p := range cfg.Providers {
		for _, c := range p.Credentials {
			pool.AddCredential(p.Name, c.Secret, c.Primary)
		}
	}

	// The session runs against one provider at a time; the rest keep their
	// credentials in the pool for a manual switch.
	active := cfg.Providers[0]
	if len(cfg.Providers) > 1 {
		slog.Info("multiple providers configured", "active", active.Name)
	}

	coordinator := recovery.NewCoordinator(pool, recovery.Mode(cfg.Recovery.Mode))
	executor := recovery.NewExecutor(pool, coordinator, cfg.Recovery.MaxRetries)
	analyzer := provider.NewClient(active.Config, pool)

	a := &app{
		cfg:   cfg,
		store: store,
		ops:   ops.NewServer(store, cfg.Server.Port),
	}

	if cfg.Redis.URL != "" {
		led, err := ledger.New(cfg.Redis)
		if err != nil {
			// The ledger is an optional audit aid, not a scan dependency.
			slog.Warn("usage ledger unavailable, continuing without it", "error", err)
		} else {
			a.ledger = led
		}
	}

	sessionCfg := session.Config{
		Store:    store,
		Pool:     pool,
		Executor: executor,
		Analyzer: analyzer,
		Modules:  cfg.Scan.Modules,
		Ledger:   a.ledger,
	}

	if cfg.Archive.Enabled() {
		ar, err := archive.Open(ctx, cfg.Archive)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("archive configured but unreachable: %w", err)
		}
		a.archive = ar
		sessionCfg.Archiver = ar
	}

	a.ctrl = session.NewController(sessionCfg)

	if cfg.State.CleanupSchedule != "" {
		j, err := state.NewJanitor(store, cfg.State.CleanupSchedule, cfg.State.RetentionDays)
		if err != nil {
			a.close()
			return nil, err
		}
		a.janitor = j
	}

	return a, nil
}

func (a *app) close() {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
}
