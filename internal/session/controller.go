// Package session drives a scan end to end: it walks the target, routes
// every remote call through the resilient executor, reports progress to the
// state store, and turns unrecoverable failures into a paused or failed
// scan that can be resumed later.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/lamnq/durascan/internal/core/domain"
	"github.com/lamnq/durascan/internal/credential"
	"github.com/lamnq/durascan/internal/credential/ledger"
	"github.com/lamnq/durascan/internal/recovery"
	"github.com/lamnq/durascan/internal/state"
)

// Analyzer is the remote analysis capability (one provider client).
type Analyzer interface {
	// Name returns the provider name retries are scoped to.
	Name() string

	// Analyze inspects one file with one detection module. A nil finding
	// means clean. Must be safe to invoke repeatedly for the same input.
	Analyze(ctx context.Context, path, detector string) (*domain.Finding, error)
}

// Archiver mirrors terminal scans into long-term storage.
type Archiver interface {
	ArchiveScan(ctx context.Context, st *domain.ScanState) error
}

// Config wires a controller.
type Config struct {
	Store    *state.Store
	Pool     *credential.Pool
	Executor *recovery.Executor
	Analyzer Analyzer
	Modules  []string
	Ledger   *ledger.Ledger // optional
	Archiver Archiver       // optional
}

// Controller orchestrates one scan at a time. The retry loop, the pool
// cursor and the store are all single-threaded through the controller per
// the cooperative scheduling model.
type Controller struct {
	store    *state.Store
	pool     *credential.Pool
	exec     *recovery.Executor
	analyzer Analyzer
	modules  []string
	ledger   *ledger.Ledger
	archiver Archiver
	logger   *slog.Logger
}

// ErrNotResumable is returned when a scan id does not reference a paused or
// failed scan.
var ErrNotResumable = errors.New("scan is not resumable")

// NewController creates a session controller.
func NewController(cfg Config) *Controller {
	return &Controller{
		store:    cfg.Store,
		pool:     cfg.Pool,
		exec:     cfg.Executor,
		analyzer: cfg.Analyzer,
		modules:  cfg.Modules,
		ledger:   cfg.Ledger,
		archiver: cfg.Archiver,
		logger:   slog.Default().With("component", "session"),
	}
}

// Run starts a fresh scan over the target and drives it to a terminal or
// paused status.
func (c *Controller) Run(ctx context.Context, target string) error {
	files, err := collectFiles(target)
	if err != nil {
		return fmt.Errorf("failed to enumerate target: %w", err)
	}

	c.store.InitScan("", target, c.modules, len(files))
	return c.process(ctx, files)
}

// Resume reloads a paused or failed scan and continues from its progress
// point, skipping files already processed.
func (c *Controller) Resume(ctx context.Context, scanID string) error {
	st := c.store.LoadState(scanID)
	if st == nil {
		return fmt.Errorf("scan %s: no persisted state", scanID)
	}
	if st.Status != domain.ScanStatusPaused && st.Status != domain.ScanStatusFailed {
		return fmt.Errorf("scan %s has status %s: %w", scanID, st.Status, ErrNotResumable)
	}

	files, err := collectFiles(st.Target)
	if err != nil {
		return fmt.Errorf("failed to enumerate target: %w", err)
	}

	if err := c.store.Resume(); err != nil {
		return err
	}

	// The target may have gained or lost files since the original run.
	total := len(files)
	c.store.UpdateProgress(state.ProgressUpdate{TotalFiles: &total})

	c.logger.Info("scan resumed",
		"scan_id", scanID,
		"completed", st.Progress.CompletedFiles,
		"total", total)
	return c.process(ctx, files)
}

func (c *Controller) process(ctx context.Context, files []string) error {
	provider := c.analyzer.Name()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return c.suspend(err)
		}
		if c.store.IsFileProcessed(file) {
			continue
		}

		for _, module := range c.modules {
			c.store.UpdateProgress(state.ProgressUpdate{
				CurrentFile:     &file,
				CurrentDetector: &module,
			})

			result, err := c.exec.Execute(ctx, provider, func(ctx context.Context) (any, error) {
				return c.analyzer.Analyze(ctx, file, module)
			})
			c.ledger.RecordCall(ctx, provider)
			if err != nil {
				c.ledger.RecordFailure(ctx, provider, string(credential.Classify(err.Error())))
				return c.handleFailure(err)
			}

			if finding, ok := result.(*domain.Finding); ok && finding != nil {
				c.store.AddFinding(*finding)
				c.logger.Info("finding recorded",
					"file", file, "detector", module, "severity", finding.Severity)
			}
		}

		c.store.MarkFileCompleted(file)
	}

	c.store.SetProviderUsage(c.pool.Snapshot())
	if err := c.store.Complete(""); err != nil {
		return err
	}
	c.archive(ctx)
	return nil
}

// handleFailure routes an unrecoverable executor failure per the session
// contract: user aborts pause the scan for later resume, anything else
// fails it with the error recorded.
func (c *Controller) handleFailure(err error) error {
	if errors.Is(err, recovery.ErrUserAbort) || errors.Is(err, context.Canceled) {
		return c.suspend(err)
	}

	c.store.SetProviderUsage(c.pool.Snapshot())
	if terr := c.store.Complete(err.Error()); terr != nil {
		c.logger.Error("failed to mark scan failed", "error", terr)
	}
	c.logger.Error("scan failed", "error", err)
	return err
}

func (c *Controller) suspend(cause error) error {
	c.store.SetProviderUsage(c.pool.Snapshot())
	if err := c.store.Pause(); err != nil {
		c.logger.Error("failed to pause scan", "error", err)
	} else if cur := c.store.Current(); cur != nil {
		c.logger.Info("scan paused, resume later with its scan id",
			"scan_id", cur.ScanID, "cause", cause)
	}
	return cause
}

func (c *Controller) archive(ctx context.Context) {
	if c.archiver == nil {
		return
	}
	st := c.store.Current()
	if st == nil {
		return
	}
	if err := c.archiver.ArchiveScan(ctx, st); err != nil {
		// Archival is best effort; the JSON record remains authoritative.
		c.logger.Warn("failed to archive scan", "scan_id", st.ScanID, "error", err)
	}
}

// collectFiles enumerates regular files under the target path in walk
// order. Hidden files and directories are skipped. A single-file target
// yields itself.
func collectFiles(target string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != target && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files under %s", target)
	}
	return files, nil
}
