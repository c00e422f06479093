// Package postgres mirrors terminal scans into PostgreSQL for fleet-wide
// querying. The per-scan JSON record stays authoritative; the archive is a
// reporting sink.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/lamnq/durascan/internal/core/domain"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Config holds PostgreSQL connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// Enabled reports whether an archive is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Archive wraps the archive database.
type Archive struct {
	db *sqlx.DB
}

// Open connects, applies migrations and returns the archive.
func Open(ctx context.Context, cfg Config) (*Archive, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to archive database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run archive migrations: %w", err)
	}

	return &Archive{db: db}, nil
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

type scanRow struct {
	ScanID         string     `db:"scan_id"`
	Target         string     `db:"target"`
	Status         string     `db:"status"`
	StartedAt      time.Time  `db:"started_at"`
	CompletedAt    *time.Time `db:"completed_at"`
	CompletedFiles int        `db:"completed_files"`
	TotalFiles     int        `db:"total_files"`
	Error          string     `db:"error"`
}

type findingRow struct {
	ID       string    `db:"id"`
	ScanID   string    `db:"scan_id"`
	Detector string    `db:"detector"`
	File     string    `db:"file"`
	Severity string    `db:"severity"`
	Title    string    `db:"title"`
	Detail   string    `db:"detail"`
	FoundAt  time.Time `db:"found_at"`
}

// ArchiveScan upserts the scan row and replaces its findings.
func (a *Archive) ArchiveScan(ctx context.Context, st *domain.ScanState) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := scanRow{
		ScanID:         st.ScanID,
		Target:         st.Target,
		Status:         string(st.Status),
		StartedAt:      st.StartedAt,
		CompletedAt:    st.CompletedAt,
		CompletedFiles: st.Progress.CompletedFiles,
		TotalFiles:     st.Progress.TotalFiles,
		Error:          st.Error,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO scans (scan_id, target, status, started_at, completed_at, completed_files, total_files, error)
		VALUES (:scan_id, :target, :status, :started_at, :completed_at, :completed_files, :total_files, :error)
		ON CONFLICT (scan_id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			completed_files = EXCLUDED.completed_files,
			total_files = EXCLUDED.total_files,
			error = EXCLUDED.error`, row)
	if err != nil {
		return fmt.Errorf("failed to archive scan %s: %w", st.ScanID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE scan_id = $1`, st.ScanID); err != nil {
		return fmt.Errorf("failed to clear findings for %s: %w", st.ScanID, err)
	}
	for _, f := range st.Findings {
		fr := findingRow{
			ID:       f.ID,
			ScanID:   st.ScanID,
			Detector: f.Detector,
			File:     f.File,
			Severity: f.Severity,
			Title:    f.Title,
			Detail:   f.Detail,
			FoundAt:  f.FoundAt,
		}
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO findings (id, scan_id, detector, file, severity, title, detail, found_at)
			VALUES (:id, :scan_id, :detector, :file, :severity, :title, :detail, :found_at)`, fr)
		if err != nil {
			return fmt.Errorf("failed to archive finding %s: %w", f.ID, err)
		}
	}

	return tx.Commit()
}
