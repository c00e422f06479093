package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lamnq/durascan/internal/core/domain"
	"github.com/lamnq/durascan/internal/metrics"
)

// DefaultCheckpointInterval is how many completed files trigger an
// automatic checkpoint write from UpdateProgress.
const DefaultCheckpointInterval = 10

var (
	// ErrNoScan is returned by lifecycle transitions when no scan is current.
	ErrNoScan = errors.New("no current scan")

	// ErrInvalidTransition is returned for disallowed status transitions,
	// including any mutation of a terminal scan.
	ErrInvalidTransition = errors.New("invalid scan status transition")
)

// validTransitions is the scan status state machine. Completed and
// Cancelled are strictly final; Failed is terminal for mutation but may be
// reopened to Running, since failed scans are resumable. Running and Paused
// flip both ways.
var validTransitions = map[domain.ScanStatus][]domain.ScanStatus{
	domain.ScanStatusPending: {
		domain.ScanStatusRunning,
		domain.ScanStatusCancelled,
	},
	domain.ScanStatusRunning: {
		domain.ScanStatusPaused,
		domain.ScanStatusCompleted,
		domain.ScanStatusFailed,
		domain.ScanStatusCancelled,
	},
	domain.ScanStatusPaused: {
		domain.ScanStatusRunning,
		domain.ScanStatusCompleted,
		domain.ScanStatusFailed,
		domain.ScanStatusCancelled,
	},
	domain.ScanStatusFailed: {
		domain.ScanStatusRunning,
	},
}

// CanTransition checks whether a status transition is allowed.
func CanTransition(from, to domain.ScanStatus) bool {
	for _, target := range validTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// Store is the durable scan-state handle for one job. It owns at most one
// "current" scan at a time and persists it as one JSON document per scanId
// under the state directory. Every write replaces the whole record via a
// temp file + rename, so readers never observe a torn mix of old and new
// fields.
//
// One scan is driven by one caller at a time, but read-only observers such
// as the ops endpoints run on other goroutines, so access to the current
// state is serialized internally. Concurrent observers take Summary;
// Current hands out the live record and belongs to the driving goroutine.
type Store struct {
	dir      string
	interval int
	logger   *slog.Logger

	mu      sync.RWMutex
	current *domain.ScanState
}

// DefaultDir returns the per-user state directory.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "durascan", "scans")
}

// NewStore creates a store over the given directory, creating it if needed.
// An empty dir selects DefaultDir; interval <= 0 selects the default.
func NewStore(dir string, checkpointInterval int) (*Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if checkpointInterval <= 0 {
		checkpointInterval = DefaultCheckpointInterval
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &Store{
		dir:      dir,
		interval: checkpointInterval,
		logger:   slog.Default().With("component", "state"),
	}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Current returns the live current scan state, or nil. The record is shared
// with the store and must only be used from the scan-driving goroutine;
// concurrent observers take Summary instead.
func (s *Store) Current() *domain.ScanState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Summary returns a copied snapshot of the current scan, safe to read from
// any goroutine. The second return is false when no scan is current.
func (s *Store) Summary() (domain.ScanSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return domain.ScanSummary{}, false
	}
	st := s.current
	return domain.ScanSummary{
		ScanID:         st.ScanID,
		Target:         st.Target,
		Status:         st.Status,
		StartedAt:      st.StartedAt,
		PausedAt:       st.PausedAt,
		CompletedFiles: st.Progress.CompletedFiles,
		TotalFiles:     st.Progress.TotalFiles,
	}, true
}

// InitScan creates and persists a fresh Running scan and makes it current.
// An empty scanID gets a generated one. Re-using an existing id overwrites
// the prior record; uniqueness is the caller's contract.
func (s *Store) InitScan(scanID, target string, modules []string, totalFiles int) *domain.ScanState {
	if scanID == "" {
		scanID = uuid.New().String()
	}

	st := &domain.ScanState{
		ScanID:    scanID,
		Target:    target,
		StartedAt: time.Now().UTC(),
		Status:    domain.ScanStatusRunning,
		Modules:   modules,
		Progress: domain.Progress{
			TotalFiles:     totalFiles,
			FilesProcessed: []string{},
		},
		Findings: []domain.Finding{},
	}

	s.mu.Lock()
	s.current = st
	s.persist()
	s.mu.Unlock()

	s.logger.Info("scan initialized",
		"scan_id", scanID, "target", target, "total_files", totalFiles)
	return st
}

// ProgressUpdate carries the optional fields merged by UpdateProgress.
type ProgressUpdate struct {
	CurrentFile     *string
	CurrentDetector *string
	CompletedFiles  *int
	TotalFiles      *int
}

// UpdateProgress merges the provided fields into the current state and
// checkpoints when this call moved the completed-file count onto a positive
// multiple of the checkpoint interval. A count merely sitting at a boundary
// does not re-persist.
//
// Setting CompletedFiles directly is the coarse-grained discipline; do not
// mix it with MarkFileCompleted on the same scan.
func (s *Store) UpdateProgress(u ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	prev := s.current.Progress.CompletedFiles
	if u.CurrentFile != nil {
		s.current.Progress.CurrentFile = *u.CurrentFile
	}
	if u.CurrentDetector != nil {
		s.current.Progress.CurrentDetector = *u.CurrentDetector
	}
	if u.CompletedFiles != nil {
		s.current.Progress.CompletedFiles = *u.CompletedFiles
	}
	if u.TotalFiles != nil {
		s.current.Progress.TotalFiles = *u.TotalFiles
	}

	done := s.current.Progress.CompletedFiles
	metrics.ScanCompletedFiles.WithLabelValues(s.current.ScanID).Set(float64(done))
	if done > 0 && done != prev && done%s.interval == 0 {
		s.persist()
	}
}

// MarkFileCompleted appends a path to the processed list if absent,
// recomputes the completed count from the list length and checkpoints when
// the count reaches a multiple of the checkpoint interval.
func (s *Store) MarkFileCompleted(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	for _, p := range s.current.Progress.FilesProcessed {
		if p == path {
			return
		}
	}
	s.current.Progress.FilesProcessed = append(s.current.Progress.FilesProcessed, path)
	done := len(s.current.Progress.FilesProcessed)
	s.current.Progress.CompletedFiles = done
	metrics.ScanCompletedFiles.WithLabelValues(s.current.ScanID).Set(float64(done))
	if done%s.interval == 0 {
		s.persist()
	}
}

// IsFileProcessed reports membership in the current scan's processed set.
func (s *Store) IsFileProcessed(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return false
	}
	for _, p := range s.current.Progress.FilesProcessed {
		if p == path {
			return true
		}
	}
	return false
}

// AddFinding appends a finding to the current scan. No checkpoint is
// triggered; findings ride along with the next persist.
func (s *Store) AddFinding(f domain.Finding) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current.Findings = append(s.current.Findings, f)
	metrics.FindingsTotal.WithLabelValues(f.Detector, f.Severity).Inc()
}

// SetProviderUsage stores a provider usage snapshot for audit and resume.
func (s *Store) SetProviderUsage(usage map[string]domain.ProviderUsage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	s.current.ProviderUsage = usage
}

// Pause transitions the current scan to Paused and persists immediately.
func (s *Store) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(domain.ScanStatusPaused)
}

// Resume transitions the current scan back to Running and persists.
// PausedAt is intentionally left at the last pause time for audit.
func (s *Store) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(domain.ScanStatusRunning)
}

// Complete terminates the scan: Completed when errMsg is empty, Failed
// otherwise, recording the error. Persists immediately.
func (s *Store) Complete(errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if errMsg == "" {
		return s.transition(domain.ScanStatusCompleted)
	}
	if s.current != nil {
		s.current.Error = errMsg
	}
	return s.transition(domain.ScanStatusFailed)
}

// Cancel terminates the scan as Cancelled. Cancelling a terminal scan is
// rejected with ErrInvalidTransition.
func (s *Store) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(domain.ScanStatusCancelled)
}

// transition applies a status change. Caller holds s.mu.
func (s *Store) transition(to domain.ScanStatus) error {
	if s.current == nil {
		return ErrNoScan
	}
	from := s.current.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC()
	s.current.Status = to
	switch {
	case to == domain.ScanStatusPaused:
		s.current.PausedAt = &now
	case to == domain.ScanStatusRunning:
		// Reopening a failed scan: the old error and completion stamp no
		// longer describe the record.
		s.current.Error = ""
		s.current.CompletedAt = nil
	case to.IsTerminal():
		s.current.CompletedAt = &now
	}

	s.persist()
	s.logger.Info("scan status changed",
		"scan_id", s.current.ScanID, "from", from, "to", to)
	return nil
}

// LoadState reconstructs a persisted scan and makes it current. Fails soft:
// a missing or unreadable record returns nil.
func (s *Store) LoadState(scanID string) *domain.ScanState {
	st, err := s.read(s.path(scanID))
	if err != nil {
		s.logger.Warn("failed to load scan state", "scan_id", scanID, "error", err)
		return nil
	}
	s.mu.Lock()
	s.current = st
	s.mu.Unlock()
	return st
}

// ListResumable returns summaries of all Paused or Failed scans, newest
// StartedAt first. Unreadable records are logged and skipped.
func (s *Store) ListResumable() []domain.ScanSummary {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to read state dir", "error", err)
		return nil
	}

	var out []domain.ScanSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		st, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable scan record", "file", e.Name(), "error", err)
			continue
		}
		if st.Status != domain.ScanStatusPaused && st.Status != domain.ScanStatusFailed {
			continue
		}
		out = append(out, domain.ScanSummary{
			ScanID:         st.ScanID,
			Target:         st.Target,
			Status:         st.Status,
			StartedAt:      st.StartedAt,
			PausedAt:       st.PausedAt,
			CompletedFiles: st.Progress.CompletedFiles,
			TotalFiles:     st.Progress.TotalFiles,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Cleanup deletes records of Completed or Cancelled scans whose CompletedAt
// precedes the cutoff. Records without a parseable CompletedAt are left
// untouched; individual read errors never abort the sweep. Returns the
// number of records removed.
func (s *Store) Cleanup(olderThanDays int) int {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Warn("failed to read state dir", "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		st, err := s.read(path)
		if err != nil {
			s.logger.Warn("skipping unreadable scan record", "file", e.Name(), "error", err)
			continue
		}
		if st.Status != domain.ScanStatusCompleted && st.Status != domain.ScanStatusCancelled {
			continue
		}
		if st.CompletedAt == nil || !st.CompletedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove scan record", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}

	s.logger.Info("cleanup sweep finished", "removed", removed, "older_than_days", olderThanDays)
	return removed
}

// Checkpoint forces an immediate persist of the current state.
func (s *Store) Checkpoint() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist()
}

// persist writes the current state to disk. State-layer I/O failures are
// logged, never propagated; the in-memory state stays the source of truth
// until the next successful write. Caller holds s.mu.
func (s *Store) persist() {
	if s.current == nil {
		return
	}

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		s.logger.Error("failed to encode scan state", "scan_id", s.current.ScanID, "error", err)
		return
	}

	path := s.path(s.current.ScanID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("failed to write scan state", "scan_id", s.current.ScanID, "error", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Error("failed to replace scan state", "scan_id", s.current.ScanID, "error", err)
		return
	}
	metrics.CheckpointWrites.Inc()
}

func (s *Store) read(path string) (*domain.ScanState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st domain.ScanState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse scan record: %w", err)
	}
	return &st, nil
}

// path derives the record filename deterministically from the scan id.
func (s *Store) path(scanID string) string {
	return filepath.Join(s.dir, sanitizeID(scanID)+".json")
}

// sanitizeID keeps scan ids filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
