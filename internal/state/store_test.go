package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/lamnq/durascan/internal/core/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestInitScanPersistsRunningState(t *testing.T) {
	store := newTestStore(t)
	st := store.InitScan("scan-1", "https://example.com", []string{"secrets"}, 42)

	if st.Status != domain.ScanStatusRunning {
		t.Errorf("status = %v, want running", st.Status)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), "scan-1.json")); err != nil {
		t.Errorf("record not persisted: %v", err)
	}
}

func TestInitScanGeneratesID(t *testing.T) {
	store := newTestStore(t)
	st := store.InitScan("", "target", nil, 0)
	if st.ScanID == "" {
		t.Fatal("expected a generated scan id")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	st := store.InitScan("scan-rt", "repo/", []string{"secrets", "xss"}, 3)

	store.MarkFileCompleted("a.go")
	store.AddFinding(domain.Finding{
		ID:       "f-1",
		Detector: "secrets",
		File:     "a.go",
		Severity: "high",
		Title:    "hardcoded token",
		FoundAt:  time.Now().UTC().Truncate(time.Second),
	})
	store.SetProviderUsage(map[string]domain.ProviderUsage{
		"gemini": {Provider: "gemini", Calls: 7, ActiveKeys: 2},
	})
	if err := store.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	fresh, err := NewStore(store.Dir(), 0)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	loaded := fresh.LoadState("scan-rt")
	if loaded == nil {
		t.Fatal("LoadState returned nil")
	}
	if !reflect.DeepEqual(loaded, st) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, st)
	}
}

func TestLoadStateSoftFail(t *testing.T) {
	store := newTestStore(t)
	if st := store.LoadState("missing"); st != nil {
		t.Error("missing record should load as nil")
	}

	// Corrupt record fails soft too.
	if err := os.WriteFile(filepath.Join(store.Dir(), "bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if st := store.LoadState("bad"); st != nil {
		t.Error("unreadable record should load as nil")
	}
}

func TestMarkFileCompletedIdempotent(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-idem", "t", nil, 2)

	store.MarkFileCompleted("a.go")
	store.MarkFileCompleted("a.go")
	store.MarkFileCompleted("b.go")
	store.MarkFileCompleted("a.go")

	p := store.Current().Progress
	if p.CompletedFiles != 2 {
		t.Errorf("completed = %d, want 2", p.CompletedFiles)
	}
	if !reflect.DeepEqual(p.FilesProcessed, []string{"a.go", "b.go"}) {
		t.Errorf("processed = %v", p.FilesProcessed)
	}
	if !store.IsFileProcessed("a.go") || store.IsFileProcessed("c.go") {
		t.Error("membership check broken")
	}
}

func TestIsFileProcessedWithoutScan(t *testing.T) {
	store := newTestStore(t)
	if store.IsFileProcessed("a.go") {
		t.Error("no current scan: membership must be false")
	}
}

func TestUpdateProgressCheckpointInterval(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-ckpt", "t", nil, 100)
	path := filepath.Join(store.Dir(), "scan-ckpt.json")

	// Drift the in-memory state, then cross a checkpoint boundary.
	file := "f9.go"
	n := 9
	store.UpdateProgress(ProgressUpdate{CurrentFile: &file, CompletedFiles: &n})

	onDisk := readRecord(t, path)
	if onDisk.Progress.CompletedFiles != 0 {
		t.Fatalf("9 completed files should not checkpoint, disk has %d", onDisk.Progress.CompletedFiles)
	}

	n = 10
	store.UpdateProgress(ProgressUpdate{CompletedFiles: &n})
	onDisk = readRecord(t, path)
	if onDisk.Progress.CompletedFiles != 10 {
		t.Errorf("multiple of interval should checkpoint, disk has %d", onDisk.Progress.CompletedFiles)
	}
	if onDisk.Progress.CurrentFile != "f9.go" {
		t.Errorf("current file = %q", onDisk.Progress.CurrentFile)
	}
}

func TestCheckpointOnlyWhenCountChanges(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-once", "t", nil, 100)
	path := filepath.Join(store.Dir(), "scan-once.json")

	n := 10
	store.UpdateProgress(ProgressUpdate{CompletedFiles: &n})
	if readRecord(t, path).Progress.CompletedFiles != 10 {
		t.Fatal("reaching the boundary should checkpoint")
	}

	// A count sitting at the boundary must not re-persist on later updates.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	file := "f10.go"
	store.UpdateProgress(ProgressUpdate{CurrentFile: &file})
	store.UpdateProgress(ProgressUpdate{CompletedFiles: &n})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("unchanged count at the boundary re-checkpointed")
	}

	n = 20
	store.UpdateProgress(ProgressUpdate{CompletedFiles: &n})
	if readRecord(t, path).Progress.CompletedFiles != 20 {
		t.Error("next boundary should checkpoint again")
	}
}

func TestMarkFileCompletedCheckpointsAtInterval(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-mark", "t", nil, 20)
	path := filepath.Join(store.Dir(), "scan-mark.json")

	// Drop the init persist so only the interval checkpoint can recreate it.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 9; i++ {
		store.MarkFileCompleted(fmt.Sprintf("f%d.go", i))
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("9 completed files should not checkpoint")
	}

	store.MarkFileCompleted("f9.go")
	if readRecord(t, path).Progress.CompletedFiles != 10 {
		t.Error("10th completed file should checkpoint")
	}
}

func TestSummary(t *testing.T) {
	store := newTestStore(t)
	if _, ok := store.Summary(); ok {
		t.Fatal("no current scan: Summary should report none")
	}

	store.InitScan("scan-sum", "repo/", nil, 5)
	store.MarkFileCompleted("a.go")

	sum, ok := store.Summary()
	if !ok {
		t.Fatal("Summary should report the current scan")
	}
	if sum.ScanID != "scan-sum" || sum.Status != domain.ScanStatusRunning {
		t.Errorf("summary = %+v", sum)
	}
	if sum.CompletedFiles != 1 || sum.TotalFiles != 5 {
		t.Errorf("progress = %d/%d", sum.CompletedFiles, sum.TotalFiles)
	}
}

// Observers may snapshot from another goroutine while the scan mutates the
// same record. Run with -race.
func TestSummarySafeDuringMutation(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-conc", "t", nil, 200)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			store.Summary()
			store.IsFileProcessed("f0.go")
		}
	}()

	for i := 0; i < 200; i++ {
		store.MarkFileCompleted(fmt.Sprintf("f%d.go", i))
		store.AddFinding(domain.Finding{ID: fmt.Sprintf("f-%d", i), Detector: "secrets", Severity: "low"})
	}
	<-done

	sum, ok := store.Summary()
	if !ok || sum.CompletedFiles != 200 {
		t.Errorf("summary after mutation = %+v, %v", sum, ok)
	}
}

func TestStatusTransitions(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-st", "t", nil, 1)

	if err := store.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if store.Current().PausedAt == nil {
		t.Error("PausedAt not stamped")
	}
	if err := store.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// PausedAt is kept for audit after resume.
	if store.Current().PausedAt == nil {
		t.Error("PausedAt should survive resume for audit")
	}
	if err := store.Complete(""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if store.Current().Status != domain.ScanStatusCompleted {
		t.Errorf("status = %v", store.Current().Status)
	}
	if store.Current().CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	// Terminal states are final: cancel after complete is rejected.
	if err := store.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel after Complete = %v, want ErrInvalidTransition", err)
	}
}

func TestCompleteWithErrorIsFailed(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-fail", "t", nil, 1)

	if err := store.Complete("provider quota exhausted"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	st := store.Current()
	if st.Status != domain.ScanStatusFailed {
		t.Errorf("status = %v, want failed", st.Status)
	}
	if st.Error != "provider quota exhausted" {
		t.Errorf("error = %q", st.Error)
	}

	// A failed scan can be reopened; the stale error is cleared.
	if err := store.Resume(); err != nil {
		t.Fatalf("Resume after failure: %v", err)
	}
	st = store.Current()
	if st.Status != domain.ScanStatusRunning {
		t.Errorf("status = %v, want running", st.Status)
	}
	if st.Error != "" || st.CompletedAt != nil {
		t.Errorf("stale failure not cleared: error=%q completedAt=%v", st.Error, st.CompletedAt)
	}
}

func TestPauseResumePreservesProgressAndFindings(t *testing.T) {
	store := newTestStore(t)
	store.InitScan("scan-pp", "t", nil, 5)
	store.MarkFileCompleted("a.go")
	store.AddFinding(domain.Finding{ID: "f-1", Detector: "xss", Severity: "low"})

	progress := store.Current().Progress
	findings := append([]domain.Finding(nil), store.Current().Findings...)

	if err := store.Pause(); err != nil {
		t.Fatal(err)
	}
	if err := store.Resume(); err != nil {
		t.Fatal(err)
	}
	if err := store.Pause(); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(store.Current().Progress, progress) {
		t.Error("progress mutated by pause/resume")
	}
	if !reflect.DeepEqual(store.Current().Findings, findings) {
		t.Error("findings mutated by pause/resume")
	}
}

func TestTransitionsWithoutScan(t *testing.T) {
	store := newTestStore(t)
	if err := store.Pause(); !errors.Is(err, ErrNoScan) {
		t.Errorf("Pause = %v, want ErrNoScan", err)
	}
}

func TestListResumable(t *testing.T) {
	dir := t.TempDir()

	mk := func(id string, status domain.ScanStatus, started time.Time) {
		store, err := NewStore(dir, 0)
		if err != nil {
			t.Fatal(err)
		}
		st := store.InitScan(id, "t-"+id, nil, 10)
		st.StartedAt = started
		switch status {
		case domain.ScanStatusPaused:
			_ = store.Pause()
		case domain.ScanStatusFailed:
			_ = store.Complete("boom")
		case domain.ScanStatusCompleted:
			_ = store.Complete("")
		case domain.ScanStatusRunning:
			store.Checkpoint()
		}
	}

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mk("old-paused", domain.ScanStatusPaused, base)
	mk("done", domain.ScanStatusCompleted, base.Add(1*time.Hour))
	mk("new-failed", domain.ScanStatusFailed, base.Add(2*time.Hour))
	mk("running", domain.ScanStatusRunning, base.Add(3*time.Hour))

	store, err := NewStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	got := store.ListResumable()

	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (%+v)", len(got), got)
	}
	// Newest StartedAt first.
	if got[0].ScanID != "new-failed" || got[1].ScanID != "old-paused" {
		t.Errorf("order = [%s, %s]", got[0].ScanID, got[1].ScanID)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()

	write := func(id string, status domain.ScanStatus, completedAt *time.Time) {
		st := domain.ScanState{
			ScanID:      id,
			Target:      "t",
			StartedAt:   time.Now().UTC().Add(-240 * time.Hour),
			Status:      status,
			CompletedAt: completedAt,
		}
		data, err := json.Marshal(st)
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, id+".json"), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tenDaysAgo := time.Now().UTC().AddDate(0, 0, -10)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)

	write("old-completed", domain.ScanStatusCompleted, &tenDaysAgo)
	write("fresh-completed", domain.ScanStatusCompleted, &yesterday)
	write("old-cancelled", domain.ScanStatusCancelled, &tenDaysAgo)
	write("paused-no-ts", domain.ScanStatusPaused, nil)
	write("completed-no-ts", domain.ScanStatusCompleted, nil)
	// A corrupt record must not abort the sweep.
	if err := os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	removed := store.Cleanup(7)
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	for _, id := range []string{"fresh-completed", "paused-no-ts", "completed-no-ts"} {
		if _, err := os.Stat(filepath.Join(dir, id+".json")); err != nil {
			t.Errorf("%s should survive cleanup: %v", id, err)
		}
	}
	for _, id := range []string{"old-completed", "old-cancelled"} {
		if _, err := os.Stat(filepath.Join(dir, id+".json")); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", id)
		}
	}
}

func TestSanitizeID(t *testing.T) {
	if got := sanitizeID("../../etc/passwd"); got != ".._.._etc_passwd" {
		t.Errorf("sanitizeID = %q", got)
	}
}

func readRecord(t *testing.T, path string) *domain.ScanState {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	var st domain.ScanState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("parse record: %v", err)
	}
	return &st
}
