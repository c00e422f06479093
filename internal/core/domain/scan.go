package domain

import "time"

// ScanStatus represents the lifecycle state of a scan.
type ScanStatus string

const (
	ScanStatusPending   ScanStatus = "pending"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusPaused    ScanStatus = "paused"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are permitted.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	}
	return false
}

// Progress tracks how far a scan has gotten through its file set.
//
// CompletedFiles follows one of two disciplines per scan: derived from
// FilesProcessed by MarkFileCompleted, or set directly through
// UpdateProgress for coarse-grained reporting. Callers must not mix both
// on the same scan.
type Progress struct {
	TotalFiles      int      `json:"total_files"`
	CompletedFiles  int      `json:"completed_files"`
	CurrentFile     string   `json:"current_file,omitempty"`
	CurrentDetector string   `json:"current_detector,omitempty"`
	FilesProcessed  []string `json:"files_processed"`
}

// Finding is one detection result produced during a scan.
type Finding struct {
	ID       string    `json:"id"`
	Detector string    `json:"detector"`
	File     string    `json:"file"`
	Severity string    `json:"severity"`
	Title    string    `json:"title"`
	Detail   string    `json:"detail,omitempty"`
	FoundAt  time.Time `json:"found_at"`
}

// ScanState is the durable record of a scan's identity and progress.
// Exactly one state is current per running job; the whole record is
// rewritten on every persist.
type ScanState struct {
	ScanID        string                   `json:"scan_id"`
	Target        string                   `json:"target"`
	StartedAt     time.Time                `json:"started_at"`
	Status        ScanStatus               `json:"status"`
	Modules       []string                 `json:"modules"`
	Progress      Progress                 `json:"progress"`
	Findings      []Finding                `json:"findings"`
	ProviderUsage map[string]ProviderUsage `json:"provider_usage,omitempty"`
	PausedAt      *time.Time               `json:"paused_at,omitempty"`
	CompletedAt   *time.Time               `json:"completed_at,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

// ScanSummary is the condensed view used when listing resumable scans.
type ScanSummary struct {
	ScanID         string     `json:"scan_id"`
	Target         string     `json:"target"`
	Status         ScanStatus `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	CompletedFiles int        `json:"completed_files"`
	TotalFiles     int        `json:"total_files"`
}
