package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProviderCalls tracks remote operations per provider and outcome.
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durascan_provider_calls_total",
			Help: "Total number of remote provider calls",
		},
		[]string{"provider", "status"},
	)

	// ProviderErrors tracks classified provider failures.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durascan_provider_errors_total",
			Help: "Total number of classified provider errors",
		},
		[]string{"provider", "kind"},
	)

	// RecoveryAttempts tracks recovery attempts per provider and outcome.
	RecoveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durascan_recovery_attempts_total",
			Help: "Total number of credential recovery attempts",
		},
		[]string{"provider", "outcome"},
	)

	// Failovers tracks automatic credential failovers per provider.
	Failovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durascan_failovers_total",
			Help: "Total number of automatic credential failovers",
		},
		[]string{"provider"},
	)

	// CheckpointWrites tracks scan state persists.
	CheckpointWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "durascan_checkpoint_writes_total",
			Help: "Total number of scan state checkpoint writes",
		},
	)

	// FindingsTotal tracks findings recorded per detector and severity.
	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "durascan_findings_total",
			Help: "Total number of findings recorded",
		},
		[]string{"detector", "severity"},
	)

	// ScanCompletedFiles tracks per-scan progress.
	ScanCompletedFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "durascan_scan_completed_files",
			Help: "Files completed by the current scan",
		},
		[]string{"scan_id"},
	)
)
