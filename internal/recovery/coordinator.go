package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lamnq/durascan/internal/core/domain"
	"github.com/lamnq/durascan/internal/credential"
	"github.com/lamnq/durascan/internal/metrics"
)

// Mode selects the interaction channel used when automatic failover alone
// cannot resolve a credential failure.
type Mode string

const (
	ModeCLI       Mode = "cli"
	ModeGUI       Mode = "gui"
	ModeAutomatic Mode = "auto"
)

// Outcome is the tagged result of a recovery attempt. Pause/abort are
// ordinary values here, not panics, so the retry loop stays explicit.
type Outcome int

const (
	// OutcomeFailed means no usable credential was obtained.
	OutcomeFailed Outcome = iota
	// OutcomeRecovered means a usable credential is in place; retry.
	OutcomeRecovered
	// OutcomeRetry means the user asked to retry with the same credential.
	OutcomeRetry
	// OutcomeAborted means the user aborted; the retry loop must unwind.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRecovered:
		return "recovered"
	case OutcomeRetry:
		return "retry"
	case OutcomeAborted:
		return "aborted"
	default:
		return "failed"
	}
}

// ErrUserAbort signals that the operator chose to abort recovery. Callers
// catch it and route the scan into pause or cancel before terminating.
var ErrUserAbort = errors.New("recovery aborted by user")

// GUIHandler is the injected capability used in GUI mode. It is expected to
// drive some external dialog and report whether a usable credential is now
// in place.
type GUIHandler func(provider string, kind domain.ErrorKind) bool

// Coordinator orchestrates credential failover and, when that is not
// enough, the configured interaction channel.
type Coordinator struct {
	pool   *credential.Pool
	mode   Mode
	logger *slog.Logger

	mu          sync.Mutex
	prompter    Prompter
	guiHandler  GUIHandler
	errorCounts map[string]int
}

// NewCoordinator creates a coordinator with the given recovery mode. The
// mode is fixed for the coordinator's lifetime.
func NewCoordinator(pool *credential.Pool, mode Mode) *Coordinator {
	return &Coordinator{
		pool:        pool,
		mode:        mode,
		logger:      slog.Default().With("component", "recovery"),
		prompter:    NewStdinPrompter(),
		errorCounts: make(map[string]int),
	}
}

// SetGUIHandler registers the dialog callback used in GUI mode.
func (c *Coordinator) SetGUIHandler(h GUIHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guiHandler = h
}

// SetPrompter replaces the CLI prompter. Used by tests.
func (c *Coordinator) SetPrompter(p Prompter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompter = p
}

// ErrorCount returns how many failures have been recorded for a provider.
func (c *Coordinator) ErrorCount(provider string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errorCounts[provider]
}

// AttemptRecovery tries to obtain a usable credential after a classified
// failure. The very first attempt always tries silent failover regardless
// of mode; automatic mode never goes further than that.
func (c *Coordinator) AttemptRecovery(ctx context.Context, provider string, kind domain.ErrorKind, attempt int) Outcome {
	c.mu.Lock()
	c.errorCounts[provider]++
	c.mu.Unlock()

	c.pool.RecordFailure(provider, string(kind))
	metrics.ProviderErrors.WithLabelValues(provider, string(kind)).Inc()

	outcome := c.recover(ctx, provider, kind, attempt)
	metrics.RecoveryAttempts.WithLabelValues(provider, outcome.String()).Inc()
	return outcome
}

func (c *Coordinator) recover(ctx context.Context, provider string, kind domain.ErrorKind, attempt int) Outcome {
	if c.mode == ModeAutomatic || attempt == 0 {
		if c.failover(provider, kind) {
			return OutcomeRecovered
		}
		if c.mode == ModeAutomatic {
			c.logger.Warn("no backup credential available",
				"provider", provider, "kind", kind)
			return OutcomeFailed
		}
	}

	switch c.mode {
	case ModeGUI:
		return c.recoverGUI(provider, kind)
	case ModeCLI:
		return c.recoverCLI(ctx, provider, kind)
	default:
		return OutcomeFailed
	}
}

func (c *Coordinator) failover(provider string, kind domain.ErrorKind) bool {
	if !c.pool.AdvanceToNextActive(provider) {
		return false
	}
	metrics.Failovers.WithLabelValues(provider).Inc()
	c.logger.Info("failed over to backup credential",
		"provider", provider,
		"kind", kind,
		"cursor", c.pool.CursorIndex(provider),
		"credential", c.pool.CurrentMasked(provider))
	return true
}

func (c *Coordinator) recoverGUI(provider string, kind domain.ErrorKind) Outcome {
	c.mu.Lock()
	handler := c.guiHandler
	c.mu.Unlock()

	if handler == nil {
		// Not an error: an unregistered dialog degrades to failover.
		c.logger.Warn("no GUI recovery handler registered, degrading to automatic failover",
			"provider", provider)
		if c.failover(provider, kind) {
			return OutcomeRecovered
		}
		return OutcomeFailed
	}

	if handler(provider, kind) {
		return OutcomeRecovered
	}
	return OutcomeFailed
}

func (c *Coordinator) recoverCLI(ctx context.Context, provider string, kind domain.ErrorKind) Outcome {
	c.mu.Lock()
	prompter := c.prompter
	c.mu.Unlock()

	choice, err := prompter.Choose(ctx, provider, c.pool.CurrentMasked(provider), kind)
	if err != nil {
		// End of input or interrupt counts as an abort.
		c.logger.Info("recovery prompt interrupted, aborting", "error", err)
		return OutcomeAborted
	}

	switch choice {
	case ChoiceNewKey:
		secret, err := prompter.NewSecret(ctx, provider)
		if err != nil || secret == "" {
			return OutcomeAborted
		}
		c.pool.AddCredential(provider, secret, true)
		c.pool.ResetCursor(provider)
		c.logger.Info("new primary credential supplied",
			"provider", provider, "credential", domain.MaskSecret(secret))
		return OutcomeRecovered

	case ChoiceBackupKey:
		if c.failover(provider, kind) {
			return OutcomeRecovered
		}
		c.logger.Warn("no backup credential to switch to", "provider", provider)
		return OutcomeFailed

	case ChoiceSwitchProvider:
		// Switching providers is the session controller's call, not ours.
		c.logger.Info("provider switch requested, not actionable here", "provider", provider)
		return OutcomeFailed

	case ChoiceRetry:
		return OutcomeRetry

	case ChoiceAbort:
		return OutcomeAborted

	default:
		return OutcomeFailed
	}
}
