package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lamnq/durascan/internal/core/domain"
	"github.com/lamnq/durascan/internal/credential"
	"github.com/lamnq/durascan/internal/metrics"
)

// ErrRetriesExhausted is returned when the executor runs out of attempts
// without observing a concrete failure (only reachable with maxRetries=0).
var ErrRetriesExhausted = errors.New("retries exhausted")

// Operation is one idempotent unit of remote work. It must fail with a
// message the classifier can extract category tokens from.
type Operation func(ctx context.Context) (any, error)

// Executor wraps remote operations with retry, classification, recovery
// and rate-limit backoff. Attempts within one Execute call are strictly
// sequential; a later attempt never starts before the previous attempt's
// recovery and backoff complete.
type Executor struct {
	pool        *credential.Pool
	coordinator *Coordinator
	maxRetries  int
	backoffUnit time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. maxRetries <= 0 defaults to 3.
func NewExecutor(pool *credential.Pool, coordinator *Coordinator, maxRetries int) *Executor {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{
		pool:        pool,
		coordinator: coordinator,
		maxRetries:  maxRetries,
		backoffUnit: time.Second,
		logger:      slog.Default().With("component", "executor"),
	}
}

// SetBackoffUnit overrides the backoff time unit. Used by tests.
func (e *Executor) SetBackoffUnit(unit time.Duration) {
	e.backoffUnit = unit
}

// Execute invokes op up to maxRetries times, recovering credentials between
// attempts. Exactly one terminal outcome: the successful result, the last
// unrecovered failure, or ErrUserAbort.
func (e *Executor) Execute(ctx context.Context, provider string, op Operation) (any, error) {
	var lastErr error

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			e.pool.RecordUsage(provider)
			metrics.ProviderCalls.WithLabelValues(provider, "ok").Inc()
			return result, nil
		}

		lastErr = err
		metrics.ProviderCalls.WithLabelValues(provider, "error").Inc()

		kind := credential.Classify(err.Error())
		e.logger.Warn("provider call failed",
			"provider", provider, "attempt", attempt, "kind", kind, "error", err)

		outcome := e.coordinator.AttemptRecovery(ctx, provider, kind, attempt)
		if outcome == OutcomeAborted {
			return nil, fmt.Errorf("%s: %w", provider, ErrUserAbort)
		}
		if outcome == OutcomeFailed && attempt == e.maxRetries-1 {
			return nil, err
		}

		// Back off before the next attempt on rate limits; never after the
		// final allowed attempt.
		if kind == domain.ErrorKindRateLimit && attempt < e.maxRetries-1 {
			delay := backoffDelay(attempt, e.backoffUnit)
			e.logger.Info("rate limited, backing off",
				"provider", provider, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrRetriesExhausted
}

// backoffDelay returns min(2^attempt, 60) backoff units.
func backoffDelay(attempt int, unit time.Duration) time.Duration {
	units := math.Pow(2, float64(attempt))
	if units > 60 {
		units = 60
	}
	return time.Duration(units) * unit
}
