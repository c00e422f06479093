package recovery

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteSucceedsFirstTry(t *testing.T) {
	pool := newTestPool("key-a-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)

	calls := 0
	result, err := exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "ok" || calls != 1 {
		t.Errorf("result = %v, calls = %d", result, calls)
	}

	// Success records usage against the current credential.
	if snap := pool.Snapshot()["gemini"]; snap.Calls != 1 {
		t.Errorf("usage = %d, want 1", snap.Calls)
	}
}

// Pool [A(primary), B, C]; op rate-limited on A, succeeds on B. The
// executor must return the success after exactly 2 invocations with the
// cursor at index 1.
func TestExecuteFailsOverOnRateLimit(t *testing.T) {
	pool := newTestPool("key-a-0000", "key-b-0000", "key-c-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)
	exec.SetBackoffUnit(time.Millisecond)

	calls := 0
	result, err := exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
		calls++
		secret, _ := pool.Current("gemini")
		if secret == "key-a-0000" {
			return nil, errors.New("provider returned 429: rate limit hit")
		}
		return "analysis", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "analysis" {
		t.Errorf("result = %v", result)
	}
	if calls != 2 {
		t.Errorf("op invoked %d times, want 2", calls)
	}
	if idx := pool.CursorIndex("gemini"); idx != 1 {
		t.Errorf("cursor = %d, want 1", idx)
	}
}

// With k active credentials, up to k-1 consecutive failures recover without
// any interaction channel.
func TestExecuteSilentFailoverBudget(t *testing.T) {
	pool := newTestPool("key-a-0000", "key-b-0000", "key-c-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)

	failures := 0
	result, err := exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
		if failures < 2 {
			failures++
			return nil, errors.New("401 unauthorized")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != "done" {
		t.Errorf("result = %v", result)
	}
	if idx := pool.CursorIndex("gemini"); idx != 2 {
		t.Errorf("cursor = %d, want 2", idx)
	}
}

func TestExecutePropagatesFinalFailure(t *testing.T) {
	pool := newTestPool("key-a-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)

	opErr := errors.New("invalid api key")
	calls := 0
	_, err := exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
		calls++
		return nil, opErr
	})
	if !errors.Is(err, opErr) {
		t.Fatalf("err = %v, want the original failure", err)
	}
	if calls != 3 {
		t.Errorf("op invoked %d times, want exactly maxRetries", calls)
	}
}

func TestExecuteAbortPropagatesImmediately(t *testing.T) {
	pool := newTestPool("key-a-0000")
	coord := NewCoordinator(pool, ModeCLI)
	coord.SetPrompter(&fakePrompter{choices: []Choice{ChoiceAbort, ChoiceAbort}})
	exec := NewExecutor(pool, coord, 3)

	calls := 0
	_, err := exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
		calls++
		return nil, errors.New("expired key")
	})
	if !errors.Is(err, ErrUserAbort) {
		t.Fatalf("err = %v, want ErrUserAbort", err)
	}
	// Single credential: failover fails, the menu runs, abort unwinds the
	// loop without another attempt.
	if calls != 1 {
		t.Errorf("op invoked %d times after abort, want 1", calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		units   time.Duration
	}{
		{0, 1}, {1, 2}, {2, 4}, {5, 32}, {6, 60}, {10, 60},
	}

	for _, tt := range tests {
		got := backoffDelay(tt.attempt, time.Second)
		if got != tt.units*time.Second {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.units*time.Second)
		}
	}
}

// Only rate limits sleep between attempts; other kinds retry immediately.
func TestNoBackoffForNonRateLimit(t *testing.T) {
	pool := newTestPool("key-a-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)
	exec.SetBackoffUnit(time.Hour) // would hang the test if slept

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = exec.Execute(context.Background(), "gemini", func(ctx context.Context) (any, error) {
			return nil, errors.New("invalid api key")
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("executor slept on a non-rate-limit failure")
	}
}

func TestExecuteContextCancelledDuringBackoff(t *testing.T) {
	pool := newTestPool("key-a-0000", "key-b-0000")
	exec := NewExecutor(pool, NewCoordinator(pool, ModeAutomatic), 3)
	exec.SetBackoffUnit(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := exec.Execute(ctx, "gemini", func(ctx context.Context) (any, error) {
		return nil, errors.New("429 too many requests")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
