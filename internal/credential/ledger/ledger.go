// Package ledger persists provider usage counters in Redis so rate budgets
// survive process restarts. The ledger is optional: a nil *Ledger is a
// valid no-op handle.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyTTL = 48 * time.Hour

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Ledger tracks per-provider daily call and failure counters.
type Ledger struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Ledger, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Ledger{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.rdb.Close()
}

func usageKey(provider string) string {
	return fmt.Sprintf("usage:%s:%s", provider, time.Now().UTC().Format("2006-01-02"))
}

// RecordCall increments the provider's daily call counter.
func (l *Ledger) RecordCall(ctx context.Context, provider string) {
	if l == nil {
		return
	}
	key := usageKey(provider)
	pipe := l.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "calls", 1)
	pipe.Expire(ctx, key, keyTTL)
	_, _ = pipe.Exec(ctx)
}

// RecordFailure increments the provider's daily failure counter for one
// classified error kind.
func (l *Ledger) RecordFailure(ctx context.Context, provider, kind string) {
	if l == nil {
		return
	}
	key := usageKey(provider)
	pipe := l.rdb.Pipeline()
	pipe.HIncrBy(ctx, key, "failures", 1)
	pipe.HIncrBy(ctx, key, "kind:"+kind, 1)
	pipe.Expire(ctx, key, keyTTL)
	_, _ = pipe.Exec(ctx)
}

// Usage returns today's call and failure counts for a provider.
func (l *Ledger) Usage(ctx context.Context, provider string) (calls, failures int64, err error) {
	if l == nil {
		return 0, 0, nil
	}
	vals, err := l.rdb.HGetAll(ctx, usageKey(provider)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read usage ledger: %w", err)
	}
	calls = parseCounter(vals["calls"])
	failures = parseCounter(vals["failures"])
	return calls, failures, nil
}

func parseCounter(s string) int64 {
	var n int64
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}
