// Package resilience wraps transient-failure retry with bounded exponential
// backoff. Agent and provider calls go through here so a single hiccup does
// not fail a whole run.
package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Config bounds a retry loop.
type Config struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// Retryable filters which errors are worth another attempt. Nil retries
	// everything except context cancellation.
	Retryable func(error) bool
}

// Default suits short-lived network calls.
var Default = Config{
	MaxAttempts: 3,
	Backoff:     500 * time.Millisecond,
	MaxBackoff:  5 * time.Second,
}

// DoVal runs fn until it succeeds, attempts are exhausted, the error is not
// retryable, or ctx ends. Backoff doubles per attempt with jitter.
func DoVal[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	backoff := cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, err
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleep := backoff
		if backoff > 0 {
			sleep += time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		}
		if cfg.MaxBackoff > 0 && sleep > cfg.MaxBackoff {
			sleep = cfg.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		backoff *= 2
	}
	return zero, lastErr
}

// Do is DoVal for calls without a return value.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
