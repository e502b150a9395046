package service

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 4
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

// Retry reattempts fn with exponential backoff while it fails with
// ErrConflict. The core transactions never retry internally; this is the
// explicit boundary-level policy, so retries stay bounded and visible.
// Any non-conflict error fails fast.
//
// Schedule with defaults: immediate, 10ms, 20ms, 40ms (plus ~30% jitter).
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < defaultMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := defaultBaseDelay * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Float64() * float64(delay) * defaultJitterFactor)
			select {
			case <-time.After(delay + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Retryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}
