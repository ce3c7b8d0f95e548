// Package backoff holds the retry delay schedules used by the LLM dispatcher.
package backoff

import (
	"context"
	"time"
)

// RateLimitDelay is the sleep applied after a 429 before moving on:
// max(1s, 100ms * 2^attempt). Attempts are 0-indexed.
func RateLimitDelay(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	d := 100 * time.Millisecond << uint(attempt)
	if d < time.Second {
		return time.Second
	}
	return d
}

// AttemptDelay is the pause between full passes over the candidate model
// list: 500ms * (attempt+1). Attempts are 0-indexed.
func AttemptDelay(attempt int) time.Duration {
	return 500 * time.Millisecond * time.Duration(attempt+1)
}

// Sleep waits for the duration, returning early with ctx.Err() on
// cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
