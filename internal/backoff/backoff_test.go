package backoff

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, time.Second},
		{3, time.Second},
		{4, 1600 * time.Millisecond},
		{5, 3200 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := RateLimitDelay(tc.attempt); got != tc.want {
			t.Errorf("RateLimitDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestAttemptDelay(t *testing.T) {
	if got := AttemptDelay(0); got != 500*time.Millisecond {
		t.Errorf("AttemptDelay(0) = %v", got)
	}
	if got := AttemptDelay(2); got != 1500*time.Millisecond {
		t.Errorf("AttemptDelay(2) = %v", got)
	}
}

func TestSleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Minute); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("zero sleep err = %v", err)
	}
}
