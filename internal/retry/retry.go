// Package retry runs an operation under a bounded, fixed-backoff retry policy.
package retry

import (
	"context"
	"time"
)

// Policy configures Do. The zero value makes a single attempt.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable decides whether an error warrants another attempt. Nil retries nothing.
	Retryable func(error) bool
	// Sleep waits between attempts; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do calls fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt >= maxAttempts || p.Retryable == nil || !p.Retryable(err) {
			return attempt, err
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return attempt, err
		}
	}
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
