package resilience

import (
	"context"
	"time"
)

// Backoff returns the delay before retry number attempt (0-based): base
// doubled attempt times, capped at limit.
func Backoff(attempt int, base, limit time.Duration) time.Duration {
	d := base
	for range attempt {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() when interrupted.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
