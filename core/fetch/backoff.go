package fetch

import (
	"context"
	"time"
)

// Backoff decides how long to wait before retry number `retry` (1-based).
// Implementations must be monotonically non-decreasing in `retry`.
type Backoff interface {
	Delay(retry int) time.Duration
}

// BackoffFunc adapts a plain function to a Backoff.
type BackoffFunc func(retry int) time.Duration

func (f BackoffFunc) Delay(retry int) time.Duration { return f(retry) }

// LinearBackoff waits `step * retry`: 1s, 2s, 3s... for a 1s step.
func LinearBackoff(step time.Duration) Backoff {
	return BackoffFunc(func(retry int) time.Duration {
		if retry < 1 {
			retry = 1
		}
		return time.Duration(retry) * step
	})
}

// ConstantBackoff always waits `d`.
func ConstantBackoff(d time.Duration) Backoff {
	return BackoffFunc(func(int) time.Duration { return d })
}

// NoBackoff retries immediately.
var NoBackoff = ConstantBackoff(0)

// sleep waits for `d` unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
