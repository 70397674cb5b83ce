package collector

import (
	"context"
	"time"
)

const (
	DefaultBackoff    = 5 * time.Second
	DefaultMaxBackoff = 5 * time.Minute
)

// Backoff decides how long the monitor waits before retrying. attempt is the number of
// consecutive failures so far, starting at 0.
type Backoff interface {
	NextDelay(attempt int) time.Duration
}

type ConstantBackoff time.Duration

func (b ConstantBackoff) NextDelay(int) time.Duration {
	return time.Duration(b)
}

type ExponentialBackoff struct {
	Factor time.Duration
	Max    time.Duration
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	limit := b.Max

	if limit <= 0 {
		limit = DefaultMaxBackoff
	}

	// shifting past 62 bits overflows a time.Duration.
	if attempt > 62 {
		return limit
	}

	backoff := b.Factor << int64(attempt)

	if backoff <= 0 || backoff > limit || backoff>>int64(attempt) != b.Factor {
		return limit
	}

	return backoff
}

type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
