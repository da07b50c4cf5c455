package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Backoff produces bounded randomized delays for the crawl loop.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

// NewBackoff builds a Backoff, swapping bounds if given out of order.
func NewBackoff(minDelay, maxDelay time.Duration) Backoff {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	return Backoff{Min: minDelay, Max: maxDelay}
}

// Next returns a uniformly random delay in [Min, Max].
func (b Backoff) Next() time.Duration {
	return b.Min + randomJitter(b.Max-b.Min)
}

// Jitter returns a random delay in [0, limit].
func Jitter(limit time.Duration) time.Duration {
	return randomJitter(limit)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit) + 1)
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep waits for d or returns ctx.Err() if the context ends first.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
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
