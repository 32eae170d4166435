package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces operations to stay under a per-minute provider quota.
// It is a token bucket of depth one: capacity never accumulates beyond a
// single call, so bursts get spread evenly across the minute instead of
// front-loaded.
type RateLimiter struct {
	mu     sync.Mutex
	perSec float64
	avail  float64
	last   time.Time
}

// NewRateLimiter returns a limiter permitting perMinute calls per minute.
// The first call proceeds immediately.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perSec: float64(perMinute) / 60,
		avail:  1,
		last:   time.Now(),
	}
}

// Wait blocks until the next call is allowed or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.take() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (rl *RateLimiter) take() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.avail += now.Sub(rl.last).Seconds() * rl.perSec
	rl.last = now
	if rl.avail > 1 {
		rl.avail = 1
	}
	if rl.avail < 1 {
		return false
	}
	rl.avail--
	return true
}
