package aws

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls to each service at least 1/ratePerSec apart.
// Waiting happens outside the lock, so a slow service never delays callers
// of another.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	next     map[string]time.Time
	now      func() time.Time
}

// NewRateLimiter creates a limiter. A non-positive rate disables limiting.
func NewRateLimiter(ratePerSec int) *RateLimiter {
	rl := &RateLimiter{
		next: make(map[string]time.Time),
		now:  time.Now,
	}
	if ratePerSec > 0 {
		rl.interval = time.Second / time.Duration(ratePerSec)
	}
	return rl
}

// Wait reserves the next slot for service and sleeps until it arrives or ctx
// is done.
func (rl *RateLimiter) Wait(ctx context.Context, service string) error {
	if rl.interval == 0 {
		return nil
	}

	rl.mu.Lock()
	now := rl.now()
	slot := now
	if next, ok := rl.next[service]; ok && next.After(now) {
		slot = next
	}
	rl.next[service] = slot.Add(rl.interval)
	rl.mu.Unlock()

	delay := slot.Sub(now)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
