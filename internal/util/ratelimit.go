package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token-bucket rate limiter that replenishes tokens
// at a fixed rate. A nil *RateLimiter never blocks.
type RateLimiter struct {
	rate     float64 // tokens per second
	tokens   float64
	burst    float64
	lastTime time.Time
	mu       sync.Mutex
}

// NewRateLimiter creates a RateLimiter that allows perMinute operations per
// minute. A non-positive perMinute returns nil (unlimited).
func NewRateLimiter(perMinute int) *RateLimiter {
	return NewBurstRateLimiter(perMinute, 1)
}

// NewBurstRateLimiter is NewRateLimiter with a bucket of burst tokens, all
// available immediately.
func NewBurstRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:     float64(perMinute) / 60.0,
		tokens:   float64(burst),
		burst:    float64(burst),
		lastTime: time.Now(),
	}
}

// Wait blocks until a rate-limit token is available or the context is
// cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return ctx.Err()
	}
	for {
		wait := rl.reserve(time.Now())
		if wait == 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reserve takes a token if one is available and returns 0, otherwise it
// returns how long until the next token accrues.
func (rl *RateLimiter) reserve(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = min(rl.burst, rl.tokens+now.Sub(rl.lastTime).Seconds()*rl.rate)
	rl.lastTime = now
	if rl.tokens >= 1 {
		rl.tokens--
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
}
