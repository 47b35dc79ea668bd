// Token-bucket rate limiter, adapted from control-plane's
// sshterminal.RateLimiter (and handlers.tokenBucket, the same idea
// duplicated ad hoc per WebSocket handler) into one reusable type.
package connhandler

import (
	"sync"
	"time"
)

type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func newRateLimiter(ratePerSecond float64, burst int) *rateLimiter {
	return &rateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: ratePerSecond,
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	rl.lastRefill = now
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
