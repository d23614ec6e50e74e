package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing REST calls and tracks the weight the exchange
// reports back in its response headers.
type RateLimiter struct {
	limiter       *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	log           *zap.Logger
	mu            sync.RWMutex
}

// NewRateLimiter allows limit requests per resetInterval with a small burst.
func NewRateLimiter(limit int, resetInterval time.Duration, log *zap.Logger) *RateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	burst := limit / 20
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter:       rate.NewLimiter(rate.Every(resetInterval/time.Duration(limit)), burst),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}

// UpdateFromHeader records the used weight from a response header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight

	pct := float64(rl.usedWeight) / float64(rl.limit) * 100
	switch {
	case pct >= 95:
		rl.log.Error("rate limit critical", zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit))
	case pct >= 80:
		rl.log.Warn("rate limit warning", zap.Int("used", rl.usedWeight), zap.Int("limit", rl.limit))
	}
}

// Usage returns the last reported weight.
func (rl *RateLimiter) Usage() (used, limit int) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit
	}
	return rl.usedWeight, rl.limit
}
