package common

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests and tracks the venue's reported weight.
type RateLimiter struct {
	limiter       *rate.Limiter
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	mu            sync.RWMutex
	log           zerolog.Logger
}

// NewRateLimiter creates a new rate limiter.
// limit: maximum weight allowed (e.g., 1200 for spot)
// resetInterval: time window (e.g., 1 minute)
func NewRateLimiter(limit int, resetInterval time.Duration, log zerolog.Logger) *RateLimiter {
	perSec := rate.Limit(float64(limit) / resetInterval.Seconds())
	return &RateLimiter{
		limiter:       rate.NewLimiter(perSec, limit/10+1),
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		log:           log,
	}
}

// Wait blocks until a request of the given weight may be sent, or ctx ends.
// When the venue reports usage above 90% the caller is held back until the window resets.
func (rl *RateLimiter) Wait(ctx context.Context, weight int) error {
	if rl.ShouldDelay() {
		rl.mu.RLock()
		wait := rl.resetInterval - time.Since(rl.lastReset)
		rl.mu.RUnlock()
		if wait > 0 {
			t := time.NewTimer(wait)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	if weight < 1 {
		weight = 1
	}
	return rl.limiter.WaitN(ctx, weight)
}

// UpdateFromHeader updates the used weight from API response header.
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
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}

	rl.usedWeight = weight

	percentage := float64(rl.usedWeight) / float64(rl.limit) * 100
	if percentage >= 95 {
		rl.log.Error().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rate limit critical, approaching ban threshold")
	} else if percentage >= 80 {
		rl.log.Warn().Int("used", rl.usedWeight).Int("limit", rl.limit).Msg("rate limit warning")
	}
}

// GetUsage returns current usage information.
func (rl *RateLimiter) GetUsage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}

	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if we should delay the next request.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.GetUsage()
	return pct >= 90
}
