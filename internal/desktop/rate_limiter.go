package desktop

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/readerline/notifyengine/internal/clock"
)

// RateLimiter caps how often an alert kind fires. It wraps a token bucket
// and feeds it time from a clock.Clock, so a fake clock drives it in tests.
type RateLimiter struct {
	bucket *rate.Limiter
	clock  clock.Clock
	burst  int
}

// RateLimiterConfig holds configuration for rate limiting.
type RateLimiterConfig struct {
	PerMinute int
	BurstSize int
}

// NewRateLimiter creates a limiter. Non-positive values default to 10 per
// minute with a burst of 3, never above PerMinute. A nil clock uses the real
// clock.
func NewRateLimiter(config RateLimiterConfig, clk clock.Clock) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.BurstSize <= 0 {
		config.BurstSize = min(3, config.PerMinute)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &RateLimiter{
		bucket: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), config.BurstSize),
		clock:  clk,
		burst:  config.BurstSize,
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	return rl.bucket.AllowN(rl.clock.Now(), 1)
}

// Available reports the whole tokens left right now.
func (rl *RateLimiter) Available() int {
	return int(rl.bucket.TokensAt(rl.clock.Now()))
}

// Burst is the bucket capacity.
func (rl *RateLimiter) Burst() int { return rl.burst }
