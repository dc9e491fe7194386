package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	PerMinute int  `yaml:"per_minute"` // sustained deliveries per minute (default: 60)
	Burst     int  `yaml:"burst"`      // deliveries allowed at once (default: 10)
	Enabled   bool `yaml:"enabled"`
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{PerMinute: 60, Burst: 10, Enabled: true}
}

// RateLimiter is a token bucket shared by all outbound deliveries.
type RateLimiter struct {
	limiter *rate.Limiter
	enabled bool
	dropped atomic.Int64
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 60
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	every := time.Minute / time.Duration(config.PerMinute)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(every), config.Burst),
		enabled: config.Enabled,
	}
}

// Allow reports whether one more delivery may be sent now.
func (r *RateLimiter) Allow() bool {
	if !r.enabled {
		return true
	}
	if r.limiter.Allow() {
		return true
	}
	r.dropped.Add(1)
	return false
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped int64
	Limit   rate.Limit
	Burst   int
	Enabled bool
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Dropped: r.dropped.Load(),
		Limit:   r.limiter.Limit(),
		Burst:   r.limiter.Burst(),
		Enabled: r.enabled,
	}
}
