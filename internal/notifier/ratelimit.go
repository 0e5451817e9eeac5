package notifier

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket limiter for notifications.
type RateLimiter struct {
	limiter   *rate.Limiter
	perMinute int
	burst     int
	enabled   bool
	dropped   atomic.Int64
}

// RateLimitConfig holds rate limiter configuration.
type RateLimitConfig struct {
	PerMinute int  // Sustained notifications per minute (default: 10)
	Burst     int  // Bucket size (default: PerMinute)
	Enabled   bool // Whether rate limiting is enabled (default: true)
}

// DefaultRateLimitConfig returns default rate limit settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PerMinute: 10,
		Burst:     10,
		Enabled:   true,
	}
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.PerMinute <= 0 {
		config.PerMinute = 10
	}
	if config.Burst <= 0 {
		config.Burst = config.PerMinute
	}

	return &RateLimiter{
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.PerMinute)), config.Burst),
		perMinute: config.PerMinute,
		burst:     config.Burst,
		enabled:   config.Enabled,
	}
}

// Allow checks if a notification is allowed under the rate limit.
func (r *RateLimiter) Allow() bool {
	return r.AllowAt(time.Now())
}

// AllowAt is Allow evaluated at t.
func (r *RateLimiter) AllowAt(t time.Time) bool {
	if !r.enabled {
		return true
	}
	if r.limiter.AllowN(t, 1) {
		return true
	}
	r.dropped.Add(1)
	return false
}

// Dropped returns the number of notifications dropped due to rate limiting.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// Stats returns rate limiter statistics.
func (r *RateLimiter) Stats() RateLimitStats {
	return RateLimitStats{
		Dropped:   r.dropped.Load(),
		Available: r.limiter.Tokens(),
		PerMinute: r.perMinute,
		Burst:     r.burst,
		Enabled:   r.enabled,
	}
}

// RateLimitStats contains rate limiter statistics.
type RateLimitStats struct {
	Dropped   int64   // Total notifications dropped
	Available float64 // Tokens currently in the bucket
	PerMinute int     // Sustained rate
	Burst     int     // Bucket size
	Enabled   bool    // Whether rate limiting is enabled
}
