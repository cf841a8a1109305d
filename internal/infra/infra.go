// Package infra provides shared infrastructure components used across
// the application: clocks, upstream HTTP access, rate limiting, retry
// budgets, debouncing and logger construction.
package infra

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// --- Clock ---

// Clock reports the current time. Components take a Clock instead of
// calling time.Now so tests can control staleness deterministically.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock is the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// --- Rate limiter ---

// RateLimiter is a token-bucket limiter shared by every call to one
// upstream provider.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a rate limiter that allows perSecond requests per
// second with the given burst. A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
