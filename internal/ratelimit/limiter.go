// Package ratelimit throttles outbound requests to a minimum
// inter-request interval shared by every fetch worker in the process.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/docfoundry/docscraper/internal/metrics"
)

// Limiter serializes network dispatch across all workers. Tokens are
// released in FIFO order by the underlying rate.Limiter.
type Limiter struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// New creates a Limiter enforcing the given minimum interval between
// acquisitions. An interval <= 0 disables throttling entirely.
func New(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
	}
}

// Wait blocks until at least the configured interval has elapsed since the
// previous acquisition, or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(delay)
	}
	return nil
}

// Interval reports the configured minimum inter-request interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
