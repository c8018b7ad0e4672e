package reliability

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter is a process-local token bucket: refill rate perMinute/60 tokens
// per second, capacity perMinute. Acquire blocks until a token is available
// or the caller's deadline is reached, whichever comes first.
//
// Buckets are process-local; multi-process deployments shard by provider or
// use the shared Redis counters in internal/enrichment.
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates a limiter with the given per-minute ceiling.
// A ceiling <= 0 means unlimited.
func NewLimiter(perMinute int) *Limiter {
	if perMinute <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)}
}

// Acquire takes one token, waiting as needed. Returns ErrRateLimited when
// the context deadline expires before a token frees up.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return nil
}

// Allow reports whether a token is immediately available, consuming it if so.
func (l *Limiter) Allow() bool {
	return l.bucket.Allow()
}
