package reliability

import (
	"context"
	"time"
)

// Caller composes the primitives around a remote operation in the order
// breaker, rate limiter, timeout, retry. The timeout is one deadline over
// the whole retried operation, and the retry loop runs inside the breaker
// so individual transient attempts don't count as breaker failures unless
// the whole operation fails.
type Caller struct {
	name    string
	breaker *Breaker
	limiter *Limiter
	timeout time.Duration
	retry   RetryPolicy
}

// CallerConfig assembles a Caller for one provider.
type CallerConfig struct {
	Name      string
	Breaker   BreakerConfig
	PerMinute int
	Timeout   time.Duration
	Retry     RetryPolicy
}

// NewCaller builds the composed reliability stack for one provider.
func NewCaller(cfg CallerConfig) *Caller {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Caller{
		name:    cfg.Name,
		breaker: NewBreaker(cfg.Name, cfg.Breaker),
		limiter: NewLimiter(cfg.PerMinute),
		timeout: timeout,
		retry:   cfg.Retry.normalized(),
	}
}

// Do runs op through the full stack. The deadline starts after the
// limiter admits the call and covers every retry attempt, so a slow
// provider cannot hold the caller for attempts times the timeout.
func (c *Caller) Do(ctx context.Context, op func(ctx context.Context) error) error {
	err := c.breaker.Execute(func() error {
		if err := c.limiter.Acquire(ctx); err != nil {
			return err
		}
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.retry.Do(opCtx, func(ctx context.Context) error {
			return Classify(op(ctx))
		})
	})
	return Classify(err)
}

// Name returns the provider name this caller guards.
func (c *Caller) Name() string { return c.name }

// BreakerState exposes the breaker state for health checks.
func (c *Caller) BreakerState() string { return c.breaker.State() }
