package reliability

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy controls the retry-with-backoff primitive.
// Defaults: base 1s, multiplier 2, 5 attempts, jitter up to 25% of the
// delay. Total worst-case wait stays under 31s.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxAttempts     int
	Randomization   float64
}

// DefaultRetryPolicy returns the standard policy for provider calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxAttempts:     5,
		Randomization:   0.25,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Randomization < 0 {
		p.Randomization = 0.25
	}
	return p
}

// Do runs op, retrying transient failures per the policy. Non-retryable
// errors abort immediately. The context bounds the whole operation: its
// cancellation or deadline stops further attempts.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	p = p.normalized()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.RandomizationFactor = p.Randomization
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0 // attempts, not wall clock, bound us

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)

	return backoff.Retry(func() error {
		err := Classify(op(ctx))
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
