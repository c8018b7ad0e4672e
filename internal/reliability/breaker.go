package reliability

import (
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	// Window is the rolling window over which error rate is measured.
	Window time.Duration
	// ErrorThresholdPct opens the breaker when exceeded within the window.
	ErrorThresholdPct float64
	// MinVolume is the minimum number of requests in the window before the
	// breaker may trip.
	MinVolume int
	// Reset is how long the breaker stays open before admitting a probe.
	Reset time.Duration
}

// DefaultBreakerConfig returns the standard breaker tuning: 10s window,
// 50% error rate over at least 10 requests, 30s open before half-open.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:            10 * time.Second,
		ErrorThresholdPct: 50,
		MinVolume:         10,
		Reset:             30 * time.Second,
	}
}

// Breaker wraps gobreaker with our error taxonomy. In half-open state
// exactly one probe is admitted (MaxRequests=1); its success closes the
// breaker, its failure re-opens it.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a named circuit breaker for one provider.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.ErrorThresholdPct <= 0 {
		cfg.ErrorThresholdPct = 50
	}
	if cfg.MinVolume <= 0 {
		cfg.MinVolume = 10
	}
	if cfg.Reset <= 0 {
		cfg.Reset = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Window,
		Timeout:     cfg.Reset,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinVolume) {
				return false
			}
			errRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return errRate >= cfg.ErrorThresholdPct
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op under the breaker. When the breaker is open the call
// fast-fails with ErrBreakerOpen.
func (b *Breaker) Execute(op func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s", ErrBreakerOpen, b.cb.Name())
	}
	return err
}

// State returns the breaker state name for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
