// Package reliability provides the primitives every remote call funnels
// through: error classification, retry with backoff, circuit breaking,
// rate limiting, and per-attempt deadlines. Workers and provider adapters
// never call remote services directly; they go through a Caller.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel error kinds. Callers match with errors.Is; the concrete cause is
// preserved through %w wrapping.
var (
	// ErrValidation marks caller-supplied data as malformed. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrRateLimited marks local or provider token exhaustion that outlived
	// the caller's deadline.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransientRemote marks network errors, timeouts, 408/425/429 and 5xx.
	// Retried inside the retry primitive.
	ErrTransientRemote = errors.New("transient remote error")

	// ErrPermanentRemote marks 4xx responses other than 408/425/429.
	// Surfaced to the caller without retrying.
	ErrPermanentRemote = errors.New("permanent remote error")

	// ErrBreakerOpen means the circuit breaker rejected the call. Transient
	// from the caller's point of view but never retried automatically.
	ErrBreakerOpen = errors.New("circuit breaker open")

	// ErrConflict marks a unique-constraint or version conflict.
	ErrConflict = errors.New("conflict")

	// ErrDataLossHazard marks a persistence failure during a batch write.
	// Fatal to the batch, which must be rolled back.
	ErrDataLossHazard = errors.New("persistence failure")

	// ErrShutdownInProgress is returned from entry points once shutdown
	// has begun.
	ErrShutdownInProgress = errors.New("shutdown in progress")
)

// Validationf builds a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient wraps err as a retryable remote failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientRemote, err)
}

// Permanent wraps err as a non-retryable remote failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanentRemote, err)
}

// FromStatusCode classifies an HTTP response status into the taxonomy.
// Returns nil for 2xx.
func FromStatusCode(status int, detail string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout, // 408
		status == http.StatusTooEarly,        // 425
		status == http.StatusTooManyRequests, // 429
		status >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrTransientRemote, status, detail)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: status %d: %s", ErrConflict, status, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrPermanentRemote, status, detail)
	}
}

// Classify maps an arbitrary error from a remote call into the taxonomy.
// Already-classified errors pass through unchanged; network and deadline
// errors become transient; everything else is left as-is for the caller.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrTransientRemote) ||
		errors.Is(err, ErrPermanentRemote) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrRateLimited) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransientRemote, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransientRemote, err)
	}
	return err
}

// IsRetryable reports whether the retry primitive should re-attempt after
// this error.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientRemote)
}
