package provider

import (
	"context"
	"errors"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// FallbackEmail routes sends to the primary email provider and retries
// transient or breaker-open failures against the secondary. Permanent
// failures (bad address, rejected content) are not retried elsewhere: the
// secondary would reject them too.
type FallbackEmail struct {
	primary   EmailProvider
	secondary EmailProvider
}

// NewFallbackEmail wires the two email providers together.
func NewFallbackEmail(primary, secondary EmailProvider) *FallbackEmail {
	return &FallbackEmail{primary: primary, secondary: secondary}
}

// Name reports the composed provider chain.
func (f *FallbackEmail) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

func fallbackEligible(err error) bool {
	return errors.Is(err, reliability.ErrTransientRemote) ||
		errors.Is(err, reliability.ErrBreakerOpen) ||
		errors.Is(err, reliability.ErrRateLimited)
}

// Send tries the primary, then the secondary for recoverable failures.
func (f *FallbackEmail) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	res, err := f.primary.Send(ctx, req)
	if err == nil || !fallbackEligible(err) {
		return res, err
	}

	logger.Warn("primary email provider failed, falling back",
		"primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", err.Error())
	metrics.ProviderFallbacks.Inc()
	return f.secondary.Send(ctx, req)
}

// SendBatch tries the primary, then the secondary for recoverable
// failures. A partially delivered primary batch is not replayed: the
// caller sees the primary's partial results and error.
func (f *FallbackEmail) SendBatch(ctx context.Context, reqs []*SendRequest) ([]*SendResult, error) {
	res, err := f.primary.SendBatch(ctx, reqs)
	if err == nil || !fallbackEligible(err) || len(res) > 0 {
		return res, err
	}

	logger.Warn("primary email provider failed batch, falling back",
		"primary", f.primary.Name(), "secondary", f.secondary.Name(), "count", len(reqs))
	metrics.ProviderFallbacks.Inc()
	return f.secondary.SendBatch(ctx, reqs)
}
