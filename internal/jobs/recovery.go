package jobs

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/distlock"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Recovery returns jobs stranded in processing by crashed workers back
// to pending once their lease goes stale. A worker that is merely slow
// keeps its lease fresh by finishing inside the stale threshold; the
// sweep only ever fires well after that.
type Recovery struct {
	repo       Repository
	staleAfter time.Duration
	interval   time.Duration
	lease      *distlock.Lease

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRecovery creates the stale-lease sweeper. lease may be nil when no
// Redis is configured; the sweep then runs on every instance, which is
// safe (the UPDATE is idempotent) but noisier.
func NewRecovery(repo Repository, staleAfter time.Duration, lease *distlock.Lease) *Recovery {
	return &Recovery{
		repo:       repo,
		staleAfter: staleAfter,
		interval:   time.Minute,
		lease:      lease,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop.
func (r *Recovery) Start(ctx context.Context) {
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Recovery) sweep(ctx context.Context) {
	run := func(ctx context.Context) error {
		n, err := r.repo.ReclaimStale(ctx, r.staleAfter)
		if err != nil {
			return err
		}
		if n > 0 {
			metrics.StaleLeasesReclaimed.Add(float64(n))
			logger.Warn("reclaimed stale jobs", "count", n, "stale_after", r.staleAfter.String())
		}
		return nil
	}

	var err error
	if r.lease != nil {
		_, err = r.lease.RunExclusive(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		logger.Error("stale job sweep failed", "error", err.Error())
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Recovery) Stop() {
	close(r.stopCh)
	<-r.doneCh
}
