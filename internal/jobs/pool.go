package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
)

// Handler executes one job type. Implementations check Progress.Cancelled
// at batch boundaries and return promptly when it reports true.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error)

// Execute runs the function.
func (f HandlerFunc) Execute(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error) {
	return f(ctx, job, progress)
}

// Progress lets a handler report completion and observe cancellation.
// The zero value discards reports and never cancels.
type Progress struct {
	repo  Repository
	jobID string
}

// Set records 0-100 completion.
func (p *Progress) Set(ctx context.Context, pct float64) {
	if p.repo == nil {
		return
	}
	if err := p.repo.UpdateProgress(ctx, p.jobID, pct); err != nil {
		logger.Warn("progress update failed", "job_id", p.jobID, "error", err.Error())
	}
}

// Cancelled reports whether cancellation was requested. Handlers poll
// this between batches, never mid-batch.
func (p *Progress) Cancelled(ctx context.Context) bool {
	if p.repo == nil {
		return false
	}
	flag, err := p.repo.IsCancelRequested(ctx, p.jobID)
	if err != nil {
		return false
	}
	return flag
}

// ErrCancelled is returned by handlers that stopped at a batch boundary
// in response to a cancel request.
var ErrCancelled = fmt.Errorf("job cancelled")

// Pool claims and executes jobs with a fixed number of workers. Each
// pool instance holds a unique lease id; jobs it claims but never starts
// are released back to pending on shutdown.
type Pool struct {
	repo      Repository
	handlers  map[domain.JobType]Handler
	leaseID   string
	workers   int
	batchSize int
	interval  time.Duration

	// claimed tracks jobs taken under this lease that have not started
	// executing yet, so Stop can hand them back.
	mu      sync.Mutex
	claimed map[string]bool

	jobs   chan *domain.Job
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPool creates a worker pool. Claimed jobs flow through an internal
// channel to the workers.
func NewPool(repo Repository, workers, batchSize int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	return &Pool{
		repo:      repo,
		handlers:  make(map[domain.JobType]Handler),
		leaseID:   uuid.NewString(),
		workers:   workers,
		batchSize: batchSize,
		interval:  2 * time.Second,
		claimed:   make(map[string]bool),
		jobs:      make(chan *domain.Job),
		stopCh:    make(chan struct{}),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (p *Pool) Register(jobType domain.JobType, h Handler) {
	p.handlers[jobType] = h
}

// LeaseID returns the pool's worker lease id.
func (p *Pool) LeaseID() string { return p.leaseID }

// Start launches the claim loop and workers.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Add(1)
	go p.claimLoop(ctx)
	logger.Info("job pool started", "workers", p.workers, "lease_id", p.leaseID)
}

func (p *Pool) claimLoop(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.jobs)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		claimed, err := p.repo.Claim(ctx, p.leaseID, p.batchSize)
		if err != nil {
			logger.Error("job claim failed", "error", err.Error())
			continue
		}
		for _, job := range claimed {
			p.mu.Lock()
			p.claimed[job.ID] = true
			p.mu.Unlock()
			select {
			case p.jobs <- job:
			case <-p.stopCh:
				// Shutting down with claimed jobs still queued locally;
				// they are released in Stop.
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job *domain.Job) {
	p.mu.Lock()
	delete(p.claimed, job.ID)
	p.mu.Unlock()

	handler, ok := p.handlers[job.Type]
	if !ok {
		p.repo.Fail(ctx, job.ID, fmt.Sprintf("no handler for job type %q", job.Type))
		return
	}

	logger.Info("job started", "job_id", job.ID, "type", string(job.Type), "attempt", job.Attempts)
	startedAt := time.Now()
	progress := &Progress{repo: p.repo, jobID: job.ID}

	result, err := handler.Execute(ctx, job, progress)
	metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(startedAt).Seconds())

	switch {
	case err == ErrCancelled:
		p.repo.MarkCancelled(ctx, job.ID)
		metrics.JobsCompleted.WithLabelValues(string(job.Type), "cancelled").Inc()
		logger.Info("job cancelled", "job_id", job.ID)
	case err != nil:
		p.repo.Fail(ctx, job.ID, err.Error())
		metrics.JobsCompleted.WithLabelValues(string(job.Type), "failed").Inc()
		logger.Error("job failed", "job_id", job.ID, "type", string(job.Type), "error", err.Error())
	default:
		p.repo.Complete(ctx, job.ID, result)
		metrics.JobsCompleted.WithLabelValues(string(job.Type), "completed").Inc()
		logger.Info("job completed", "job_id", job.ID, "duration_ms", time.Since(startedAt).Milliseconds())
	}
}

// Stop drains the pool: no new claims, in-flight jobs get until the
// context deadline to finish, and claimed-but-unstarted jobs return to
// pending for another instance.
func (p *Pool) Stop(ctx context.Context) error {
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("job pool stop deadline exceeded, in-flight jobs will be reclaimed as stale")
	}

	// Anything claimed under this lease that never started goes back.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.mu.Lock()
	unstarted := make([]string, 0, len(p.claimed))
	for id := range p.claimed {
		unstarted = append(unstarted, id)
	}
	p.mu.Unlock()

	if err := p.repo.ReleasePending(releaseCtx, p.leaseID, unstarted); err != nil {
		return err
	}
	return nil
}
