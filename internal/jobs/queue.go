// Package jobs provides the durable background job queue: submission,
// status, cooperative cancellation, a typed worker pool, and recovery of
// jobs stranded by dead workers.
package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Repository is the persistence the queue needs.
type Repository interface {
	Enqueue(ctx context.Context, job *domain.Job, maxSize int) error
	Claim(ctx context.Context, leaseID string, limit int) ([]*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, status domain.JobStatus, jobType domain.JobType, limit int) ([]*domain.Job, error)
	UpdateProgress(ctx context.Context, id string, progress float64) error
	Complete(ctx context.Context, id string, result json.RawMessage) error
	Fail(ctx context.Context, id string, cause string) error
	RequestCancel(ctx context.Context, id string) (domain.JobStatus, error)
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	MarkCancelled(ctx context.Context, id string) error
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)
	ReleasePending(ctx context.Context, leaseID string, ids []string) error
}

var validTypes = map[domain.JobType]bool{
	domain.JobImport:       true,
	domain.JobEnrich:       true,
	domain.JobCRMSync:      true,
	domain.JobEnrol:        true,
	domain.JobCampaignTick: true,
}

// Queue is the submission and inspection surface over the job store.
type Queue struct {
	repo     Repository
	maxSize  int
	draining func() bool
}

// NewQueue creates the queue service. draining reports whether shutdown
// has begun; once it returns true all submissions are rejected.
func NewQueue(repo Repository, maxSize int, draining func() bool) *Queue {
	if draining == nil {
		draining = func() bool { return false }
	}
	return &Queue{repo: repo, maxSize: maxSize, draining: draining}
}

// Submit validates and enqueues a job, returning it with its id set.
func (q *Queue) Submit(ctx context.Context, jobType domain.JobType, priority domain.JobPriority, params json.RawMessage) (*domain.Job, error) {
	if q.draining() {
		return nil, reliability.ErrShutdownInProgress
	}
	if !validTypes[jobType] {
		return nil, reliability.Validationf("unknown job type %q", jobType)
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	} else if !json.Valid(params) {
		return nil, reliability.Validationf("job parameters are not valid JSON")
	}

	job := &domain.Job{Type: jobType, Priority: priority, Parameters: params}
	if err := q.repo.Enqueue(ctx, job, q.maxSize); err != nil {
		return nil, err
	}
	metrics.JobsEnqueued.WithLabelValues(string(jobType)).Inc()
	return job, nil
}

// Status returns the job with its progress, result and error.
func (q *Queue) Status(ctx context.Context, id string) (*domain.Job, error) {
	return q.repo.Get(ctx, id)
}

// List returns jobs filtered by status and type.
func (q *Queue) List(ctx context.Context, status domain.JobStatus, jobType domain.JobType, limit int) ([]*domain.Job, error) {
	return q.repo.List(ctx, status, jobType, limit)
}

// Cancel cancels a pending job immediately or asks a running one to stop
// at its next batch boundary.
func (q *Queue) Cancel(ctx context.Context, id string) (domain.JobStatus, error) {
	return q.repo.RequestCancel(ctx, id)
}
