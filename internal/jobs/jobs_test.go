package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// fakeRepo is an in-memory Repository for queue and pool tests.
type fakeRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{jobs: make(map[string]*domain.Job)}
}

func (f *fakeRepo) Enqueue(ctx context.Context, job *domain.Job, maxSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if maxSize > 0 {
		pending := 0
		for _, j := range f.jobs {
			if j.Status == domain.JobPending {
				pending++
			}
		}
		if pending >= maxSize {
			return errors.New("job queue full")
		}
	}
	f.seq++
	job.ID = uuid.NewString()
	job.Status = domain.JobPending
	job.CreatedAt = time.Now().Add(time.Duration(f.seq) * time.Millisecond)
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeRepo) Claim(ctx context.Context, leaseID string, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*domain.Job
	for _, j := range f.jobs {
		if j.Status == domain.JobPending {
			pending = append(pending, j)
		}
	}
	sort.Slice(pending, func(i, k int) bool {
		if pending[i].Priority != pending[k].Priority {
			return pending[i].Priority > pending[k].Priority
		}
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	for _, j := range pending {
		j.Status = domain.JobProcessing
		j.LeaseID = leaseID
		j.Attempts++
	}
	return pending, nil
}

func (f *fakeRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return j, nil
}

func (f *fakeRepo) List(ctx context.Context, status domain.JobStatus, jobType domain.JobType, limit int) ([]*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Job
	for _, j := range f.jobs {
		if status != "" && j.Status != status {
			continue
		}
		if jobType != "" && j.Type != jobType {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeRepo) UpdateProgress(ctx context.Context, id string, progress float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Progress = progress
	}
	return nil
}

func (f *fakeRepo) Complete(ctx context.Context, id string, result json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = domain.JobCompleted
		j.Result = result
	}
	return nil
}

func (f *fakeRepo) Fail(ctx context.Context, id string, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = domain.JobFailed
		j.Error = cause
	}
	return nil
}

func (f *fakeRepo) RequestCancel(ctx context.Context, id string) (domain.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return "", errors.New("not found")
	}
	switch j.Status {
	case domain.JobPending:
		j.Status = domain.JobCancelled
		return domain.JobPending, nil
	case domain.JobProcessing:
		j.CancelAsked = true
		return domain.JobProcessing, nil
	}
	return j.Status, nil
}

func (f *fakeRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		return j.CancelAsked, nil
	}
	return false, errors.New("not found")
}

func (f *fakeRepo) MarkCancelled(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[id]; ok {
		j.Status = domain.JobCancelled
	}
	return nil
}

func (f *fakeRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (f *fakeRepo) ReleasePending(ctx context.Context, leaseID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if j, ok := f.jobs[id]; ok && j.LeaseID == leaseID && j.Status == domain.JobProcessing {
			j.Status = domain.JobPending
			j.LeaseID = ""
			j.Attempts--
		}
	}
	return nil
}

func TestSubmitValidation(t *testing.T) {
	q := NewQueue(newFakeRepo(), 0, nil)

	if _, err := q.Submit(context.Background(), "mystery", domain.PriorityNormal, nil); !errors.Is(err, reliability.ErrValidation) {
		t.Fatalf("unknown type should be a validation error, got %v", err)
	}
	if _, err := q.Submit(context.Background(), domain.JobImport, domain.PriorityNormal, json.RawMessage(`{broken`)); !errors.Is(err, reliability.ErrValidation) {
		t.Fatalf("bad params should be a validation error, got %v", err)
	}

	job, err := q.Submit(context.Background(), domain.JobImport, domain.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.ID == "" || job.Status != domain.JobPending {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestSubmitRejectedDuringShutdown(t *testing.T) {
	q := NewQueue(newFakeRepo(), 0, func() bool { return true })
	_, err := q.Submit(context.Background(), domain.JobImport, domain.PriorityNormal, nil)
	if !errors.Is(err, reliability.ErrShutdownInProgress) {
		t.Fatalf("expected shutdown rejection, got %v", err)
	}
}

func TestClaimOrderPriorityThenFIFO(t *testing.T) {
	repo := newFakeRepo()
	q := NewQueue(repo, 0, nil)
	ctx := context.Background()

	low, _ := q.Submit(ctx, domain.JobEnrich, domain.PriorityLow, nil)
	first, _ := q.Submit(ctx, domain.JobImport, domain.PriorityHigh, nil)
	second, _ := q.Submit(ctx, domain.JobImport, domain.PriorityHigh, nil)

	claimed, err := repo.Claim(ctx, "lease-1", 2)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(claimed))
	}
	if claimed[0].ID != first.ID || claimed[1].ID != second.ID {
		t.Fatalf("expected high-priority FIFO order, got %s then %s", claimed[0].ID, claimed[1].ID)
	}
	if low.Status != domain.JobPending {
		t.Fatal("low priority job should still be pending")
	}
}

func TestPoolExecutesAndCompletes(t *testing.T) {
	repo := newFakeRepo()
	q := NewQueue(repo, 0, nil)
	pool := NewPool(repo, 2, 5)
	pool.interval = 10 * time.Millisecond

	pool.Register(domain.JobImport, HandlerFunc(func(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error) {
		progress.Set(ctx, 50)
		return json.RawMessage(`{"imported":7}`), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	job, _ := q.Submit(ctx, domain.JobImport, domain.PriorityNormal, nil)

	deadline := time.After(2 * time.Second)
	for {
		got, _ := q.Status(ctx, job.ID)
		if got.Status == domain.JobCompleted {
			if string(got.Result) != `{"imported":7}` {
				t.Fatalf("unexpected result %s", got.Result)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPoolCooperativeCancel(t *testing.T) {
	repo := newFakeRepo()
	q := NewQueue(repo, 0, nil)
	pool := NewPool(repo, 1, 5)
	pool.interval = 10 * time.Millisecond

	batchDone := make(chan struct{}, 10)
	pool.Register(domain.JobEnrich, HandlerFunc(func(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error) {
		for {
			// One batch of work, then the boundary check.
			batchDone <- struct{}{}
			time.Sleep(5 * time.Millisecond)
			if progress.Cancelled(ctx) {
				return nil, ErrCancelled
			}
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	job, _ := q.Submit(ctx, domain.JobEnrich, domain.PriorityNormal, nil)

	<-batchDone // job is running
	if status, err := q.Cancel(ctx, job.ID); err != nil || status != domain.JobProcessing {
		t.Fatalf("cancel: status=%s err=%v", status, err)
	}

	deadline := time.After(2 * time.Second)
	for {
		got, _ := q.Status(ctx, job.ID)
		if got.Status == domain.JobCancelled {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never cancelled, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	pool.Stop(stopCtx)
}

func TestPoolFailsJobOnHandlerError(t *testing.T) {
	repo := newFakeRepo()
	q := NewQueue(repo, 0, nil)
	pool := NewPool(repo, 1, 5)
	pool.interval = 10 * time.Millisecond

	pool.Register(domain.JobCRMSync, HandlerFunc(func(ctx context.Context, job *domain.Job, progress *Progress) (json.RawMessage, error) {
		return nil, errors.New("crm unreachable")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	job, _ := q.Submit(ctx, domain.JobCRMSync, domain.PriorityNormal, nil)

	deadline := time.After(2 * time.Second)
	for {
		got, _ := q.Status(ctx, job.ID)
		if got.Status == domain.JobFailed {
			if got.Error != "crm unreachable" {
				t.Fatalf("unexpected error %q", got.Error)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never failed, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	pool.Stop(stopCtx)
}
