// Package orphan holds webhook events that arrived before the delivery
// record they belong to, retries resolution on a backoff schedule, and
// promotes events that never match to a durable dead letter queue.
package orphan

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Repository is the persistence the queue needs.
type Repository interface {
	Enqueue(ctx context.Context, event *domain.OrphanedEvent, maxSize int) (evicted int, err error)
	DueBatch(ctx context.Context, limit int) ([]*domain.OrphanedEvent, error)
	Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error
	Remove(ctx context.Context, id string) error
	Depth(ctx context.Context) (int, error)
	// Stats counts events that are due now and events queued over an
	// hour ago.
	Stats(ctx context.Context) (ready, stale int, err error)
	PromoteToDeadLetter(ctx context.Context, event *domain.OrphanedEvent, reason string) error
	ListDeadLetters(ctx context.Context, status domain.DeadLetterStatus, limit int) ([]*domain.DeadLetterEvent, error)
	GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEvent, error)
	SetDeadLetterStatus(ctx context.Context, id string, status domain.DeadLetterStatus) error
	DeadLetterDepth(ctx context.Context) (int, error)
}

// Resolver attempts to apply an event to its delivery record. It returns
// true when the record was found and the event applied, false when the
// record is still missing. An error means the attempt itself failed and
// should not count against the retry budget.
type Resolver func(ctx context.Context, event *domain.NormalizedEvent) (resolved bool, err error)

// Queue is the bounded orphaned-event retry queue.
type Queue struct {
	repo        Repository
	resolve     Resolver
	maxSize     int
	batchSize   int
	maxAttempts int
	delays      []time.Duration
	interval    time.Duration

	// processing guards against overlapping cycles when one runs long.
	processing sync.Mutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates the queue. delays holds the per-attempt retry waits; the
// last entry repeats if attempts outnumber entries.
func New(repo Repository, resolve Resolver, maxSize, batchSize, maxAttempts int, delays []time.Duration) *Queue {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if maxAttempts <= 0 {
		maxAttempts = 6
	}
	if len(delays) == 0 {
		delays = []time.Duration{5 * time.Second, 15 * time.Second, time.Minute,
			5 * time.Minute, 15 * time.Minute, time.Hour}
	}
	return &Queue{
		repo:        repo,
		resolve:     resolve,
		maxSize:     maxSize,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
		delays:      delays,
		interval:    5 * time.Second,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// delayFor returns the wait before the given attempt number (1-based),
// with up to a second of jitter so retries spread out.
func (q *Queue) delayFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(q.delays) {
		idx = len(q.delays) - 1
	}
	return q.delays[idx] + time.Duration(rand.Int63n(int64(time.Second)))
}

// Enqueue parks an event whose delivery record was not found. The queue
// is bounded; at capacity the oldest entries are evicted and counted as
// drops.
func (q *Queue) Enqueue(ctx context.Context, event *domain.NormalizedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return reliability.Validationf("encode orphaned event: %v", err)
	}

	orphan := &domain.OrphanedEvent{
		EventData:   data,
		Attempts:    0,
		NextRetryAt: time.Now().Add(q.delayFor(1)),
	}
	evicted, err := q.repo.Enqueue(ctx, orphan, q.maxSize)
	if err != nil {
		return fmt.Errorf("enqueue orphaned event: %w", err)
	}

	metrics.OrphanEnqueued.Inc()
	if evicted > 0 {
		metrics.OrphanDropped.Add(float64(evicted))
		logger.Warn("orphaned event queue at capacity, oldest entries dropped",
			"evicted", evicted, "max_size", q.maxSize)
	}
	q.updateDepth(ctx)
	logger.Debug("orphaned event queued",
		"event_id", event.ID, "type", string(event.Type), "provider", event.Provider)
	return nil
}

// Start runs the retry loop until Stop.
func (q *Queue) Start(ctx context.Context) {
	go func() {
		defer close(q.doneCh)
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.ProcessCycle(ctx)
			}
		}
	}()
}

// Stop halts the retry loop and waits for the current cycle to finish.
func (q *Queue) Stop() {
	close(q.stopCh)
	<-q.doneCh
}

// ProcessCycle runs one resolution pass over due events. If a previous
// cycle is still running the pass is skipped rather than overlapped.
// Returns the number of events processed.
func (q *Queue) ProcessCycle(ctx context.Context) int {
	if !q.processing.TryLock() {
		metrics.OrphanCyclesSkipped.Inc()
		logger.Warn("previous orphan cycle still running, tick skipped",
			"tag", "PROCESSING_LAG", "batch_size", q.batchSize)
		return 0
	}
	defer q.processing.Unlock()

	due, err := q.repo.DueBatch(ctx, q.batchSize)
	if err != nil {
		logger.Error("orphan due batch failed", "error", err.Error())
		return 0
	}

	metrics.OrphanProcessing.Set(float64(len(due)))
	for _, orphan := range due {
		q.processOne(ctx, orphan)
	}
	metrics.OrphanProcessing.Set(0)
	q.updateDepth(ctx)
	return len(due)
}

func (q *Queue) processOne(ctx context.Context, orphan *domain.OrphanedEvent) {
	var event domain.NormalizedEvent
	if err := json.Unmarshal(orphan.EventData, &event); err != nil {
		// Undecodable payloads can never resolve; dead letter immediately.
		q.promote(ctx, orphan, fmt.Sprintf("undecodable event payload: %v", err))
		return
	}

	resolved, err := q.resolve(ctx, &event)
	if err != nil {
		// Infrastructure failure, not a miss. Retry on the same attempt
		// after the shortest delay without burning retry budget.
		metrics.OrphanResolutionFailures.Inc()
		logger.Warn("orphan resolution attempt errored",
			"orphan_id", orphan.ID, "attempt", orphan.Attempts, "error", err.Error())
		if err := q.repo.Reschedule(ctx, orphan.ID, orphan.Attempts, time.Now().Add(q.delayFor(1))); err != nil {
			logger.Error("orphan reschedule failed", "orphan_id", orphan.ID, "error", err.Error())
		}
		return
	}

	if resolved {
		if err := q.repo.Remove(ctx, orphan.ID); err != nil {
			logger.Error("resolved orphan removal failed", "orphan_id", orphan.ID, "error", err.Error())
			return
		}
		metrics.OrphanResolved.Inc()
		logger.Info("orphaned event resolved",
			"orphan_id", orphan.ID, "type", string(event.Type), "attempts", orphan.Attempts+1)
		return
	}

	metrics.OrphanResolutionFailures.Inc()
	attempts := orphan.Attempts + 1
	if attempts >= q.maxAttempts {
		q.promote(ctx, orphan, fmt.Sprintf("no matching delivery record after %d attempts", attempts))
		return
	}
	if err := q.repo.Reschedule(ctx, orphan.ID, attempts, time.Now().Add(q.delayFor(attempts+1))); err != nil {
		logger.Error("orphan reschedule failed", "orphan_id", orphan.ID, "error", err.Error())
	}
}

func (q *Queue) promote(ctx context.Context, orphan *domain.OrphanedEvent, reason string) {
	orphan.Attempts++
	if err := q.repo.PromoteToDeadLetter(ctx, orphan, reason); err != nil {
		logger.Error("dead letter promotion failed", "orphan_id", orphan.ID, "error", err.Error())
		return
	}
	metrics.OrphanDeadLettered.Inc()
	q.updateDLQDepth(ctx)
	logger.Warn("orphaned event dead lettered", "orphan_id", orphan.ID, "reason", reason)
}

// Drain repeatedly processes due events until nothing is due or the
// context expires. Used during shutdown to flush what can still resolve;
// the remaining depth is recorded so the drain outcome survives the
// process's final scrape.
func (q *Queue) Drain(ctx context.Context) {
	defer func() {
		if remaining, err := q.repo.Depth(context.Background()); err == nil {
			metrics.ShutdownDrainRemaining.Set(float64(remaining))
			logger.Info("orphan drain finished", "remaining", remaining)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Warn("orphan drain budget exhausted")
			return
		default:
		}
		if q.ProcessCycle(ctx) == 0 {
			return
		}
	}
}

// ListDeadLetters returns DLQ entries for operator inspection.
func (q *Queue) ListDeadLetters(ctx context.Context, status domain.DeadLetterStatus, limit int) ([]*domain.DeadLetterEvent, error) {
	return q.repo.ListDeadLetters(ctx, status, limit)
}

// ReplayDeadLetter re-runs resolution for one DLQ entry. On success the
// entry is marked replayed; a miss leaves it failed and returns an error
// so the operator sees the replay did not take.
func (q *Queue) ReplayDeadLetter(ctx context.Context, id string) error {
	entry, err := q.repo.GetDeadLetter(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != domain.DeadLetterFailed {
		return fmt.Errorf("%w: dead letter %s already %s", reliability.ErrConflict, id, entry.Status)
	}

	var event domain.NormalizedEvent
	if err := json.Unmarshal(entry.EventData, &event); err != nil {
		return reliability.Validationf("undecodable dead letter payload: %v", err)
	}

	resolved, err := q.resolve(ctx, &event)
	if err != nil {
		return fmt.Errorf("replay dead letter %s: %w", id, err)
	}
	if !resolved {
		// Downstream is still missing: the event goes back to the retry
		// queue with a fresh attempt budget rather than staying dead.
		if err := q.Enqueue(ctx, &event); err != nil {
			return fmt.Errorf("replay dead letter %s: %w", id, err)
		}
		logger.Info("dead letter requeued, delivery record still missing", "dead_letter_id", id)
	}

	if err := q.repo.SetDeadLetterStatus(ctx, id, domain.DeadLetterReplayed); err != nil {
		return err
	}
	q.updateDLQDepth(ctx)
	logger.Info("dead letter replayed", "dead_letter_id", id, "resolved", resolved)
	return nil
}

// DiscardDeadLetter marks a DLQ entry as permanently dropped.
func (q *Queue) DiscardDeadLetter(ctx context.Context, id string) error {
	if err := q.repo.SetDeadLetterStatus(ctx, id, domain.DeadLetterDiscarded); err != nil {
		return err
	}
	q.updateDLQDepth(ctx)
	logger.Info("dead letter discarded", "dead_letter_id", id)
	return nil
}

// Depth returns the current retry-queue size.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	return q.repo.Depth(ctx)
}

func (q *Queue) updateDepth(ctx context.Context) {
	if n, err := q.repo.Depth(ctx); err == nil {
		metrics.OrphanQueueDepth.Set(float64(n))
	}
	if ready, stale, err := q.repo.Stats(ctx); err == nil {
		metrics.OrphanReadyForRetry.Set(float64(ready))
		metrics.OrphanStale.Set(float64(stale))
	}
}

func (q *Queue) updateDLQDepth(ctx context.Context) {
	if n, err := q.repo.DeadLetterDepth(ctx); err == nil {
		metrics.DeadLetterDepth.Set(float64(n))
	}
}
