package orphan

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// dueNow makes every scheduled retry already due, jitter included.
var dueNow = []time.Duration{-2 * time.Second}

func sampleEvent(id string) *domain.NormalizedEvent {
	return &domain.NormalizedEvent{
		ID:                id,
		Type:              domain.EventOpened,
		Provider:          "lemlist",
		ProviderMessageID: "msg-" + id,
		Email:             "lead@example.com",
		OccurredAt:        time.Now(),
	}
}

func TestResolvedEventLeavesQueue(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return true, nil
	}, 100, 50, 6, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))

	processed := q.ProcessCycle(ctx)
	assert.Equal(t, 1, processed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestExhaustedEventIsDeadLettered(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, nil
	}, 100, 50, 3, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))

	for i := 0; i < 3; i++ {
		q.ProcessCycle(ctx)
	}

	depth, _ := q.Depth(ctx)
	assert.Zero(t, depth, "retry queue should be empty")

	dead, err := q.ListDeadLetters(ctx, domain.DeadLetterFailed, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 3, dead[0].Attempts)
	assert.Contains(t, dead[0].FailureReason, "after 3 attempts")
}

func TestResolverErrorDoesNotBurnRetryBudget(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, errors.New("database unavailable")
	}, 100, 50, 2, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))

	for i := 0; i < 5; i++ {
		q.ProcessCycle(ctx)
	}

	depth, _ := q.Depth(ctx)
	assert.Equal(t, 1, depth, "event must stay queued through infrastructure failures")

	dead, _ := q.ListDeadLetters(ctx, "", 10)
	assert.Empty(t, dead)
}

func TestBoundedQueueEvictsOldest(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, nil
	}, 3, 50, 6, dueNow)

	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, q.Enqueue(ctx, sampleEvent(id)))
		time.Sleep(2 * time.Millisecond)
	}

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	due, err := repo.DueBatch(ctx, 10)
	require.NoError(t, err)
	for _, orphan := range due {
		assert.NotContains(t, string(orphan.EventData), `"id":"e1"`, "oldest entry should have been evicted")
	}
}

func TestReplayDeadLetter(t *testing.T) {
	repo := NewMemoryRepo()
	matched := false
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return matched, nil
	}, 100, 50, 1, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))
	q.ProcessCycle(ctx)

	dead, err := q.ListDeadLetters(ctx, domain.DeadLetterFailed, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	id := dead[0].ID

	// Record still missing: the event goes back to the retry queue with
	// a fresh budget and the entry is dispositioned as replayed.
	require.NoError(t, q.ReplayDeadLetter(ctx, id))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	entry, err := repo.GetDeadLetter(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DeadLetterReplayed, entry.Status)

	matched = true
	q.ProcessCycle(ctx)
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "requeued event resolves once the record appears")

	// Dispositioned entries cannot be replayed again.
	err = q.ReplayDeadLetter(ctx, id)
	assert.ErrorIs(t, err, reliability.ErrConflict)
}

func TestDiscardDeadLetter(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, nil
	}, 100, 50, 1, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))
	q.ProcessCycle(ctx)

	dead, _ := q.ListDeadLetters(ctx, domain.DeadLetterFailed, 10)
	require.Len(t, dead, 1)

	require.NoError(t, q.DiscardDeadLetter(ctx, dead[0].ID))

	n, err := repo.DeadLetterDepth(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainFlushesDueEvents(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return true, nil
	}, 100, 2, 6, dueNow)

	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		require.NoError(t, q.Enqueue(ctx, sampleEvent(id)))
	}

	drainCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	q.Drain(drainCtx)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func orphanData(t *testing.T, id string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(sampleEvent(id))
	require.NoError(t, err)
	return data
}

func TestCycleUpdatesQueueGauges(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, nil
	}, 100, 50, 6, []time.Duration{time.Hour})

	ctx := context.Background()
	// One stale entry due now, one fresh entry scheduled for later.
	_, err := repo.Enqueue(ctx, &domain.OrphanedEvent{
		EventData:   orphanData(t, "e1"),
		NextRetryAt: time.Now().Add(-time.Second),
		QueuedAt:    time.Now().Add(-2 * time.Hour),
	}, 100)
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, &domain.OrphanedEvent{
		EventData:   orphanData(t, "e2"),
		NextRetryAt: time.Now().Add(time.Hour),
	}, 100)
	require.NoError(t, err)

	ready, stale, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ready)
	assert.Equal(t, 1, stale)

	failuresBefore := testutil.ToFloat64(metrics.OrphanResolutionFailures)
	processed := q.ProcessCycle(ctx)
	assert.Equal(t, 1, processed)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.OrphanQueueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.OrphanStale),
		"e1 has waited over an hour for its delivery record")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.OrphanReadyForRetry),
		"the processed event was rescheduled an hour out")
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.OrphanProcessing))
	assert.Equal(t, failuresBefore+1, testutil.ToFloat64(metrics.OrphanResolutionFailures),
		"a miss counts as a failed resolution attempt")
}

func TestOverlappingCycleSkipsAndCounts(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return true, nil
	}, 100, 50, 6, dueNow)

	skippedBefore := testutil.ToFloat64(metrics.OrphanCyclesSkipped)
	q.processing.Lock()
	assert.Zero(t, q.ProcessCycle(context.Background()))
	q.processing.Unlock()

	assert.Equal(t, skippedBefore+1, testutil.ToFloat64(metrics.OrphanCyclesSkipped))
}

func TestDrainRecordsRemainingDepth(t *testing.T) {
	repo := NewMemoryRepo()
	q := New(repo, func(ctx context.Context, e *domain.NormalizedEvent) (bool, error) {
		return false, nil
	}, 100, 50, 6, dueNow)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, sampleEvent("e1")))

	// Nothing resolves, so the drain runs until its budget expires.
	drainCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	q.Drain(drainCtx)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ShutdownDrainRemaining))
}
