package orphan

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

// MemoryRepo is an in-process Repository for local development without
// Postgres. Contents are lost on restart.
type MemoryRepo struct {
	mu      sync.Mutex
	orphans map[string]*domain.OrphanedEvent
	dead    map[string]*domain.DeadLetterEvent
}

// NewMemoryRepo creates the in-memory store and logs a warning: it is
// not production safe.
func NewMemoryRepo() *MemoryRepo {
	logger.Warn("using in-memory orphaned event store, not production safe")
	return &MemoryRepo{
		orphans: make(map[string]*domain.OrphanedEvent),
		dead:    make(map[string]*domain.DeadLetterEvent),
	}
}

func (m *MemoryRepo) Enqueue(ctx context.Context, event *domain.OrphanedEvent, maxSize int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.QueuedAt.IsZero() {
		event.QueuedAt = time.Now()
	}

	evicted := 0
	if maxSize > 0 && len(m.orphans) >= maxSize {
		all := m.sortedLocked()
		for len(m.orphans) > maxSize-1 {
			oldest := all[0]
			all = all[1:]
			delete(m.orphans, oldest.ID)
			evicted++
		}
	}

	m.orphans[event.ID] = event
	return evicted, nil
}

// sortedLocked returns all orphans oldest first. Caller holds mu.
func (m *MemoryRepo) sortedLocked() []*domain.OrphanedEvent {
	all := make([]*domain.OrphanedEvent, 0, len(m.orphans))
	for _, e := range m.orphans {
		all = append(all, e)
	}
	sort.Slice(all, func(i, k int) bool { return all[i].QueuedAt.Before(all[k].QueuedAt) })
	return all
}

func (m *MemoryRepo) DueBatch(ctx context.Context, limit int) ([]*domain.OrphanedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var due []*domain.OrphanedEvent
	for _, e := range m.sortedLocked() {
		if !e.NextRetryAt.After(now) {
			due = append(due, e)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (m *MemoryRepo) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.orphans[id]; ok {
		e.Attempts = attempts
		e.NextRetryAt = nextRetryAt
	}
	return nil
}

func (m *MemoryRepo) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.orphans, id)
	return nil
}

func (m *MemoryRepo) Depth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orphans), nil
}

func (m *MemoryRepo) Stats(ctx context.Context) (ready, stale int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	cutoff := now.Add(-time.Hour)
	for _, e := range m.orphans {
		if !e.NextRetryAt.After(now) {
			ready++
		}
		if e.QueuedAt.Before(cutoff) {
			stale++
		}
	}
	return ready, stale, nil
}

func (m *MemoryRepo) PromoteToDeadLetter(ctx context.Context, event *domain.OrphanedEvent, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.dead[event.ID] = &domain.DeadLetterEvent{
		ID:               event.ID,
		EventData:        event.EventData,
		FailureReason:    reason,
		Attempts:         event.Attempts,
		Status:           domain.DeadLetterFailed,
		FirstAttemptedAt: event.QueuedAt,
		LastAttemptedAt:  now,
		QueuedAt:         event.QueuedAt,
	}
	delete(m.orphans, event.ID)
	return nil
}

func (m *MemoryRepo) ListDeadLetters(ctx context.Context, status domain.DeadLetterStatus, limit int) ([]*domain.DeadLetterEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.DeadLetterEvent
	for _, e := range m.dead {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].LastAttemptedAt.After(out[k].LastAttemptedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepo) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dead[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return e, nil
}

func (m *MemoryRepo) SetDeadLetterStatus(ctx context.Context, id string, status domain.DeadLetterStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.dead[id]
	if !ok || e.Status != domain.DeadLetterFailed {
		return postgres.ErrNotFound
	}
	e.Status = status
	return nil
}

func (m *MemoryRepo) DeadLetterDepth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.dead {
		if e.Status == domain.DeadLetterFailed {
			n++
		}
	}
	return n, nil
}
