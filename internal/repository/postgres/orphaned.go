package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// OrphanRepo stores webhook events that arrived before their delivery
// record, plus the dead letter store they fall into after exhausting
// retries.
type OrphanRepo struct{ db *sql.DB }

// NewOrphanRepo creates a Postgres-backed orphaned-event store.
func NewOrphanRepo(db *sql.DB) *OrphanRepo { return &OrphanRepo{db: db} }

// Enqueue parks an event for retry. When the queue is at maxSize the
// oldest entries are evicted first; the number evicted is returned so the
// caller can count drops.
func (r *OrphanRepo) Enqueue(ctx context.Context, event *domain.OrphanedEvent, maxSize int) (evicted int, err error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	err = inTx(ctx, r.db, func(tx *sql.Tx) error {
		if maxSize > 0 {
			// Keep the newest maxSize-1 rows; the oldest go first.
			res, err := tx.ExecContext(ctx, `
				DELETE FROM orphaned_events
				WHERE id IN (
					SELECT id FROM orphaned_events
					ORDER BY queued_at DESC
					OFFSET $1
				)
			`, maxSize-1)
			if err != nil {
				return fmt.Errorf("evict oldest orphans: %w", err)
			}
			n, _ := res.RowsAffected()
			evicted = int(n)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO orphaned_events (id, event_data, attempts, next_retry_at, queued_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, event.ID, []byte(event.EventData), event.Attempts, event.NextRetryAt)
		if err != nil {
			return fmt.Errorf("enqueue orphan: %w", err)
		}
		return nil
	})
	return evicted, err
}

// DueBatch returns up to limit events whose retry time has arrived,
// oldest first.
func (r *OrphanRepo) DueBatch(ctx context.Context, limit int) ([]*domain.OrphanedEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_data, attempts, next_retry_at, queued_at
		FROM orphaned_events
		WHERE next_retry_at <= NOW()
		ORDER BY queued_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("due orphans: %w", err)
	}
	defer rows.Close()

	var out []*domain.OrphanedEvent
	for rows.Next() {
		e := &domain.OrphanedEvent{}
		var data []byte
		if err := rows.Scan(&e.ID, &data, &e.Attempts, &e.NextRetryAt, &e.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		e.EventData = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reschedule bumps the attempt count and sets the next retry time.
func (r *OrphanRepo) Reschedule(ctx context.Context, id string, attempts int, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orphaned_events SET attempts = $2, next_retry_at = $3 WHERE id = $1
	`, id, attempts, nextRetryAt)
	if err != nil {
		return fmt.Errorf("reschedule orphan: %w", err)
	}
	return nil
}

// Remove deletes a resolved event from the queue.
func (r *OrphanRepo) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM orphaned_events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove orphan: %w", err)
	}
	return nil
}

// Depth returns the current queue size.
func (r *OrphanRepo) Depth(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orphaned_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("orphan depth: %w", err)
	}
	return n, nil
}

// Stats counts events that are due for retry now and events queued more
// than an hour ago.
func (r *OrphanRepo) Stats(ctx context.Context) (ready, stale int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE next_retry_at <= NOW()),
		       COUNT(*) FILTER (WHERE queued_at < NOW() - INTERVAL '1 hour')
		FROM orphaned_events
	`).Scan(&ready, &stale)
	if err != nil {
		return 0, 0, fmt.Errorf("orphan stats: %w", err)
	}
	return ready, stale, nil
}

// PromoteToDeadLetter moves an exhausted event into the dead letter
// store and removes it from the retry queue in one transaction.
func (r *OrphanRepo) PromoteToDeadLetter(ctx context.Context, event *domain.OrphanedEvent, reason string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dead_letter_events
				(id, event_data, failure_reason, attempts, status,
				 first_attempted_at, last_attempted_at, queued_at)
			VALUES ($1, $2, $3, $4, 'failed', $5, NOW(), $5)
		`, event.ID, []byte(event.EventData), reason, event.Attempts, event.QueuedAt)
		if err != nil {
			return fmt.Errorf("insert dead letter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM orphaned_events WHERE id = $1`, event.ID); err != nil {
			return fmt.Errorf("remove promoted orphan: %w", err)
		}
		return nil
	})
}

// ListDeadLetters returns DLQ entries, newest first, optionally filtered
// by status.
func (r *OrphanRepo) ListDeadLetters(ctx context.Context, status domain.DeadLetterStatus, limit int) ([]*domain.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, event_data, failure_reason, attempts, status,
		       first_attempted_at, last_attempted_at, queued_at
		FROM dead_letter_events`
	args := []any{}
	if status != "" {
		q += ` WHERE status = $1`
		args = append(args, status)
	}
	q += fmt.Sprintf(` ORDER BY last_attempted_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*domain.DeadLetterEvent
	for rows.Next() {
		e := &domain.DeadLetterEvent{}
		var data []byte
		if err := rows.Scan(&e.ID, &data, &e.FailureReason, &e.Attempts, &e.Status,
			&e.FirstAttemptedAt, &e.LastAttemptedAt, &e.QueuedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		e.EventData = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDeadLetter returns one DLQ entry.
func (r *OrphanRepo) GetDeadLetter(ctx context.Context, id string) (*domain.DeadLetterEvent, error) {
	e := &domain.DeadLetterEvent{}
	var data []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_data, failure_reason, attempts, status,
		       first_attempted_at, last_attempted_at, queued_at
		FROM dead_letter_events WHERE id = $1
	`, id).Scan(&e.ID, &data, &e.FailureReason, &e.Attempts, &e.Status,
		&e.FirstAttemptedAt, &e.LastAttemptedAt, &e.QueuedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	e.EventData = json.RawMessage(data)
	return e, nil
}

// SetDeadLetterStatus records the operator's disposition.
func (r *OrphanRepo) SetDeadLetterStatus(ctx context.Context, id string, status domain.DeadLetterStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dead_letter_events SET status = $2 WHERE id = $1 AND status = 'failed'
	`, id, status)
	if err != nil {
		return fmt.Errorf("set dead letter status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeadLetterDepth returns the number of entries still awaiting an
// operator decision.
func (r *OrphanRepo) DeadLetterDepth(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letter_events WHERE status = 'failed'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("dead letter depth: %w", err)
	}
	return n, nil
}
