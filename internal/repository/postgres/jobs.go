package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// JobRepo is the durable job queue. Claiming uses FOR UPDATE SKIP LOCKED
// so concurrent workers never double-process a job, and a worker lease id
// plus claimed_at timestamp lets the recovery loop return jobs from dead
// workers to pending.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job queue.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

// Enqueue inserts a pending job. maxSize of 0 means unbounded; otherwise
// the insert is rejected when the pending backlog is full.
func (r *JobRepo) Enqueue(ctx context.Context, job *domain.Job, maxSize int) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = domain.JobPending
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if maxSize > 0 {
			var pending int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&pending); err != nil {
				return fmt.Errorf("count pending jobs: %w", err)
			}
			if pending >= maxSize {
				return fmt.Errorf("job queue full at %d entries", pending)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, type, priority, status, parameters, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		`, job.ID, job.Type, job.Priority, job.Status, []byte(job.Parameters))
		if err != nil {
			return fmt.Errorf("enqueue job: %w", classifyPG(err))
		}
		return nil
	})
}

// Claim atomically moves up to limit runnable jobs to processing under
// the given worker lease. Higher priority first, then FIFO.
func (r *JobRepo) Claim(ctx context.Context, leaseID string, limit int) ([]*domain.Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			UPDATE jobs
			SET status = 'processing', lease_id = $1, claimed_at = NOW(),
			    attempts = attempts + 1, updated_at = NOW()
			WHERE id IN (
				SELECT id FROM jobs
				WHERE status = 'pending'
				ORDER BY priority DESC, created_at ASC
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING id, type, priority, parameters, attempts, cancel_requested, created_at
		)
		SELECT id, type, priority, parameters, attempts, cancel_requested, created_at
		FROM claimed
	`, leaseID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j := &domain.Job{Status: domain.JobProcessing, LeaseID: leaseID}
		var params []byte
		if err := rows.Scan(&j.ID, &j.Type, &j.Priority, &params,
			&j.Attempts, &j.CancelAsked, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		j.Parameters = json.RawMessage(params)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Get returns one job with its progress and result.
func (r *JobRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	j := &domain.Job{}
	var params, result []byte
	var jobErr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, type, priority, status, parameters, progress, attempts,
		       COALESCE(lease_id, ''), result, error, cancel_requested,
		       created_at, claimed_at, completed_at
		FROM jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.Type, &j.Priority, &j.Status, &params, &j.Progress,
		&j.Attempts, &j.LeaseID, &result, &jobErr, &j.CancelAsked,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.Parameters = json.RawMessage(params)
	j.Result = json.RawMessage(result)
	j.Error = jobErr.String
	return j, nil
}

// List returns jobs filtered by status and type, newest first.
func (r *JobRepo) List(ctx context.Context, status domain.JobStatus, jobType domain.JobType, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, type, priority, status, progress, attempts, error,
		       cancel_requested, created_at, claimed_at, completed_at
		FROM jobs WHERE 1=1`
	args := []any{}
	idx := 1
	if status != "" {
		q += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, status)
		idx++
	}
	if jobType != "" {
		q += fmt.Sprintf(" AND type = $%d", idx)
		args = append(args, jobType)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j := &domain.Job{}
		var jobErr sql.NullString
		if err := rows.Scan(&j.ID, &j.Type, &j.Priority, &j.Status, &j.Progress,
			&j.Attempts, &jobErr, &j.CancelAsked,
			&j.CreatedAt, &j.StartedAt, &j.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Error = jobErr.String
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateProgress records 0-100 completion for a running job.
func (r *JobRepo) UpdateProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET progress = $2, updated_at = NOW() WHERE id = $1`, id, progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// Complete marks the job finished with its result payload.
func (r *JobRepo) Complete(ctx context.Context, id string, result json.RawMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', progress = 100, result = $2,
		       lease_id = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, []byte(result))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail marks the job failed with the error message.
func (r *JobRepo) Fail(ctx context.Context, id string, cause string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', error = $2, lease_id = NULL,
		       completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id, cause)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RequestCancel cancels a pending job immediately, or flags a processing
// job so the worker stops at its next batch boundary. Returns the state
// the job was in.
func (r *JobRepo) RequestCancel(ctx context.Context, id string) (domain.JobStatus, error) {
	var status domain.JobStatus
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&status)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		switch status {
		case domain.JobPending:
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
				WHERE id = $1
			`, id)
		case domain.JobProcessing:
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET cancel_requested = true, updated_at = NOW() WHERE id = $1
			`, id)
		default:
			// Terminal states are left alone.
		}
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		return nil
	})
	return status, err
}

// IsCancelRequested reads the cancel flag. Workers poll this at batch
// boundaries.
func (r *JobRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	err := r.db.QueryRowContext(ctx,
		`SELECT cancel_requested FROM jobs WHERE id = $1`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag, nil
}

// MarkCancelled finishes a job the worker stopped in response to the
// cancel flag.
func (r *JobRepo) MarkCancelled(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', lease_id = NULL,
		       completed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return nil
}

// ReclaimStale returns processing jobs whose lease is older than the
// threshold to pending so another worker can pick them up. Returns the
// number of reclaimed jobs.
func (r *JobRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', lease_id = NULL, claimed_at = NULL, updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < NOW() - $1 * INTERVAL '1 second'
	`, int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ReleasePending returns this worker's claimed jobs to pending, used
// during graceful shutdown for jobs that never started.
func (r *JobRepo) ReleasePending(ctx context.Context, leaseID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', lease_id = NULL, claimed_at = NULL,
		    attempts = attempts - 1, updated_at = NOW()
		WHERE lease_id = $1 AND status = 'processing' AND id = ANY($2)
	`, leaseID, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("release pending jobs: %w", err)
	}
	return nil
}
