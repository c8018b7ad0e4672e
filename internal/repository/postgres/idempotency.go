package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ignite/outreach-engine/internal/domain"
)

// IdempotencyRepo maps (operation, key) to a recorded result so external
// side effects can be retried safely. Callers Claim the key before the
// provider call so exactly one worker performs the side effect; the
// result is filled in afterwards in the same transaction as the
// operation's own records (see OutcomeRepo.RecordSend).
type IdempotencyRepo struct{ db *sql.DB }

// NewIdempotencyRepo creates a Postgres-backed idempotency store.
func NewIdempotencyRepo(db *sql.DB) *IdempotencyRepo { return &IdempotencyRepo{db: db} }

// Get returns the recorded result for the operation key, or ErrNotFound
// when the operation has not happened yet.
func (r *IdempotencyRepo) Get(ctx context.Context, operation, key string) (*domain.IdempotencyRecord, error) {
	rec := &domain.IdempotencyRecord{Operation: operation, Key: key}
	var result []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT result, created_at FROM idempotency_records
		WHERE operation = $1 AND key = $2
	`, operation, key).Scan(&result, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	rec.Result = json.RawMessage(result)
	return rec, nil
}

// Claim inserts a result-less record for the key, reporting whether this
// caller won it. The primary key makes the insert race-safe: of any
// number of concurrent claimants exactly one gets claimed=true, and only
// that one may perform the side effect.
func (r *IdempotencyRepo) Claim(ctx context.Context, operation, key string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (operation, key, result, created_at)
		VALUES ($1, $2, NULL, NOW())
		ON CONFLICT (operation, key) DO NOTHING
	`, operation, key)
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return n == 1, nil
}

// Release drops an unfulfilled claim so the operation can be retried
// after its side effect failed. Claims with a recorded result are never
// released.
func (r *IdempotencyRepo) Release(ctx context.Context, operation, key string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_records
		WHERE operation = $1 AND key = $2 AND result IS NULL
	`, operation, key)
	if err != nil {
		return fmt.Errorf("release idempotency claim: %w", err)
	}
	return nil
}

// Put records a completed operation standalone, for operations with no
// companion rows to commit alongside.
func (r *IdempotencyRepo) Put(ctx context.Context, operation, key string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (operation, key, result, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (operation, key) DO NOTHING
	`, operation, key, []byte(result))
	if err != nil {
		return fmt.Errorf("put idempotency record: %w", err)
	}
	return nil
}
