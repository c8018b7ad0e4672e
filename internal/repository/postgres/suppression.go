package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
)

// SuppressionRepo is the do-not-contact list. Bounces, complaints and
// unsubscribes land here, and every send checks it first.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

// IsSuppressed reports whether the address must not be contacted.
func (r *SuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM suppressions WHERE email = $1 AND active = true)`,
		domain.NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check suppression: %w", err)
	}
	return exists, nil
}

// Suppress adds the address to the list. reason is the event that caused
// it (bounced, complained, unsubscribed) and source the provider that
// reported it.
func (r *SuppressionRepo) Suppress(ctx context.Context, email, reason, source string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO suppressions (id, email, reason, source, active, created_at)
		VALUES ($1, $2, $3, $4, true, NOW())
		ON CONFLICT (email) DO UPDATE SET reason = $3, source = $4, active = true, updated_at = NOW()
	`, uuid.NewString(), domain.NormalizeEmail(email), reason, source)
	if err != nil {
		return fmt.Errorf("suppress: %w", err)
	}
	return nil
}

// Remove deactivates a suppression after an operator confirms the
// address may be contacted again.
func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE suppressions SET active = false, updated_at = NOW() WHERE email = $1 AND active = true`,
		domain.NormalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("remove suppression: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of active suppressions.
func (r *SuppressionRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressions WHERE active = true`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count suppressions: %w", err)
	}
	return n, nil
}

// FilterSuppressed returns the subset of emails that are suppressed, for
// batch pre-checks during enrolment.
func (r *SuppressionRepo) FilterSuppressed(ctx context.Context, emails []string) (map[string]bool, error) {
	normalized := make([]string, len(emails))
	for i, e := range emails {
		normalized[i] = domain.NormalizeEmail(e)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT email FROM suppressions WHERE active = true AND email = ANY($1)
	`, pq.Array(normalized))
	if err != nil {
		return nil, fmt.Errorf("filter suppressed: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		out[email] = true
	}
	return out, rows.Err()
}
