package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// EnrolmentRepo persists contact enrolments in campaign instances.
// A unique index on (instance_id, contact_id) makes enrolment idempotent
// at the storage layer.
type EnrolmentRepo struct{ db *sql.DB }

// NewEnrolmentRepo creates a Postgres-backed enrolment repository.
func NewEnrolmentRepo(db *sql.DB) *EnrolmentRepo { return &EnrolmentRepo{db: db} }

const enrolmentColumns = `
	id, instance_id, contact_id, email, state, current_stage,
	next_stage_at, created_at, updated_at`

func scanEnrolment(row interface{ Scan(...any) error }) (*domain.Enrolment, error) {
	e := &domain.Enrolment{}
	err := row.Scan(&e.ID, &e.InstanceID, &e.ContactID, &e.Email, &e.State,
		&e.CurrentStage, &e.NextStageAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindOrCreate enrols the contact, or returns the existing enrolment when
// the contact is already in the instance. created reports which happened.
func (r *EnrolmentRepo) FindOrCreate(ctx context.Context, e *domain.Enrolment) (enrolment *domain.Enrolment, created bool, err error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.State == "" {
		e.State = domain.EnrolmentPending
	}

	// ON CONFLICT DO NOTHING returns no row for the duplicate case, so a
	// second query fetches the existing enrolment.
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO enrolments
			(id, instance_id, contact_id, email, state, current_stage,
			 next_stage_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (instance_id, contact_id) DO NOTHING
		RETURNING `+enrolmentColumns,
		e.ID, e.InstanceID, e.ContactID, domain.NormalizeEmail(e.Email),
		e.State, e.CurrentStage, e.NextStageAt)

	enrolment, err = scanEnrolment(row)
	if err == nil {
		return enrolment, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("create enrolment: %w", err)
	}

	row = r.db.QueryRowContext(ctx, `
		SELECT `+enrolmentColumns+`
		FROM enrolments WHERE instance_id = $1 AND contact_id = $2
	`, e.InstanceID, e.ContactID)
	enrolment, err = scanEnrolment(row)
	if err != nil {
		return nil, false, fmt.Errorf("find existing enrolment: %w", err)
	}
	return enrolment, false, nil
}

// Get returns one enrolment.
func (r *EnrolmentRepo) Get(ctx context.Context, id string) (*domain.Enrolment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+enrolmentColumns+` FROM enrolments WHERE id = $1`, id)
	e, err := scanEnrolment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrolment: %w", err)
	}
	return e, nil
}

// FindByProviderMessageID resolves the enrolment a provider event belongs
// to, through the outcome that recorded the send.
func (r *EnrolmentRepo) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Enrolment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT e.id, e.instance_id, e.contact_id, e.email, e.state,
		       e.current_stage, e.next_stage_at, e.created_at, e.updated_at
		FROM enrolments e
		JOIN outreach_outcomes o ON o.enrolment_id = e.id
		WHERE o.provider_message_id = $1
	`, providerMessageID)
	e, err := scanEnrolment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find enrolment by message: %w", err)
	}
	return e, nil
}

// FindByInstanceAndEmail resolves the enrolment for a webhook event that
// carries a campaign reference but no provider message id.
func (r *EnrolmentRepo) FindByInstanceAndEmail(ctx context.Context, instanceID, email string) (*domain.Enrolment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+enrolmentColumns+` FROM enrolments
		WHERE instance_id = $1 AND email = LOWER($2)
	`, instanceID, email)
	e, err := scanEnrolment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find enrolment by instance and email: %w", err)
	}
	return e, nil
}

// SetState moves the enrolment to a new state. Terminal states clear the
// next stage time so the tick never picks them up again.
func (r *EnrolmentRepo) SetState(ctx context.Context, id string, state domain.EnrolmentState) error {
	e := domain.Enrolment{State: state}
	q := `UPDATE enrolments SET state = $2, updated_at = NOW()`
	if e.IsTerminal() {
		q += `, next_stage_at = NULL`
	}
	q += ` WHERE id = $1`

	res, err := r.db.ExecContext(ctx, q, id, state)
	if err != nil {
		return fmt.Errorf("set enrolment state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceStage moves the enrolment to the next stage and schedules it.
// nextStageAt nil means the sequence is finished and the enrolment
// completes.
func (r *EnrolmentRepo) AdvanceStage(ctx context.Context, id string, stage int, nextStageAt *time.Time) error {
	var err error
	if nextStageAt == nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE enrolments
			SET current_stage = $2, state = 'completed', next_stage_at = NULL, updated_at = NOW()
			WHERE id = $1
		`, id, stage)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE enrolments
			SET current_stage = $2, state = 'active', next_stage_at = $3, updated_at = NOW()
			WHERE id = $1
		`, id, stage, nextStageAt)
	}
	if err != nil {
		return fmt.Errorf("advance enrolment: %w", err)
	}
	return nil
}

// DueForStage claims enrolments whose next stage is due within active
// instances, locking them against concurrent ticks.
func (r *EnrolmentRepo) DueForStage(ctx context.Context, limit int) ([]*domain.Enrolment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT e.id, e.instance_id, e.contact_id, e.email, e.state,
		       e.current_stage, e.next_stage_at, e.created_at, e.updated_at
		FROM enrolments e
		JOIN campaign_instances i ON i.id = e.instance_id
		WHERE e.state IN ('pending', 'active')
		  AND e.next_stage_at <= NOW()
		  AND i.state = 'active'
		ORDER BY e.next_stage_at ASC
		LIMIT $1
		FOR UPDATE OF e SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("due enrolments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Enrolment
	for rows.Next() {
		e, err := scanEnrolment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due enrolment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByState returns enrolment counts per state for one instance.
func (r *EnrolmentRepo) CountByState(ctx context.Context, instanceID string) (map[domain.EnrolmentState]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM enrolments WHERE instance_id = $1 GROUP BY state
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("count enrolments: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.EnrolmentState]int)
	for rows.Next() {
		var state domain.EnrolmentState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan enrolment count: %w", err)
		}
		out[state] = n
	}
	return out, rows.Err()
}
