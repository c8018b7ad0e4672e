package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// CampaignRepo persists campaign templates and launched instances.
// Stages and the schedule policy are stored as JSONB on the template:
// templates are immutable after creation, so there is nothing to join on.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

// CreateTemplate stores an immutable campaign definition.
func (r *CampaignRepo) CreateTemplate(ctx context.Context, t *domain.CampaignTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	stages, err := json.Marshal(t.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}
	schedule, err := json.Marshal(t.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaign_templates (id, name, channel, stages, schedule, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, t.ID, t.Name, t.Channel, stages, schedule)
	if err != nil {
		return fmt.Errorf("create template: %w", classifyPG(err))
	}
	return nil
}

// GetTemplate returns one template with its stages.
func (r *CampaignRepo) GetTemplate(ctx context.Context, id string) (*domain.CampaignTemplate, error) {
	t := &domain.CampaignTemplate{}
	var stages, schedule []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, channel, stages, schedule, created_at
		FROM campaign_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.Channel, &stages, &schedule, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if err := json.Unmarshal(stages, &t.Stages); err != nil {
		return nil, fmt.Errorf("unmarshal stages: %w", err)
	}
	if err := json.Unmarshal(schedule, &t.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return t, nil
}

// CreateInstance launches a template as a draft instance.
func (r *CampaignRepo) CreateInstance(ctx context.Context, inst *domain.CampaignInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.State == "" {
		inst.State = domain.InstanceDraft
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_instances (id, template_id, name, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
	`, inst.ID, inst.TemplateID, inst.Name, inst.State)
	if err != nil {
		return fmt.Errorf("create instance: %w", classifyPG(err))
	}
	return nil
}

// GetInstance returns one campaign instance.
func (r *CampaignRepo) GetInstance(ctx context.Context, id string) (*domain.CampaignInstance, error) {
	inst := &domain.CampaignInstance{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, template_id, name, state, started_at, completed_at, created_at, updated_at
		FROM campaign_instances WHERE id = $1
	`, id).Scan(&inst.ID, &inst.TemplateID, &inst.Name, &inst.State,
		&inst.StartedAt, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// ListInstances returns instances, optionally filtered by state.
func (r *CampaignRepo) ListInstances(ctx context.Context, state domain.InstanceState, limit int) ([]*domain.CampaignInstance, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, template_id, name, state, started_at, completed_at, created_at, updated_at
		FROM campaign_instances`
	args := []any{}
	if state != "" {
		q += ` WHERE state = $1`
		args = append(args, state)
	}
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*domain.CampaignInstance
	for rows.Next() {
		inst := &domain.CampaignInstance{}
		if err := rows.Scan(&inst.ID, &inst.TemplateID, &inst.Name, &inst.State,
			&inst.StartedAt, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// TransitionInstance moves the instance through its state machine. The
// row is locked so a concurrent transition cannot skip a state, and an
// illegal transition fails with a conflict.
func (r *CampaignRepo) TransitionInstance(ctx context.Context, id string, target domain.InstanceState) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		inst := &domain.CampaignInstance{ID: id}
		err := tx.QueryRowContext(ctx,
			`SELECT state FROM campaign_instances WHERE id = $1 FOR UPDATE`, id).Scan(&inst.State)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock instance: %w", err)
		}

		if !inst.CanTransitionTo(target) {
			return fmt.Errorf("%w: campaign %s cannot move %s -> %s",
				reliability.ErrConflict, id, inst.State, target)
		}

		q := `UPDATE campaign_instances SET state = $2, updated_at = NOW()`
		switch target {
		case domain.InstanceActive:
			q += `, started_at = COALESCE(started_at, NOW())`
		case domain.InstanceCompleted, domain.InstanceCancelled:
			q += `, completed_at = NOW()`
		}
		q += ` WHERE id = $1`

		if _, err := tx.ExecContext(ctx, q, id, target); err != nil {
			return fmt.Errorf("transition instance: %w", err)
		}
		return nil
	})
}
