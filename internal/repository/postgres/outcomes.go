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

// OutcomeRepo persists per-message outreach outcomes and applies
// engagement events to them. Counters only ever increase; first_opened_at
// is written once.
type OutcomeRepo struct{ db *sql.DB }

// NewOutcomeRepo creates a Postgres-backed outcome repository.
func NewOutcomeRepo(db *sql.DB) *OutcomeRepo { return &OutcomeRepo{db: db} }

// RecordSend stores the outcome row for a sent message and fills in the
// idempotency record the sender claimed before the provider call, in one
// transaction. The upsert also covers senders that wrote no prior claim.
func (r *OutcomeRepo) RecordSend(ctx context.Context, o *domain.OutreachOutcome, operation, key string, result json.RawMessage) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outreach_outcomes
				(id, enrolment_id, provider_message_id, template_used,
				 subject_line, persona, stage, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, o.ID, o.EnrolmentID, o.ProviderMessageID, o.TemplateUsed,
			o.SubjectLine, o.Persona, o.Stage)
		if err != nil {
			return fmt.Errorf("record outcome: %w", classifyPG(err))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO idempotency_records (operation, key, result, created_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (operation, key) DO UPDATE SET result = EXCLUDED.result
		`, operation, key, []byte(result))
		if err != nil {
			return fmt.Errorf("record idempotency: %w", classifyPG(err))
		}
		return nil
	})
}

// GetByProviderMessageID returns the outcome a provider event refers to.
func (r *OutcomeRepo) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.OutreachOutcome, error) {
	o := &domain.OutreachOutcome{}
	var sentiment sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, enrolment_id, provider_message_id, template_used, subject_line,
		       persona, stage, open_count, click_count, replied, meeting_booked,
		       bounced, unsubscribed, reply_sentiment, sent_at, first_opened_at, replied_at
		FROM outreach_outcomes WHERE provider_message_id = $1
	`, providerMessageID).Scan(&o.ID, &o.EnrolmentID, &o.ProviderMessageID,
		&o.TemplateUsed, &o.SubjectLine, &o.Persona, &o.Stage,
		&o.OpenCount, &o.ClickCount, &o.Replied, &o.MeetingBooked,
		&o.Bounced, &o.Unsubscribed, &sentiment, &o.SentAt,
		&o.FirstOpenedAt, &o.RepliedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outcome: %w", err)
	}
	o.ReplySentiment = domain.ReplySentiment(sentiment.String)
	return o, nil
}

// LatestForEnrolment returns the most recently sent outcome of an
// enrolment. Events that carry only a campaign reference are applied to
// the latest send.
func (r *OutcomeRepo) LatestForEnrolment(ctx context.Context, enrolmentID string) (*domain.OutreachOutcome, error) {
	o := &domain.OutreachOutcome{}
	var sentiment sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, enrolment_id, provider_message_id, template_used, subject_line,
		       persona, stage, open_count, click_count, replied, meeting_booked,
		       bounced, unsubscribed, reply_sentiment, sent_at, first_opened_at, replied_at
		FROM outreach_outcomes WHERE enrolment_id = $1
		ORDER BY sent_at DESC LIMIT 1
	`, enrolmentID).Scan(&o.ID, &o.EnrolmentID, &o.ProviderMessageID,
		&o.TemplateUsed, &o.SubjectLine, &o.Persona, &o.Stage,
		&o.OpenCount, &o.ClickCount, &o.Replied, &o.MeetingBooked,
		&o.Bounced, &o.Unsubscribed, &sentiment, &o.SentAt,
		&o.FirstOpenedAt, &o.RepliedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest outcome: %w", err)
	}
	o.ReplySentiment = domain.ReplySentiment(sentiment.String)
	return o, nil
}

// ApplyEvent folds one engagement event into the outcome's counters.
// Mutations are expressed relative to the stored row so concurrent events
// never lose increments. occurredAt is the provider's timestamp, kept so
// a late-processed event still records when the recipient actually acted.
func (r *OutcomeRepo) ApplyEvent(ctx context.Context, outcomeID string, eventType domain.EventType, occurredAt time.Time) error {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	var q string
	args := []any{outcomeID}
	switch eventType {
	case domain.EventOpened:
		q = `UPDATE outreach_outcomes
		     SET open_count = open_count + 1,
		         first_opened_at = COALESCE(first_opened_at, $2)
		     WHERE id = $1`
		args = append(args, occurredAt)
	case domain.EventClicked:
		q = `UPDATE outreach_outcomes SET click_count = click_count + 1 WHERE id = $1`
	case domain.EventReplied:
		q = `UPDATE outreach_outcomes
		     SET replied = true, replied_at = COALESCE(replied_at, $2)
		     WHERE id = $1`
		args = append(args, occurredAt)
	case domain.EventBounced:
		q = `UPDATE outreach_outcomes SET bounced = true WHERE id = $1`
	case domain.EventUnsubscribed, domain.EventComplained:
		q = `UPDATE outreach_outcomes SET unsubscribed = true WHERE id = $1`
	case domain.EventDelivered:
		// Delivery confirms the send; nothing to mutate.
		return nil
	default:
		return fmt.Errorf("unhandled event type %q", eventType)
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("apply %s event: %w", eventType, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReplySentiment records the classified tone of the reply.
func (r *OutcomeRepo) SetReplySentiment(ctx context.Context, outcomeID string, sentiment domain.ReplySentiment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outreach_outcomes SET reply_sentiment = $2 WHERE id = $1
	`, outcomeID, sentiment)
	if err != nil {
		return fmt.Errorf("set reply sentiment: %w", err)
	}
	return nil
}

// MarkMeetingBooked flags the outcome after a meeting request converts.
func (r *OutcomeRepo) MarkMeetingBooked(ctx context.Context, outcomeID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE outreach_outcomes SET meeting_booked = true WHERE id = $1
	`, outcomeID)
	if err != nil {
		return fmt.Errorf("mark meeting booked: %w", err)
	}
	return nil
}
