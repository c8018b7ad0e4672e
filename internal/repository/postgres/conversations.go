package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
)

// ConversationRepo persists reply threads and their messages. The
// per-thread automated response count lives on the thread row and is the
// durable cap counter.
type ConversationRepo struct{ db *sql.DB }

// NewConversationRepo creates a Postgres-backed conversation store.
func NewConversationRepo(db *sql.DB) *ConversationRepo { return &ConversationRepo{db: db} }

// GetOrCreateThread returns the thread for (lead, campaign), creating it
// on first contact.
func (r *ConversationRepo) GetOrCreateThread(ctx context.Context, leadEmail, campaignID string, channel domain.Channel) (*domain.ConversationThread, error) {
	email := domain.NormalizeEmail(leadEmail)

	t := &domain.ConversationThread{}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO conversation_threads
			(id, lead_email, campaign_id, channel, ai_responses_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
		ON CONFLICT (lead_email, campaign_id) DO UPDATE SET updated_at = NOW()
		RETURNING id, lead_email, campaign_id, channel, ai_responses_count, created_at, updated_at
	`, uuid.NewString(), email, campaignID, channel).Scan(
		&t.ID, &t.LeadEmail, &t.CampaignID, &t.Channel,
		&t.AIResponsesCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create thread: %w", err)
	}
	return t, nil
}

// AppendMessage adds one message to the thread.
func (r *ConversationRepo) AppendMessage(ctx context.Context, m *domain.ConversationMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_messages
			(id, thread_id, direction, subject, content, sentiment, detected_intent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, m.ID, m.ThreadID, m.Direction, m.Subject, m.Content, m.Sentiment, m.DetectedIntent)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// History returns the most recent messages in the thread, oldest first,
// capped at limit.
func (r *ConversationRepo) History(ctx context.Context, threadID string, limit int) ([]*domain.ConversationMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, thread_id, direction, subject, content, sentiment, detected_intent, created_at
		FROM (
			SELECT * FROM conversation_messages
			WHERE thread_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("thread history: %w", err)
	}
	defer rows.Close()

	var out []*domain.ConversationMessage
	for rows.Next() {
		m := &domain.ConversationMessage{}
		var sentiment, intent sql.NullString
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Direction, &m.Subject,
			&m.Content, &sentiment, &intent, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Sentiment = domain.ReplySentiment(sentiment.String)
		m.DetectedIntent = domain.Intent(intent.String)
		out = append(out, m)
	}
	return out, rows.Err()
}

// IncrementAIResponses bumps the thread's automated response counter only
// while it is under the cap. Returns the new count, or ErrNotFound when
// the cap was already reached (the guard is in the WHERE clause so two
// concurrent responders cannot both pass).
func (r *ConversationRepo) IncrementAIResponses(ctx context.Context, threadID string, cap int) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		UPDATE conversation_threads
		SET ai_responses_count = ai_responses_count + 1, updated_at = NOW()
		WHERE id = $1 AND ai_responses_count < $2
		RETURNING ai_responses_count
	`, threadID, cap).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment ai responses: %w", err)
	}
	return count, nil
}

// EnqueueManualReview parks a thread for a human when the automated
// pipeline cannot (or must not) answer: generation failure, validation
// failure, or a configured human-review gate.
func (r *ConversationRepo) EnqueueManualReview(ctx context.Context, threadID, reason, draft, replyBody string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO manual_review_queue (id, thread_id, reason, draft, reply_body, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.NewString(), threadID, reason, draft, replyBody)
	if err != nil {
		return fmt.Errorf("enqueue manual review: %w", err)
	}
	return nil
}
