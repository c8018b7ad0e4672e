package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates normalized webhook event types. The downstream
// pipeline uses only these regardless of which provider produced the event.
type EventType string

const (
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventReplied      EventType = "replied"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
)

// NormalizedEvent is the provider-agnostic form of a webhook event.
type NormalizedEvent struct {
	ID                string          `json:"id"`
	Type              EventType       `json:"type"`
	Provider          string          `json:"provider"`
	ProviderMessageID string          `json:"provider_message_id"`
	CampaignID        string          `json:"campaign_id,omitempty"`
	Email             string          `json:"email"`
	ReplyBody         string          `json:"reply_body,omitempty"`
	ReplySubject      string          `json:"reply_subject,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// OrphanedEvent is a webhook event whose target enrolment was not yet
// visible to the resolver. It lives in a bounded FIFO retry queue until
// resolved or promoted to the dead-letter queue.
type OrphanedEvent struct {
	ID          string          `json:"id" db:"id"`
	EventData   json.RawMessage `json:"event_data" db:"event_data"`
	Attempts    int             `json:"attempts" db:"attempts"`
	NextRetryAt time.Time       `json:"next_retry_at" db:"next_retry_at"`
	QueuedAt    time.Time       `json:"queued_at" db:"queued_at"`
}

// DeadLetterStatus enumerates operator dispositions for a DLQ entry.
type DeadLetterStatus string

const (
	DeadLetterFailed    DeadLetterStatus = "failed"
	DeadLetterReplayed  DeadLetterStatus = "replayed"
	DeadLetterDiscarded DeadLetterStatus = "discarded"
)

// DeadLetterEvent is an orphaned event that exhausted its retry budget,
// durably stored for operator inspection, replay, or discard.
type DeadLetterEvent struct {
	ID               string           `json:"id" db:"id"`
	EventData        json.RawMessage  `json:"event_data" db:"event_data"`
	FailureReason    string           `json:"failure_reason" db:"failure_reason"`
	Attempts         int              `json:"attempts" db:"attempts"`
	Status           DeadLetterStatus `json:"status" db:"status"`
	FirstAttemptedAt time.Time        `json:"first_attempted_at" db:"first_attempted_at"`
	LastAttemptedAt  time.Time        `json:"last_attempted_at" db:"last_attempted_at"`
	QueuedAt         time.Time        `json:"queued_at" db:"queued_at"`
}

// IdempotencyRecord maps (operation, key) to a recorded result so external
// side effects are safely retryable.
type IdempotencyRecord struct {
	Operation string          `json:"operation" db:"operation"`
	Key       string          `json:"key" db:"key"`
	Result    json.RawMessage `json:"result" db:"result"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
