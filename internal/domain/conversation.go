package domain

import "time"

// Intent classifies what an inbound reply is asking for.
type Intent string

const (
	IntentOutOfOffice    Intent = "out_of_office"
	IntentNotInterested  Intent = "not_interested"
	IntentMeetingRequest Intent = "meeting_request"
	IntentObjection      Intent = "objection"
	IntentQuestion       Intent = "question"
	IntentInterested     Intent = "interested"
	IntentFollowUp       Intent = "follow_up"
	IntentUnknown        Intent = "unknown"
)

// MessageDirection distinguishes inbound replies from outbound sends.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// ConversationThread tracks the message history between one lead and one
// campaign. AIResponsesCount is the authoritative, persisted per-thread cap
// counter: it must never exceed the configured maximum.
type ConversationThread struct {
	ID               string    `json:"id" db:"id"`
	LeadEmail        string    `json:"lead_email" db:"lead_email"`
	CampaignID       string    `json:"campaign_id" db:"campaign_id"`
	Channel          Channel   `json:"channel" db:"channel"`
	AIResponsesCount int       `json:"ai_responses_count" db:"ai_responses_count"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// ConversationMessage is one message within a thread.
type ConversationMessage struct {
	ID             string           `json:"id" db:"id"`
	ThreadID       string           `json:"thread_id" db:"thread_id"`
	Direction      MessageDirection `json:"direction" db:"direction"`
	Subject        string           `json:"subject,omitempty" db:"subject"`
	Content        string           `json:"content" db:"content"`
	Sentiment      ReplySentiment   `json:"sentiment,omitempty" db:"sentiment"`
	DetectedIntent Intent           `json:"detected_intent,omitempty" db:"detected_intent"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
}
