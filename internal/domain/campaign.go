package domain

import "time"

// Channel enumerates the outreach channels a campaign can use.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelMulti    Channel = "multi"
)

// CampaignTemplate is an immutable campaign definition: an ordered sequence
// of message stages plus a schedule policy.
type CampaignTemplate struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Channel   Channel         `json:"channel" db:"channel"`
	Stages    []MessageStage  `json:"stages" db:"stages"`
	Schedule  SchedulePolicy  `json:"schedule" db:"schedule"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// MessageStage is one step in a campaign sequence. Subject and Body may
// contain liquid tokens ({{first_name}}, {{company}}) rendered per contact
// at send time.
type MessageStage struct {
	Ordinal  int     `json:"ordinal"`
	Channel  Channel `json:"channel"`
	Subject  string  `json:"subject,omitempty"`
	Body     string  `json:"body"`
	Persona  string  `json:"persona,omitempty"`
	WaitDays int     `json:"wait_days"`
}

// SchedulePolicy controls stage pacing for a campaign.
type SchedulePolicy struct {
	SendWindowStartHour int      `json:"send_window_start_hour"`
	SendWindowEndHour   int      `json:"send_window_end_hour"`
	Weekdays            []string `json:"weekdays,omitempty"`
}

// InstanceState enumerates the lifecycle of a launched campaign.
type InstanceState string

const (
	InstanceDraft     InstanceState = "draft"
	InstanceActive    InstanceState = "active"
	InstancePaused    InstanceState = "paused"
	InstanceCompleted InstanceState = "completed"
	InstanceCancelled InstanceState = "cancelled"
)

// CampaignInstance is a launched template. It owns a set of enrolments.
type CampaignInstance struct {
	ID          string        `json:"id" db:"id"`
	TemplateID  string        `json:"template_id" db:"template_id"`
	Name        string        `json:"name" db:"name"`
	State       InstanceState `json:"state" db:"state"`
	StartedAt   *time.Time    `json:"started_at" db:"started_at"`
	CompletedAt *time.Time    `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the instance is in a final state.
func (c *CampaignInstance) IsTerminal() bool {
	return c.State == InstanceCompleted || c.State == InstanceCancelled
}

// CanTransitionTo reports whether the state machine permits moving from the
// instance's current state to the target state.
func (c *CampaignInstance) CanTransitionTo(target InstanceState) bool {
	switch c.State {
	case InstanceDraft:
		return target == InstanceActive || target == InstanceCancelled
	case InstanceActive:
		return target == InstancePaused || target == InstanceCompleted || target == InstanceCancelled
	case InstancePaused:
		return target == InstanceActive || target == InstanceCancelled
	default:
		return false
	}
}

// EnrolmentState enumerates the lifecycle of a single contact within a
// campaign instance.
type EnrolmentState string

const (
	EnrolmentPending      EnrolmentState = "pending"
	EnrolmentActive       EnrolmentState = "active"
	EnrolmentReplied      EnrolmentState = "replied"
	EnrolmentUnsubscribed EnrolmentState = "unsubscribed"
	EnrolmentBounced      EnrolmentState = "bounced"
	EnrolmentCompleted    EnrolmentState = "completed"
	EnrolmentFailed       EnrolmentState = "failed"
)

// Enrolment associates a contact with a campaign instance.
// (instance_id, contact_id) is unique: a contact is enrolled at most once
// per instance, enforced by a database unique index.
type Enrolment struct {
	ID           string         `json:"id" db:"id"`
	InstanceID   string         `json:"instance_id" db:"instance_id"`
	ContactID    string         `json:"contact_id" db:"contact_id"`
	Email        string         `json:"email" db:"email"`
	State        EnrolmentState `json:"state" db:"state"`
	CurrentStage int            `json:"current_stage" db:"current_stage"`
	NextStageAt  *time.Time     `json:"next_stage_at" db:"next_stage_at"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true when no further sends should happen for the
// enrolment.
func (e *Enrolment) IsTerminal() bool {
	switch e.State {
	case EnrolmentReplied, EnrolmentUnsubscribed, EnrolmentBounced, EnrolmentCompleted, EnrolmentFailed:
		return true
	}
	return false
}

// ReplySentiment classifies the tone of an inbound reply.
type ReplySentiment string

const (
	SentimentPositive  ReplySentiment = "positive"
	SentimentNeutral   ReplySentiment = "neutral"
	SentimentNegative  ReplySentiment = "negative"
	SentimentObjection ReplySentiment = "objection"
)

// OutreachOutcome records the fate of one sent message, linked to an
// enrolment. Counters are monotonic; last-writer-wins per counter is safe.
type OutreachOutcome struct {
	ID                string         `json:"id" db:"id"`
	EnrolmentID       string         `json:"enrolment_id" db:"enrolment_id"`
	ProviderMessageID string         `json:"provider_message_id" db:"provider_message_id"`
	TemplateUsed      string         `json:"template_used" db:"template_used"`
	SubjectLine       string         `json:"subject_line" db:"subject_line"`
	Persona           string         `json:"persona" db:"persona"`
	Stage             int            `json:"stage" db:"stage"`
	OpenCount         int            `json:"open_count" db:"open_count"`
	ClickCount        int            `json:"click_count" db:"click_count"`
	Replied           bool           `json:"replied" db:"replied"`
	MeetingBooked     bool           `json:"meeting_booked" db:"meeting_booked"`
	Bounced           bool           `json:"bounced" db:"bounced"`
	Unsubscribed      bool           `json:"unsubscribed" db:"unsubscribed"`
	ReplySentiment    ReplySentiment `json:"reply_sentiment,omitempty" db:"reply_sentiment"`
	SentAt            time.Time      `json:"sent_at" db:"sent_at"`
	FirstOpenedAt     *time.Time     `json:"first_opened_at" db:"first_opened_at"`
	RepliedAt         *time.Time     `json:"replied_at" db:"replied_at"`
}
