// Package provider abstracts the external outreach services (email,
// LinkedIn automation, CRM, enrichment, video) behind capability
// interfaces. Every adapter routes its calls through a reliability.Caller
// so breaker, rate limit, timeout and retry behavior is uniform.
package provider

import (
	"context"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Batch limits enforced before a batch send reaches the wire.
const (
	MaxBatchRecipients = 500
	MaxBatchBytes      = 50 << 20
)

// SendRequest is a channel-agnostic outbound message.
type SendRequest struct {
	To             string            `json:"to"`
	FromEmail      string            `json:"from_email"`
	FromName       string            `json:"from_name"`
	Subject        string            `json:"subject"`
	HTMLBody       string            `json:"html_body"`
	TextBody       string            `json:"text_body"`
	CampaignRef    string            `json:"campaign_ref,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

// SendResult identifies an accepted message at the provider.
type SendResult struct {
	ProviderMessageID string    `json:"provider_message_id"`
	Provider          string    `json:"provider"`
	AcceptedAt        time.Time `json:"accepted_at"`
}

// EmailProvider sends outreach email.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
	// SendBatch submits up to MaxBatchRecipients messages in one call.
	// Results are positional with the input.
	SendBatch(ctx context.Context, reqs []*SendRequest) ([]*SendResult, error)
}

// LinkedInAction enumerates the automation actions a LinkedIn provider
// can perform.
type LinkedInAction string

const (
	ActionConnect LinkedInAction = "connection_request"
	ActionMessage LinkedInAction = "message"
)

// LinkedInRequest describes one LinkedIn automation action.
type LinkedInRequest struct {
	ProfileURL     string         `json:"profile_url"`
	Action         LinkedInAction `json:"action"`
	Message        string         `json:"message,omitempty"`
	IdempotencyKey string         `json:"-"`
}

// LinkedInProvider performs LinkedIn outreach actions under a daily
// action ceiling.
type LinkedInProvider interface {
	Name() string
	Perform(ctx context.Context, req *LinkedInRequest) (*SendResult, error)
	// RemainingDailyActions reports how many actions the daily ceiling
	// still permits today.
	RemainingDailyActions() int
}

// CRMActivity is an engagement record pushed to the CRM timeline.
type CRMActivity struct {
	ContactEmail string    `json:"contact_email"`
	Type         string    `json:"type"`
	Subject      string    `json:"subject,omitempty"`
	Body         string    `json:"body,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// CRMProvider syncs contacts and activity into the CRM.
type CRMProvider interface {
	Name() string
	// UpsertContact creates or updates the contact, returning the remote id.
	UpsertContact(ctx context.Context, contact *domain.Contact) (string, error)
	FindContact(ctx context.Context, email string) (string, error)
	LogActivity(ctx context.Context, activity *CRMActivity) error
}

// ContactEnrichment is the result of a person-level enrichment lookup.
type ContactEnrichment struct {
	Title       string         `json:"title,omitempty"`
	Phone       string         `json:"phone,omitempty"`
	Location    string         `json:"location,omitempty"`
	LinkedInURL string         `json:"linkedin_url,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Confidence  float64        `json:"confidence"`
}

// EnrichmentProvider looks up person and firmographic data.
type EnrichmentProvider interface {
	Name() string
	EnrichContact(ctx context.Context, email string) (*ContactEnrichment, error)
	EnrichCompany(ctx context.Context, companyDomain string) (*domain.Company, error)
}

// VideoRequest asks the video provider to render a personalized clip.
type VideoRequest struct {
	Script    string `json:"script"`
	AvatarID  string `json:"avatar_id,omitempty"`
	LeadEmail string `json:"lead_email"`
}

// VideoResult describes a rendered (or rendering) video.
type VideoResult struct {
	VideoID string `json:"video_id"`
	URL     string `json:"url,omitempty"`
	Ready   bool   `json:"ready"`
}

// VideoProvider generates personalized outreach videos.
type VideoProvider interface {
	Name() string
	GenerateVideo(ctx context.Context, req *VideoRequest) (*VideoResult, error)
	GetVideo(ctx context.Context, videoID string) (*VideoResult, error)
}
