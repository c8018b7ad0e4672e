package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
	"github.com/ignite/outreach-engine/internal/secrets"
)

// signatureHeaders maps each webhook source to the header carrying its
// hex-encoded HMAC-SHA256 signature of the raw request body.
var signatureHeaders = map[string]string{
	"lemlist":       "X-Lemlist-Signature",
	"postmark":      "X-Postmark-Signature",
	"phantombuster": "X-Phantombuster-Signature",
	"heygen":        "X-Heygen-Signature",
}

// WebhookVerifier authenticates inbound webhook deliveries.
type WebhookVerifier struct {
	store secrets.Store
}

// NewWebhookVerifier creates a verifier resolving per-provider secrets
// through the secret store.
func NewWebhookVerifier(store secrets.Store) *WebhookVerifier {
	return &WebhookVerifier{store: store}
}

// SignatureHeader returns the signature header name for the provider, or
// an error for unknown providers.
func (v *WebhookVerifier) SignatureHeader(providerName string) (string, error) {
	header, ok := signatureHeaders[providerName]
	if !ok {
		return "", reliability.Validationf("unknown webhook provider %q", providerName)
	}
	return header, nil
}

// Verify checks the signature over the raw body. Comparison is constant
// time. Verification happens before any parsing of the payload.
func (v *WebhookVerifier) Verify(providerName string, body []byte, signature string) error {
	secret, err := v.store.Get(secrets.WebhookSecretName(providerName))
	if err != nil {
		return fmt.Errorf("webhook secret for %s: %w", providerName, err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return reliability.Validationf("webhook signature mismatch for %s", providerName)
	}
	return nil
}

// Sign computes the signature a provider would attach to body. Used by
// tests and the local webhook replay tool.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook normalizes a verified payload into provider-agnostic
// events. Unknown event types are skipped, not failed: providers add
// event types without notice.
func ParseWebhook(providerName string, body []byte) ([]domain.NormalizedEvent, error) {
	switch providerName {
	case "lemlist":
		return parseLemlistWebhook(body)
	case "postmark":
		return parsePostmarkWebhook(body)
	case "phantombuster":
		return parsePhantomBusterWebhook(body)
	default:
		return nil, reliability.Validationf("no webhook parser for provider %q", providerName)
	}
}

var lemlistEventTypes = map[string]domain.EventType{
	"emailsSent":         domain.EventDelivered,
	"emailsOpened":       domain.EventOpened,
	"emailsClicked":      domain.EventClicked,
	"emailsBounced":      domain.EventBounced,
	"emailsReplied":      domain.EventReplied,
	"emailsUnsubscribed": domain.EventUnsubscribed,
	"emailsComplained":   domain.EventComplained,
}

type lemlistWebhook struct {
	Type       string    `json:"type"`
	MessageID  string    `json:"messageId"`
	CampaignID string    `json:"campaignId"`
	LeadEmail  string    `json:"leadEmail"`
	Text       string    `json:"text"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
}

func parseLemlistWebhook(body []byte) ([]domain.NormalizedEvent, error) {
	var payload lemlistWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, reliability.Validationf("malformed lemlist webhook: %v", err)
	}

	eventType, ok := lemlistEventTypes[payload.Type]
	if !ok {
		return nil, nil
	}

	occurred := payload.Date
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	event := domain.NormalizedEvent{
		ID:                uuid.NewString(),
		Type:              eventType,
		Provider:          "lemlist",
		ProviderMessageID: payload.MessageID,
		CampaignID:        payload.CampaignID,
		Email:             domain.NormalizeEmail(payload.LeadEmail),
		OccurredAt:        occurred,
		Raw:               json.RawMessage(body),
	}
	if eventType == domain.EventReplied {
		event.ReplyBody = payload.Text
		event.ReplySubject = payload.Subject
	}
	return []domain.NormalizedEvent{event}, nil
}

var postmarkEventTypes = map[string]domain.EventType{
	"Delivery":           domain.EventDelivered,
	"Open":               domain.EventOpened,
	"Click":              domain.EventClicked,
	"Bounce":             domain.EventBounced,
	"SpamComplaint":      domain.EventComplained,
	"SubscriptionChange": domain.EventUnsubscribed,
}

type postmarkWebhook struct {
	RecordType  string    `json:"RecordType"`
	MessageID   string    `json:"MessageID"`
	Recipient   string    `json:"Recipient"`
	Email       string    `json:"Email"`
	Tag         string    `json:"Tag"`
	ReceivedAt  time.Time `json:"ReceivedAt"`
	DeliveredAt time.Time `json:"DeliveredAt"`
	BouncedAt   time.Time `json:"BouncedAt"`
}

func parsePostmarkWebhook(body []byte) ([]domain.NormalizedEvent, error) {
	var payload postmarkWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, reliability.Validationf("malformed postmark webhook: %v", err)
	}

	eventType, ok := postmarkEventTypes[payload.RecordType]
	if !ok {
		return nil, nil
	}

	email := payload.Recipient
	if email == "" {
		email = payload.Email
	}

	occurred := payload.ReceivedAt
	if !payload.DeliveredAt.IsZero() {
		occurred = payload.DeliveredAt
	}
	if !payload.BouncedAt.IsZero() {
		occurred = payload.BouncedAt
	}
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	return []domain.NormalizedEvent{{
		ID:                uuid.NewString(),
		Type:              eventType,
		Provider:          "postmark",
		ProviderMessageID: payload.MessageID,
		CampaignID:        payload.Tag,
		Email:             domain.NormalizeEmail(email),
		OccurredAt:        occurred,
		Raw:               json.RawMessage(body),
	}}, nil
}

var phantomBusterEventTypes = map[string]domain.EventType{
	"message.sent":        domain.EventDelivered,
	"message.replied":     domain.EventReplied,
	"connection.accepted": domain.EventOpened,
}

type phantomBusterWebhook struct {
	Event       string    `json:"event"`
	ContainerID string    `json:"containerId"`
	ProfileURL  string    `json:"profileUrl"`
	LeadEmail   string    `json:"leadEmail"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func parsePhantomBusterWebhook(body []byte) ([]domain.NormalizedEvent, error) {
	var payload phantomBusterWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, reliability.Validationf("malformed phantombuster webhook: %v", err)
	}

	eventType, ok := phantomBusterEventTypes[payload.Event]
	if !ok {
		return nil, nil
	}

	occurred := payload.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	event := domain.NormalizedEvent{
		ID:                uuid.NewString(),
		Type:              eventType,
		Provider:          "phantombuster",
		ProviderMessageID: payload.ContainerID,
		Email:             domain.NormalizeEmail(payload.LeadEmail),
		OccurredAt:        occurred,
		Raw:               json.RawMessage(body),
	}
	if eventType == domain.EventReplied {
		event.ReplyBody = payload.Message
	}
	return []domain.NormalizedEvent{event}, nil
}
