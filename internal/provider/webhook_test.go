package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
)

type fakeSecrets map[string]string

func (f fakeSecrets) Get(name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", assert.AnError
	}
	return v, nil
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	store := fakeSecrets{"WEBHOOK_SECRET_LEMLIST": "s3cret"}
	v := NewWebhookVerifier(store)

	body := []byte(`{"type":"emailsOpened"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, v.Verify("lemlist", body, sig))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	store := fakeSecrets{"WEBHOOK_SECRET_LEMLIST": "s3cret"}
	v := NewWebhookVerifier(store)

	body := []byte(`{"type":"emailsOpened"}`)
	sig := Sign("s3cret", body)

	err := v.Verify("lemlist", []byte(`{"type":"emailsBounced"}`), sig)
	assert.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	store := fakeSecrets{"WEBHOOK_SECRET_LEMLIST": "s3cret"}
	v := NewWebhookVerifier(store)

	body := []byte(`{}`)
	assert.Error(t, v.Verify("lemlist", body, Sign("other", body)))
}

func TestSignatureHeaderUnknownProvider(t *testing.T) {
	v := NewWebhookVerifier(fakeSecrets{})
	_, err := v.SignatureHeader("mystery")
	assert.Error(t, err)
}

func TestParseLemlistReply(t *testing.T) {
	body := []byte(`{
		"type": "emailsReplied",
		"messageId": "msg-123",
		"campaignId": "cmp-9",
		"leadEmail": "Jane.Doe@Example.com",
		"text": "sounds interesting, tell me more",
		"subject": "Re: quick question",
		"date": "2026-08-20T14:00:00Z"
	}`)

	events, err := ParseWebhook("lemlist", body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, domain.EventReplied, e.Type)
	assert.Equal(t, "lemlist", e.Provider)
	assert.Equal(t, "msg-123", e.ProviderMessageID)
	assert.Equal(t, "cmp-9", e.CampaignID)
	assert.Equal(t, "jane.doe@example.com", e.Email, "lead email must be normalized")
	assert.Equal(t, "sounds interesting, tell me more", e.ReplyBody)
	assert.Equal(t, "Re: quick question", e.ReplySubject)
	assert.Equal(t, time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC), e.OccurredAt)
	assert.NotEmpty(t, e.ID)
}

func TestParseLemlistUnknownTypeSkipped(t *testing.T) {
	events, err := ParseWebhook("lemlist", []byte(`{"type":"somethingNew"}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParsePostmarkBounce(t *testing.T) {
	body := []byte(`{
		"RecordType": "Bounce",
		"MessageID": "pm-77",
		"Email": "bad@nowhere.test",
		"Tag": "cmp-2",
		"BouncedAt": "2026-08-21T09:30:00Z"
	}`)

	events, err := ParseWebhook("postmark", body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, domain.EventBounced, e.Type)
	assert.Equal(t, "postmark", e.Provider)
	assert.Equal(t, "pm-77", e.ProviderMessageID)
	assert.Equal(t, "cmp-2", e.CampaignID)
	assert.Equal(t, "bad@nowhere.test", e.Email)
	assert.Equal(t, time.Date(2026, 8, 21, 9, 30, 0, 0, time.UTC), e.OccurredAt)
}

func TestParsePhantomBusterReply(t *testing.T) {
	body := []byte(`{
		"event": "message.replied",
		"containerId": "pb-55",
		"leadEmail": "lead@corp.test",
		"message": "let's connect next week"
	}`)

	events, err := ParseWebhook("phantombuster", body)
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, domain.EventReplied, e.Type)
	assert.Equal(t, "pb-55", e.ProviderMessageID)
	assert.Equal(t, "let's connect next week", e.ReplyBody)
	assert.False(t, e.OccurredAt.IsZero())
}

func TestParseMalformedPayload(t *testing.T) {
	_, err := ParseWebhook("lemlist", []byte(`not json`))
	assert.Error(t, err)
}

func TestParseUnknownProvider(t *testing.T) {
	_, err := ParseWebhook("mystery", []byte(`{}`))
	assert.Error(t, err)
}
