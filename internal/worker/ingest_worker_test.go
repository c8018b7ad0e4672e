package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/responder"
)

type appliedEvent struct {
	outcomeID string
	eventType domain.EventType
}

type fakeOutcomeEvents struct {
	byMsgID    map[string]*domain.OutreachOutcome
	byEnrol    map[string]*domain.OutreachOutcome
	applied    []appliedEvent
	sentiments map[string]domain.ReplySentiment
	applyErr   error
}

func newFakeOutcomeEvents() *fakeOutcomeEvents {
	return &fakeOutcomeEvents{
		byMsgID:    map[string]*domain.OutreachOutcome{},
		byEnrol:    map[string]*domain.OutreachOutcome{},
		sentiments: map[string]domain.ReplySentiment{},
	}
}

func (f *fakeOutcomeEvents) GetByProviderMessageID(ctx context.Context, id string) (*domain.OutreachOutcome, error) {
	if o, ok := f.byMsgID[id]; ok {
		return o, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeOutcomeEvents) LatestForEnrolment(ctx context.Context, enrolmentID string) (*domain.OutreachOutcome, error) {
	if o, ok := f.byEnrol[enrolmentID]; ok {
		return o, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeOutcomeEvents) ApplyEvent(ctx context.Context, outcomeID string, eventType domain.EventType, occurredAt time.Time) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, appliedEvent{outcomeID, eventType})
	return nil
}

func (f *fakeOutcomeEvents) SetReplySentiment(ctx context.Context, outcomeID string, s domain.ReplySentiment) error {
	f.sentiments[outcomeID] = s
	return nil
}

type fakeEnrolments struct {
	byID       map[string]*domain.Enrolment
	byInstMail map[string]*domain.Enrolment
	states     map[string]domain.EnrolmentState
}

func newFakeEnrolments(es ...*domain.Enrolment) *fakeEnrolments {
	f := &fakeEnrolments{
		byID:       map[string]*domain.Enrolment{},
		byInstMail: map[string]*domain.Enrolment{},
		states:     map[string]domain.EnrolmentState{},
	}
	for _, e := range es {
		f.byID[e.ID] = e
		f.byInstMail[e.InstanceID+"|"+e.Email] = e
	}
	return f
}

func (f *fakeEnrolments) Get(ctx context.Context, id string) (*domain.Enrolment, error) {
	if e, ok := f.byID[id]; ok {
		return e, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeEnrolments) FindByInstanceAndEmail(ctx context.Context, instanceID, email string) (*domain.Enrolment, error) {
	if e, ok := f.byInstMail[instanceID+"|"+email]; ok {
		return e, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeEnrolments) SetState(ctx context.Context, id string, state domain.EnrolmentState) error {
	f.states[id] = state
	return nil
}

type suppressedEntry struct{ email, reason, source string }

type fakeSuppressor struct{ entries []suppressedEntry }

func (f *fakeSuppressor) Suppress(ctx context.Context, email, reason, source string) error {
	f.entries = append(f.entries, suppressedEntry{email, reason, source})
	return nil
}

type fakeReplyHandler struct {
	inbounds []responder.Inbound
	err      error
}

func (f *fakeReplyHandler) HandleReply(ctx context.Context, in responder.Inbound) (responder.Outcome, error) {
	f.inbounds = append(f.inbounds, in)
	if f.err != nil {
		return responder.OutcomeSendFailed, f.err
	}
	return responder.OutcomeSent, nil
}

type fakeParker struct{ parked []*domain.NormalizedEvent }

func (f *fakeParker) Enqueue(ctx context.Context, ev *domain.NormalizedEvent) error {
	f.parked = append(f.parked, ev)
	return nil
}

type fakeContactReader struct{ byID map[string]*domain.Contact }

func (f *fakeContactReader) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeContactReader) GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error) {
	var out []*domain.Contact
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeContactReader) TouchLastContact(ctx context.Context, id string) error { return nil }

func ingestFixture() (*Ingestor, *fakeOutcomeEvents, *fakeEnrolments, *fakeSuppressor, *fakeReplyHandler, *fakeParker) {
	enrolment := &domain.Enrolment{
		ID:         "enr-1",
		InstanceID: "inst-1",
		ContactID:  "ct-1",
		Email:      "lead@example.com",
		State:      domain.EnrolmentActive,
	}
	outcome := &domain.OutreachOutcome{ID: "out-1", EnrolmentID: "enr-1", ProviderMessageID: "pm-1"}

	outcomes := newFakeOutcomeEvents()
	outcomes.byMsgID["pm-1"] = outcome
	outcomes.byEnrol["enr-1"] = outcome
	enrolments := newFakeEnrolments(enrolment)
	contacts := &fakeContactReader{byID: map[string]*domain.Contact{
		"ct-1": {ID: "ct-1", Email: "lead@example.com", FirstName: "Ada", LastName: "Okafor", ICPScore: 0.6},
	}}
	suppressor := &fakeSuppressor{}
	replies := &fakeReplyHandler{}
	parker := &fakeParker{}

	ing := NewIngestor(outcomes, enrolments, contacts, suppressor, replies)
	ing.AttachOrphanQueue(parker)
	return ing, outcomes, enrolments, suppressor, replies, parker
}

func TestIngestAppliesEventByProviderMessageID(t *testing.T) {
	ing, outcomes, _, _, _, parker := ingestFixture()

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-1", Type: domain.EventOpened, Provider: "lemlist",
		ProviderMessageID: "pm-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, outcomes.applied, 1)
	assert.Equal(t, "out-1", outcomes.applied[0].outcomeID)
	assert.Equal(t, domain.EventOpened, outcomes.applied[0].eventType)
	assert.Empty(t, parker.parked)
}

func TestIngestParksUnmatchedEvent(t *testing.T) {
	ing, outcomes, _, _, _, parker := ingestFixture()

	ev := &domain.NormalizedEvent{
		ID: "ev-1", Type: domain.EventOpened, Provider: "lemlist",
		ProviderMessageID: "pm-unknown", Email: "nobody@example.com",
		OccurredAt: time.Now(),
	}
	require.NoError(t, ing.Ingest(context.Background(), ev))

	assert.Empty(t, outcomes.applied)
	require.Len(t, parker.parked, 1)
	assert.Equal(t, "ev-1", parker.parked[0].ID)
}

func TestIngestFallsBackToCampaignAndEmail(t *testing.T) {
	ing, outcomes, _, _, _, parker := ingestFixture()

	// No provider message id on the event; Lemlist reply payloads often
	// carry only campaign and lead email.
	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-2", Type: domain.EventClicked, Provider: "lemlist",
		CampaignID: "inst-1", Email: "lead@example.com", OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	require.Len(t, outcomes.applied, 1)
	assert.Equal(t, "out-1", outcomes.applied[0].outcomeID)
	assert.Empty(t, parker.parked)
}

func TestBounceSuppressesAndTerminatesEnrolment(t *testing.T) {
	ing, _, enrolments, suppressor, _, _ := ingestFixture()

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-3", Type: domain.EventBounced, Provider: "postmark",
		ProviderMessageID: "pm-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EnrolmentBounced, enrolments.states["enr-1"])
	require.Len(t, suppressor.entries, 1)
	assert.Equal(t, "lead@example.com", suppressor.entries[0].email)
	assert.Equal(t, "hard_bounce", suppressor.entries[0].reason)
	assert.Equal(t, "postmark", suppressor.entries[0].source)
}

func TestUnsubscribeSuppressesWithEventReason(t *testing.T) {
	ing, _, enrolments, suppressor, _, _ := ingestFixture()

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-4", Type: domain.EventUnsubscribed, Provider: "postmark",
		ProviderMessageID: "pm-1", OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EnrolmentUnsubscribed, enrolments.states["enr-1"])
	require.Len(t, suppressor.entries, 1)
	assert.Equal(t, "unsubscribed", suppressor.entries[0].reason)
}

func TestReplyRunsResponderPipeline(t *testing.T) {
	ing, outcomes, enrolments, _, replies, _ := ingestFixture()

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-5", Type: domain.EventReplied, Provider: "lemlist",
		ProviderMessageID: "pm-1",
		ReplySubject:      "Re: quick question",
		ReplyBody:         "Sounds great, tell me more.",
		OccurredAt:        time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, domain.EnrolmentReplied, enrolments.states["enr-1"])
	assert.Equal(t, domain.SentimentPositive, outcomes.sentiments["out-1"])

	require.Len(t, replies.inbounds, 1)
	in := replies.inbounds[0]
	assert.Equal(t, "lead@example.com", in.LeadEmail)
	assert.Equal(t, "inst-1", in.CampaignID)
	assert.Equal(t, "Ada Okafor", in.LeadName)
	assert.InDelta(t, 0.6, in.LeadScore, 0.001)
}

func TestReplyHandlerFailureDoesNotFailResolution(t *testing.T) {
	ing, outcomes, _, _, replies, parker := ingestFixture()
	replies.err = errors.New("bedrock unavailable")

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-6", Type: domain.EventReplied, Provider: "lemlist",
		ProviderMessageID: "pm-1", ReplyBody: "interested", OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Len(t, outcomes.applied, 1)
	assert.Empty(t, parker.parked, "a failed responder must not orphan a matched event")
}

func TestStoreErrorPropagatesInsteadOfParking(t *testing.T) {
	ing, outcomes, _, _, _, parker := ingestFixture()
	outcomes.applyErr = errors.New("connection reset")

	err := ing.Ingest(context.Background(), &domain.NormalizedEvent{
		ID: "ev-7", Type: domain.EventOpened, Provider: "lemlist",
		ProviderMessageID: "pm-1", OccurredAt: time.Now(),
	})
	require.Error(t, err)
	assert.Empty(t, parker.parked, "infrastructure failures are retried by the caller, not orphaned")
}
