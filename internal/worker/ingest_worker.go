package worker

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/responder"
)

// OutcomeEventStore is the outcome persistence the ingestor needs.
type OutcomeEventStore interface {
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.OutreachOutcome, error)
	LatestForEnrolment(ctx context.Context, enrolmentID string) (*domain.OutreachOutcome, error)
	ApplyEvent(ctx context.Context, outcomeID string, eventType domain.EventType, occurredAt time.Time) error
	SetReplySentiment(ctx context.Context, outcomeID string, sentiment domain.ReplySentiment) error
}

// EnrolmentResolver looks up the enrolment an event belongs to.
type EnrolmentResolver interface {
	Get(ctx context.Context, id string) (*domain.Enrolment, error)
	FindByInstanceAndEmail(ctx context.Context, instanceID, email string) (*domain.Enrolment, error)
	SetState(ctx context.Context, id string, state domain.EnrolmentState) error
}

// Suppressor records emails that must never be contacted again.
type Suppressor interface {
	Suppress(ctx context.Context, email, reason, source string) error
}

// ReplyHandler runs the conversational pipeline for an inbound reply.
type ReplyHandler interface {
	HandleReply(ctx context.Context, in responder.Inbound) (responder.Outcome, error)
}

// OrphanParker buffers events whose enrolment is not yet visible.
type OrphanParker interface {
	Enqueue(ctx context.Context, event *domain.NormalizedEvent) error
}

// Ingestor applies normalized engagement events to outreach outcomes.
// Events that cannot be matched yet are parked in the orphaned-event
// queue; Resolve doubles as that queue's resolver, so retried events go
// through exactly the same path.
type Ingestor struct {
	outcomes    OutcomeEventStore
	enrolments  EnrolmentResolver
	contacts    ContactReader
	suppression Suppressor
	replies     ReplyHandler
	orphans     OrphanParker
}

// NewIngestor creates the event ingestor. replies may be nil when the
// conversational responder is disabled. The orphan queue is attached
// separately because it is built around this ingestor's Resolve.
func NewIngestor(outcomes OutcomeEventStore, enrolments EnrolmentResolver, contacts ContactReader,
	suppression Suppressor, replies ReplyHandler) *Ingestor {

	return &Ingestor{
		outcomes:    outcomes,
		enrolments:  enrolments,
		contacts:    contacts,
		suppression: suppression,
		replies:     replies,
	}
}

// AttachOrphanQueue wires the queue unmatched events are parked in.
// Must be called before Ingest.
func (i *Ingestor) AttachOrphanQueue(q OrphanParker) { i.orphans = q }

// Ingest applies one event, parking it as orphaned when its enrolment is
// not yet visible. The webhook edge calls this after verification.
func (i *Ingestor) Ingest(ctx context.Context, ev *domain.NormalizedEvent) error {
	resolved, err := i.Resolve(ctx, ev)
	if err != nil {
		return err
	}
	if !resolved {
		return i.orphans.Enqueue(ctx, ev)
	}
	return nil
}

// Resolve attempts to apply the event. It returns false when no matching
// enrolment or send record exists yet, which the orphaned queue treats
// as "retry later". An error means the attempt itself failed and must
// not burn retry budget.
func (i *Ingestor) Resolve(ctx context.Context, ev *domain.NormalizedEvent) (bool, error) {
	outcome, enrolment, err := i.locate(ctx, ev)
	if err != nil {
		return false, err
	}
	if outcome == nil {
		return false, nil
	}

	if err := i.outcomes.ApplyEvent(ctx, outcome.ID, ev.Type, ev.OccurredAt); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	metrics.EventsIngested.WithLabelValues(string(ev.Type)).Inc()

	if err := i.applyStateChange(ctx, ev, enrolment); err != nil {
		// The counter mutation already committed; state divergence is
		// logged and repaired by the next event for this enrolment.
		logger.Warn("enrolment state update failed",
			"enrolment_id", enrolment.ID, "event", string(ev.Type), "error", err.Error())
	}

	if ev.Type == domain.EventReplied {
		i.handleReply(ctx, ev, outcome, enrolment)
	}
	return true, nil
}

// locate finds the outcome and enrolment the event refers to, by provider
// message id first and (campaign, email) second.
func (i *Ingestor) locate(ctx context.Context, ev *domain.NormalizedEvent) (*domain.OutreachOutcome, *domain.Enrolment, error) {
	if ev.ProviderMessageID != "" {
		outcome, err := i.outcomes.GetByProviderMessageID(ctx, ev.ProviderMessageID)
		switch {
		case err == nil:
			enrolment, err := i.enrolments.Get(ctx, outcome.EnrolmentID)
			if err != nil {
				if errors.Is(err, postgres.ErrNotFound) {
					return nil, nil, nil
				}
				return nil, nil, err
			}
			return outcome, enrolment, nil
		case errors.Is(err, postgres.ErrNotFound):
			// Fall through to the campaign/email lookup.
		default:
			return nil, nil, err
		}
	}

	if ev.CampaignID == "" || ev.Email == "" {
		return nil, nil, nil
	}
	enrolment, err := i.enrolments.FindByInstanceAndEmail(ctx, ev.CampaignID, ev.Email)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	outcome, err := i.outcomes.LatestForEnrolment(ctx, enrolment.ID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			// Enrolment exists but the send has not been recorded yet;
			// the event stays orphaned until it is.
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return outcome, enrolment, nil
}

func (i *Ingestor) applyStateChange(ctx context.Context, ev *domain.NormalizedEvent, enrolment *domain.Enrolment) error {
	switch ev.Type {
	case domain.EventReplied:
		return i.enrolments.SetState(ctx, enrolment.ID, domain.EnrolmentReplied)
	case domain.EventBounced:
		if err := i.enrolments.SetState(ctx, enrolment.ID, domain.EnrolmentBounced); err != nil {
			return err
		}
		return i.suppression.Suppress(ctx, enrolment.Email, "hard_bounce", ev.Provider)
	case domain.EventUnsubscribed, domain.EventComplained:
		if err := i.enrolments.SetState(ctx, enrolment.ID, domain.EnrolmentUnsubscribed); err != nil {
			return err
		}
		return i.suppression.Suppress(ctx, enrolment.Email, string(ev.Type), ev.Provider)
	default:
		return nil
	}
}

// handleReply records sentiment and hands the reply to the responder.
// Responder failures never fail event resolution; the counters are
// already committed and the responder records its own review queue.
func (i *Ingestor) handleReply(ctx context.Context, ev *domain.NormalizedEvent, outcome *domain.OutreachOutcome, enrolment *domain.Enrolment) {
	cls := responder.Classify(ev.ReplyBody)
	if err := i.outcomes.SetReplySentiment(ctx, outcome.ID, cls.Sentiment); err != nil {
		logger.Warn("reply sentiment update failed", "outcome_id", outcome.ID, "error", err.Error())
	}

	if i.replies == nil {
		return
	}
	in := responder.Inbound{
		LeadEmail:  enrolment.Email,
		CampaignID: enrolment.InstanceID,
		Subject:    ev.ReplySubject,
		Body:       ev.ReplyBody,
	}
	if contact, err := i.contacts.GetByID(ctx, enrolment.ContactID); err == nil {
		in.LeadName = contact.FullName()
		in.LeadScore = contact.ICPScore
	}
	disposition, err := i.replies.HandleReply(ctx, in)
	if err != nil {
		logger.Error("reply pipeline failed",
			"lead", enrolment.Email, "campaign_id", enrolment.InstanceID, "error", err.Error())
		return
	}
	logger.Info("reply handled",
		"lead", enrolment.Email, "campaign_id", enrolment.InstanceID, "disposition", string(disposition))
}
