package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/quality"
	"github.com/ignite/outreach-engine/internal/reliability"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

const sendOperation = "outreach-send"

// CampaignStore is the campaign persistence the outreach workers need.
type CampaignStore interface {
	GetInstance(ctx context.Context, id string) (*domain.CampaignInstance, error)
	GetTemplate(ctx context.Context, id string) (*domain.CampaignTemplate, error)
}

// EnrolmentStore is the enrolment persistence the outreach workers need.
type EnrolmentStore interface {
	FindOrCreate(ctx context.Context, e *domain.Enrolment) (*domain.Enrolment, bool, error)
	SetState(ctx context.Context, id string, state domain.EnrolmentState) error
	AdvanceStage(ctx context.Context, id string, stage int, nextStageAt *time.Time) error
	DueForStage(ctx context.Context, limit int) ([]*domain.Enrolment, error)
}

// OutcomeStore records sends. RecordSend commits the outcome and the
// idempotency record in one transaction.
type OutcomeStore interface {
	RecordSend(ctx context.Context, o *domain.OutreachOutcome, operation, key string, result json.RawMessage) error
}

// IdempotencyStore is the claim-and-lookup side of the idempotency
// table. Claim must be race-safe: of concurrent claimants for one key,
// exactly one gets true.
type IdempotencyStore interface {
	Get(ctx context.Context, operation, key string) (*domain.IdempotencyRecord, error)
	Claim(ctx context.Context, operation, key string) (bool, error)
	Release(ctx context.Context, operation, key string) error
}

// SuppressionStore checks the do-not-contact list.
type SuppressionStore interface {
	FilterSuppressed(ctx context.Context, emails []string) (map[string]bool, error)
}

// ContactReader is the contact persistence the outreach workers need.
type ContactReader interface {
	GetByID(ctx context.Context, id string) (*domain.Contact, error)
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error)
	TouchLastContact(ctx context.Context, id string) error
}

// stageSender sends one campaign stage to one contact: render, gate,
// idempotency claim, provider call, then the transactional outcome +
// idempotency write. Shared by the enrol and campaign-tick handlers.
type stageSender struct {
	renderer    *Renderer
	gate        *quality.Gate
	email       provider.EmailProvider
	linkedin    provider.LinkedInProvider
	enrolments  EnrolmentStore
	outcomes    OutcomeStore
	contacts    ContactReader
	idempotency IdempotencyStore
	fromEmail   string
	fromName    string
}

// sendKey is the idempotency key of one (enrolment, stage) send.
func sendKey(instanceID, contactID string, stage int) string {
	return fmt.Sprintf("%s:%s:%d", instanceID, contactID, stage)
}

type sendDisposition string

const (
	dispositionSent      sendDisposition = "sent"
	dispositionBlocked   sendDisposition = "blocked"
	dispositionDuplicate sendDisposition = "duplicate"
)

// sendStage delivers template stage stageIdx to the contact and advances
// the enrolment. A quality-gate block marks the enrolment failed.
func (s *stageSender) sendStage(ctx context.Context, tmpl *domain.CampaignTemplate,
	enrolment *domain.Enrolment, contact *domain.Contact, stageIdx int) (sendDisposition, error) {

	if stageIdx >= len(tmpl.Stages) {
		return "", s.enrolments.AdvanceStage(ctx, enrolment.ID, stageIdx, nil)
	}
	stage := tmpl.Stages[stageIdx]

	rendered, err := s.renderer.RenderStage(stage, contact)
	if err != nil {
		return "", err
	}
	if len(rendered.Missing) > 0 {
		logger.Warn("stage blocked, unresolved template tokens",
			"enrolment_id", enrolment.ID, "stage", stageIdx,
			"missing", strings.Join(rendered.Missing, ","))
		return dispositionBlocked, s.enrolments.SetState(ctx, enrolment.ID, domain.EnrolmentFailed)
	}

	verdict := s.gate.ScoreOutreach(ctx, quality.Input{
		Contact: quality.ContactInput{
			Email:     contact.Email,
			FirstName: contact.FirstName,
			LastName:  contact.LastName,
			Title:     contact.Title,
			Company:   contact.Company,
			Phone:     contact.Phone,
		},
		Message: quality.MessageInput{
			Subject:   rendered.Subject,
			Body:      rendered.Body,
			FirstName: contact.FirstName,
			Company:   contact.Company,
		},
		Timing: quality.TimingInput{SendAt: time.Now(), LastTouchAt: contact.LastTouchAt},
	})
	if verdict.Recommendation == quality.Block {
		logger.Warn("stage blocked by quality gate",
			"enrolment_id", enrolment.ID, "stage", stageIdx,
			"overall", verdict.Overall, "reasons", strings.Join(verdict.Reasons, "; "))
		return dispositionBlocked, s.enrolments.SetState(ctx, enrolment.ID, domain.EnrolmentFailed)
	}
	if verdict.Recommendation == quality.Warn {
		logger.Info("stage sent with quality warnings",
			"enrolment_id", enrolment.ID, "overall", verdict.Overall,
			"reasons", strings.Join(verdict.Reasons, "; "))
	}

	key := sendKey(enrolment.InstanceID, enrolment.ContactID, stageIdx)
	channel := stage.Channel
	if channel == "" {
		channel = tmpl.Channel
	}

	// Claim the send key before touching the provider. When two workers
	// race for the same (enrolment, stage) only the claimant delivers;
	// the loser backs off without a second provider call.
	claimed, err := s.idempotency.Claim(ctx, sendOperation, key)
	if err != nil {
		return "", fmt.Errorf("claim send key: %w", err)
	}
	if !claimed {
		logger.Info("stage already claimed by a concurrent sender",
			"enrolment_id", enrolment.ID, "stage", stageIdx)
		return dispositionDuplicate, nil
	}

	result, err := s.deliver(ctx, channel, contact, rendered, enrolment.InstanceID, key)
	if err != nil {
		if relErr := s.idempotency.Release(ctx, sendOperation, key); relErr != nil {
			logger.Error("send claim release failed",
				"enrolment_id", enrolment.ID, "stage", stageIdx, "error", relErr.Error())
		}
		return "", fmt.Errorf("deliver stage %d: %w", stageIdx, err)
	}

	resultJSON, _ := json.Marshal(result)
	outcome := &domain.OutreachOutcome{
		EnrolmentID:       enrolment.ID,
		ProviderMessageID: result.ProviderMessageID,
		TemplateUsed:      tmpl.ID,
		SubjectLine:       rendered.Subject,
		Persona:           stage.Persona,
		Stage:             stageIdx,
		SentAt:            time.Now().UTC(),
	}
	if err := s.outcomes.RecordSend(ctx, outcome, sendOperation, key, resultJSON); err != nil {
		// The provider accepted the message but the outcome write failed:
		// surface loudly. The claim stays in place, which is what prevents
		// a resend.
		return "", fmt.Errorf("%w: record send after provider accept: %v", reliability.ErrDataLossHazard, err)
	}

	next := stageIdx + 1
	if next >= len(tmpl.Stages) {
		err = s.enrolments.AdvanceStage(ctx, enrolment.ID, next, nil)
	} else {
		at := time.Now().Add(time.Duration(tmpl.Stages[next].WaitDays) * 24 * time.Hour)
		err = s.enrolments.AdvanceStage(ctx, enrolment.ID, next, &at)
	}
	if err != nil {
		return "", err
	}
	if err := s.contacts.TouchLastContact(ctx, enrolment.ContactID); err != nil {
		logger.Warn("last touch update failed", "contact_id", enrolment.ContactID, "error", err.Error())
	}
	return dispositionSent, nil
}

func (s *stageSender) deliver(ctx context.Context, channel domain.Channel,
	contact *domain.Contact, rendered *RenderedStage, instanceID, key string) (*provider.SendResult, error) {

	switch channel {
	case domain.ChannelLinkedIn:
		if s.linkedin == nil {
			return nil, reliability.Validationf("linkedin channel not configured")
		}
		if contact.LinkedInURL == "" {
			return nil, reliability.Validationf("contact has no linkedin profile")
		}
		return s.linkedin.Perform(ctx, &provider.LinkedInRequest{
			ProfileURL:     contact.LinkedInURL,
			Action:         provider.ActionMessage,
			Message:        rendered.Body,
			IdempotencyKey: key,
		})
	default:
		return s.email.Send(ctx, &provider.SendRequest{
			To:             contact.Email,
			FromEmail:      s.fromEmail,
			FromName:       s.fromName,
			Subject:        rendered.Subject,
			TextBody:       rendered.Body,
			CampaignRef:    instanceID,
			IdempotencyKey: key,
		})
	}
}

// EnrolParams are the parameters of an enrol job.
type EnrolParams struct {
	InstanceID string   `json:"instance_id"`
	ContactIDs []string `json:"contact_ids"`
}

// EnrolStats is the enrol job result.
type EnrolStats struct {
	Processed       int `json:"processed"`
	Sent            int `json:"sent"`
	AlreadyEnrolled int `json:"already_enrolled"`
	Suppressed      int `json:"suppressed"`
	Blocked         int `json:"blocked"`
	Failed          int `json:"failed"`
}

// EnrolHandler enrols contacts into an active campaign instance and
// sends them stage zero. Enrolment is idempotent end to end: the
// idempotency lookup skips completed work, the unique enrolment index
// dedupes the enrolment row, and the pre-send claim guarantees at most
// one provider call per (enrolment, stage) even when two workers race.
type EnrolHandler struct {
	campaigns    CampaignStore
	contacts     ContactReader
	suppressions SuppressionStore
	idempotency  IdempotencyStore
	sender       *stageSender
}

// NewEnrolHandler creates the enrol job handler.
func NewEnrolHandler(campaigns CampaignStore, contacts ContactReader, enrolments EnrolmentStore,
	outcomes OutcomeStore, idempotency IdempotencyStore, suppressions SuppressionStore,
	gate *quality.Gate, email provider.EmailProvider, linkedin provider.LinkedInProvider,
	fromEmail, fromName string) *EnrolHandler {

	return &EnrolHandler{
		campaigns:    campaigns,
		contacts:     contacts,
		suppressions: suppressions,
		idempotency:  idempotency,
		sender: &stageSender{
			renderer:    NewRenderer(),
			gate:        gate,
			email:       email,
			linkedin:    linkedin,
			enrolments:  enrolments,
			outcomes:    outcomes,
			contacts:    contacts,
			idempotency: idempotency,
			fromEmail:   fromEmail,
			fromName:    fromName,
		},
	}
}

// Execute runs one enrol job.
func (h *EnrolHandler) Execute(ctx context.Context, job *domain.Job, progress *jobs.Progress) (json.RawMessage, error) {
	var params EnrolParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, reliability.Validationf("enrol parameters: %v", err)
	}
	if params.InstanceID == "" || len(params.ContactIDs) == 0 {
		return nil, reliability.Validationf("enrol requires instance_id and contact_ids")
	}

	instance, err := h.campaigns.GetInstance(ctx, params.InstanceID)
	if err != nil {
		return nil, err
	}
	if instance.State != domain.InstanceActive {
		return nil, fmt.Errorf("%w: campaign %s is %s, not active",
			reliability.ErrConflict, instance.ID, instance.State)
	}
	tmpl, err := h.campaigns.GetTemplate(ctx, instance.TemplateID)
	if err != nil {
		return nil, err
	}

	contacts, err := h.contacts.GetByIDs(ctx, params.ContactIDs)
	if err != nil {
		return nil, err
	}
	emails := make([]string, len(contacts))
	for i, c := range contacts {
		emails[i] = c.Email
	}
	suppressed, err := h.suppressions.FilterSuppressed(ctx, emails)
	if err != nil {
		return nil, err
	}

	stats := &EnrolStats{}
	for i, contact := range contacts {
		if err := h.enrolOne(ctx, instance, tmpl, contact, suppressed, stats); err != nil {
			stats.Failed++
			logger.Error("enrolment failed", "instance_id", instance.ID,
				"contact_id", contact.ID, "error", err.Error())
		}

		if (i+1)%25 == 0 || i == len(contacts)-1 {
			progress.Set(ctx, float64(i+1)/float64(len(contacts))*100)
			if progress.Cancelled(ctx) {
				return nil, jobs.ErrCancelled
			}
		}
	}

	logger.Info("enrol finished", "instance_id", instance.ID,
		"processed", stats.Processed, "sent", stats.Sent,
		"already_enrolled", stats.AlreadyEnrolled,
		"suppressed", stats.Suppressed, "blocked", stats.Blocked, "failed", stats.Failed)
	return json.Marshal(stats)
}

func (h *EnrolHandler) enrolOne(ctx context.Context, instance *domain.CampaignInstance,
	tmpl *domain.CampaignTemplate, contact *domain.Contact,
	suppressed map[string]bool, stats *EnrolStats) error {

	stats.Processed++

	if suppressed[contact.Email] {
		stats.Suppressed++
		return nil
	}

	key := sendKey(instance.ID, contact.ID, 0)
	if _, err := h.idempotency.Get(ctx, sendOperation, key); err == nil {
		stats.AlreadyEnrolled++
		return nil
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return err
	}

	enrolment, created, err := h.sender.enrolments.FindOrCreate(ctx, &domain.Enrolment{
		InstanceID: instance.ID,
		ContactID:  contact.ID,
		Email:      contact.Email,
	})
	if err != nil {
		return err
	}
	if !created && (enrolment.CurrentStage > 0 || enrolment.IsTerminal()) {
		stats.AlreadyEnrolled++
		return nil
	}

	disposition, err := h.sender.sendStage(ctx, tmpl, enrolment, contact, 0)
	if err != nil {
		return err
	}
	switch disposition {
	case dispositionSent:
		stats.Sent++
	case dispositionBlocked:
		stats.Blocked++
	case dispositionDuplicate:
		stats.AlreadyEnrolled++
	}
	return nil
}
