package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/quality"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

// TickStats is the campaign-tick job result.
type TickStats struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Deferred  int `json:"deferred"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
}

// TickHandler advances due enrolments: it claims enrolments whose
// next_stage_at has passed, sends their current stage, and schedules the
// next one. Sends outside the template's schedule window are deferred to
// the window's next opening.
type TickHandler struct {
	campaigns   CampaignStore
	contacts    ContactReader
	enrolments  EnrolmentStore
	idempotency IdempotencyStore
	sender      *stageSender
	claimLimit  int
}

// NewTickHandler creates the campaign-tick job handler.
func NewTickHandler(campaigns CampaignStore, contacts ContactReader, enrolments EnrolmentStore,
	outcomes OutcomeStore, idempotency IdempotencyStore,
	gate *quality.Gate, email provider.EmailProvider, linkedin provider.LinkedInProvider,
	fromEmail, fromName string, claimLimit int) *TickHandler {

	if claimLimit <= 0 {
		claimLimit = 200
	}
	sender := &stageSender{
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
	}
	return &TickHandler{
		campaigns:   campaigns,
		contacts:    contacts,
		enrolments:  enrolments,
		idempotency: idempotency,
		sender:      sender,
		claimLimit:  claimLimit,
	}
}

// Execute runs one tick: claims and processes due enrolments until none
// remain or the job is cancelled.
func (h *TickHandler) Execute(ctx context.Context, job *domain.Job, progress *jobs.Progress) (json.RawMessage, error) {
	stats := &TickStats{}

	// Templates rarely change mid-tick; cache per run.
	templates := make(map[string]*domain.CampaignTemplate)

	for {
		due, err := h.enrolments.DueForStage(ctx, h.claimLimit)
		if err != nil {
			return nil, err
		}
		if len(due) == 0 {
			break
		}
		stats.Due += len(due)

		for _, enrolment := range due {
			if err := h.tickOne(ctx, enrolment, templates, stats); err != nil {
				stats.Failed++
				logger.Error("stage advance failed", "enrolment_id", enrolment.ID,
					"stage", enrolment.CurrentStage, "error", err.Error())
			}
		}

		if progress.Cancelled(ctx) {
			return nil, jobs.ErrCancelled
		}
		if len(due) < h.claimLimit {
			break
		}
	}

	logger.Info("campaign tick finished", "due", stats.Due, "sent", stats.Sent,
		"completed", stats.Completed, "deferred", stats.Deferred,
		"blocked", stats.Blocked, "failed", stats.Failed)
	return json.Marshal(stats)
}

func (h *TickHandler) tickOne(ctx context.Context, enrolment *domain.Enrolment,
	templates map[string]*domain.CampaignTemplate, stats *TickStats) error {

	instance, err := h.campaigns.GetInstance(ctx, enrolment.InstanceID)
	if err != nil {
		return err
	}
	tmpl, ok := templates[instance.TemplateID]
	if !ok {
		tmpl, err = h.campaigns.GetTemplate(ctx, instance.TemplateID)
		if err != nil {
			return err
		}
		templates[instance.TemplateID] = tmpl
	}

	stage := enrolment.CurrentStage
	if stage >= len(tmpl.Stages) {
		stats.Completed++
		return h.enrolments.AdvanceStage(ctx, enrolment.ID, stage, nil)
	}

	if at, open := nextOpen(time.Now().UTC(), tmpl.Schedule); !open {
		stats.Deferred++
		return h.enrolments.AdvanceStage(ctx, enrolment.ID, stage, &at)
	}

	// A prior run may have sent this stage and crashed before advancing.
	key := sendKey(enrolment.InstanceID, enrolment.ContactID, stage)
	if _, err := h.idempotency.Get(ctx, sendOperation, key); err == nil {
		return h.advancePastSent(ctx, enrolment, tmpl, stage, stats)
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return err
	}

	contact, err := h.contacts.GetByID(ctx, enrolment.ContactID)
	if err != nil {
		return err
	}

	disposition, err := h.sender.sendStage(ctx, tmpl, enrolment, contact, stage)
	if err != nil {
		return err
	}
	switch disposition {
	case dispositionSent:
		if stage+1 >= len(tmpl.Stages) {
			stats.Completed++
		} else {
			stats.Sent++
		}
	case dispositionBlocked:
		stats.Blocked++
	case dispositionDuplicate:
		// A concurrent sender holds the claim for this stage; it will
		// advance the enrolment after its own RecordSend.
	}
	return nil
}

// advancePastSent moves an enrolment forward when the current stage was
// already delivered by a run that died before advancing.
func (h *TickHandler) advancePastSent(ctx context.Context, enrolment *domain.Enrolment,
	tmpl *domain.CampaignTemplate, stage int, stats *TickStats) error {

	next := stage + 1
	if next >= len(tmpl.Stages) {
		stats.Completed++
		return h.enrolments.AdvanceStage(ctx, enrolment.ID, next, nil)
	}
	at := time.Now().Add(time.Duration(tmpl.Stages[next].WaitDays) * 24 * time.Hour)
	stats.Sent++
	return h.enrolments.AdvanceStage(ctx, enrolment.ID, next, &at)
}

// nextOpen reports whether now falls inside the schedule's send window.
// When it does not, the returned time is the window's next opening.
func nextOpen(now time.Time, policy domain.SchedulePolicy) (time.Time, bool) {
	start, end := policy.SendWindowStartHour, policy.SendWindowEndHour
	if start == 0 && end == 0 {
		return now, true
	}
	if end <= start || start < 0 || end > 24 {
		return now, true
	}

	for day := 0; day < 8; day++ {
		candidate := now.AddDate(0, 0, day)
		if !weekdayAllowed(candidate.Weekday(), policy.Weekdays) {
			continue
		}
		opens := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), start, 0, 0, 0, candidate.Location())
		closes := time.Date(candidate.Year(), candidate.Month(), candidate.Day(), end, 0, 0, 0, candidate.Location())
		if day == 0 && !now.Before(opens) && now.Before(closes) {
			return now, true
		}
		if opens.After(now) {
			return opens, false
		}
	}
	return now.Add(24 * time.Hour), false
}

func weekdayAllowed(day time.Weekday, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	name := strings.ToLower(day.String())
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == name || (len(a) >= 3 && a == name[:3]) {
			return true
		}
	}
	return false
}
