package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/worker"
)

type createTemplateRequest struct {
	Name     string                `json:"name" validate:"required"`
	Channel  string                `json:"channel" validate:"required,oneof=email linkedin multi"`
	Stages   []stageRequest        `json:"stages" validate:"required,min=1,dive"`
	Schedule domain.SchedulePolicy `json:"schedule"`
}

type stageRequest struct {
	Channel  string `json:"channel" validate:"omitempty,oneof=email linkedin"`
	Subject  string `json:"subject"`
	Body     string `json:"body" validate:"required"`
	Persona  string `json:"persona"`
	WaitDays int    `json:"wait_days" validate:"gte=0"`
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	tmpl := &domain.CampaignTemplate{
		Name:     req.Name,
		Channel:  domain.Channel(req.Channel),
		Schedule: req.Schedule,
	}
	for i, st := range req.Stages {
		ch := domain.Channel(st.Channel)
		if ch == "" {
			ch = domain.ChannelEmail
		}
		tmpl.Stages = append(tmpl.Stages, domain.MessageStage{
			Ordinal:  i,
			Channel:  ch,
			Subject:  st.Subject,
			Body:     st.Body,
			Persona:  st.Persona,
			WaitDays: st.WaitDays,
		})
	}

	if err := s.rt.Campaigns.CreateTemplate(r.Context(), tmpl); err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.Created(w, tmpl)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tmpl, err := s.rt.Campaigns.GetTemplate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, tmpl)
}

type createInstanceRequest struct {
	TemplateID string `json:"template_id" validate:"required"`
	Name       string `json:"name" validate:"required"`
}

func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	if _, err := s.rt.Campaigns.GetTemplate(r.Context(), req.TemplateID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "template not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}

	inst := &domain.CampaignInstance{
		TemplateID: req.TemplateID,
		Name:       req.Name,
		State:      domain.InstanceDraft,
	}
	if err := s.rt.Campaigns.CreateInstance(r.Context(), inst); err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.Created(w, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list, err := s.rt.Campaigns.ListInstances(r.Context(), domain.InstanceState(q.Get("state")), limit)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, map[string]any{"campaigns": list, "count": len(list)})
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.rt.Campaigns.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, inst)
}

var transitionTargets = map[string]domain.InstanceState{
	"activate": domain.InstanceActive,
	"pause":    domain.InstancePaused,
	"resume":   domain.InstanceActive,
	"cancel":   domain.InstanceCancelled,
}

// transitionHandler serves the lifecycle actions. Illegal transitions
// come back from the repository as conflicts.
func (s *Server) transitionHandler(action string) http.HandlerFunc {
	target := transitionTargets[action]
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.rt.Campaigns.TransitionInstance(r.Context(), id, target); err != nil {
			if errors.Is(err, postgres.ErrNotFound) {
				httputil.NotFound(w, "campaign not found")
				return
			}
			httputil.FromTaxonomy(w, err)
			return
		}
		httputil.OK(w, map[string]string{"id": id, "state": string(target)})
	}
}

type enrolRequest struct {
	ContactIDs []string `json:"contact_ids" validate:"required,min=1"`
	Priority   string   `json:"priority"`
}

// handleEnrol submits an enrol job for the campaign. Enrolment itself is
// asynchronous; the response carries the job id to poll.
func (s *Server) handleEnrol(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")

	var req enrolRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	inst, err := s.rt.Campaigns.GetInstance(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	if inst.State != domain.InstanceActive {
		httputil.Error(w, http.StatusConflict, "campaign is "+string(inst.State)+", not active")
		return
	}

	params, err := json.Marshal(worker.EnrolParams{InstanceID: instanceID, ContactIDs: req.ContactIDs})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	job, err := s.rt.Queue.Submit(r.Context(), domain.JobEnrol, domain.ParsePriority(req.Priority), params)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")
	if _, err := s.rt.Campaigns.GetInstance(r.Context(), instanceID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "campaign not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	counts, err := s.rt.Enrolments.CountByState(r.Context(), instanceID)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	httputil.OK(w, map[string]any{"campaign_id": instanceID, "total": total, "by_state": counts})
}
