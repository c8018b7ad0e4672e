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
)

type enqueueJobRequest struct {
	Priority   string          `json:"priority"`
	Parameters json.RawMessage `json:"parameters"`
}

type jobResponse struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Result   any     `json:"result,omitempty"`
	Error    string  `json:"error,omitempty"`
}

func toJobResponse(j *domain.Job) jobResponse {
	resp := jobResponse{
		ID:       j.ID,
		Type:     string(j.Type),
		Status:   string(j.Status),
		Progress: j.Progress,
		Error:    j.Error,
	}
	if len(j.Result) > 0 {
		resp.Result = json.RawMessage(j.Result)
	}
	return resp
}

func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	jobType := domain.JobType(chi.URLParam(r, "type"))

	var req enqueueJobRequest
	if !httputil.Decode(w, r, &req) {
		return
	}

	job, err := s.rt.Queue.Submit(r.Context(), jobType, domain.ParsePriority(req.Priority), req.Parameters)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.JSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.rt.Queue.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, toJobResponse(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list, err := s.rt.Queue.List(r.Context(),
		domain.JobStatus(q.Get("status")), domain.JobType(q.Get("type")), limit)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	out := make([]jobResponse, 0, len(list))
	for _, j := range list {
		out = append(out, toJobResponse(j))
	}
	httputil.OK(w, map[string]any{"jobs": out, "count": len(out)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	status, err := s.rt.Queue.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "job not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": string(status)})
}
