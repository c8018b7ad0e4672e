package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	status := domain.DeadLetterStatus(q.Get("status"))
	if status == "" {
		status = domain.DeadLetterFailed
	}

	entries, err := s.rt.Orphans.ListDeadLetters(r.Context(), status, limit)
	if err != nil {
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, map[string]any{"entries": entries, "count": len(entries)})
}

// handleReplayDLQ re-runs resolution for one entry. If the delivery
// record is still missing the event goes back to the orphaned queue with
// a fresh retry budget; 409 means the entry was already dispositioned.
func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rt.Orphans.ReplayDeadLetter(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "dead letter entry not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": "replayed"})
}

func (s *Server) handleDiscardDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.rt.Orphans.DiscardDeadLetter(r.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			httputil.NotFound(w, "dead letter entry not found")
			return
		}
		httputil.FromTaxonomy(w, err)
		return
	}
	httputil.OK(w, map[string]string{"id": id, "status": "discarded"})
}
