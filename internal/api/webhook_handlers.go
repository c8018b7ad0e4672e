package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach-engine/internal/metrics"
	"github.com/ignite/outreach-engine/internal/pkg/httputil"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
)

// Webhook payloads are small JSON documents; anything larger is abuse.
const maxWebhookBody = 1 << 20

// handleWebhook verifies, normalizes and ingests one webhook delivery.
// Verification failures are 401 and nothing is enqueued. Events whose
// enrolment is not yet visible are parked in the orphaned queue, so the
// provider still gets a 200 and does not re-deliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")

	header, err := s.rt.Providers.Verifier.SignatureHeader(providerName)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "unknown_provider").Inc()
		httputil.NotFound(w, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httputil.BadRequest(w, "unreadable body")
		return
	}

	signature := r.Header.Get(header)
	if signature == "" {
		metrics.WebhooksReceived.WithLabelValues(providerName, "unsigned").Inc()
		httputil.Error(w, http.StatusUnauthorized, "missing signature")
		return
	}
	if err := s.rt.Providers.Verifier.Verify(providerName, body, signature); err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "rejected").Inc()
		logger.Warn("webhook rejected", "provider", providerName, "error", err.Error())
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	events, err := provider.ParseWebhook(providerName, body)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(providerName, "unparseable").Inc()
		httputil.BadRequest(w, "unparseable payload")
		return
	}
	metrics.WebhooksReceived.WithLabelValues(providerName, "accepted").Inc()

	ingested := 0
	for i := range events {
		if err := s.rt.Ingestor.Ingest(r.Context(), &events[i]); err != nil {
			// The event is neither applied nor parked; surface a 500 so
			// the provider re-delivers.
			logger.Error("webhook ingest failed",
				"provider", providerName, "event_id", events[i].ID, "error", err.Error())
			httputil.InternalError(w, err)
			return
		}
		ingested++
	}
	httputil.OK(w, map[string]int{"events": ingested})
}
