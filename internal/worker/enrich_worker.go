package worker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/enrichment"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/quality"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// ContactEnrichStore is the persistence the enrich worker needs.
type ContactEnrichStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error)
	ApplyEnrichment(ctx context.Context, c *domain.Contact) error
	SaveCompany(ctx context.Context, c *domain.Company) error
}

// EnrichmentLookup is the cached enrichment surface (enrichment.Service).
type EnrichmentLookup interface {
	EnrichContact(ctx context.Context, email string) (*provider.ContactEnrichment, error)
	EnrichCompany(ctx context.Context, companyDomain string) (*domain.Company, error)
}

// EnrichParams are the parameters of an enrich job.
type EnrichParams struct {
	ContactIDs []string `json:"contact_ids"`
}

// EnrichStats is the enrich job result. Per-contact results are written
// as they complete; only the aggregate comes back on the job.
type EnrichStats struct {
	Processed int `json:"processed"`
	Enriched  int `json:"enriched"`
	Companies int `json:"companies"`
	Failed    int `json:"failed"`
}

// EnrichHandler enriches contacts in batches: person and company lookups
// run in parallel per contact, scores are recomputed, and each batch is
// persisted before the next begins.
type EnrichHandler struct {
	contacts  ContactEnrichStore
	lookup    EnrichmentLookup
	batchSize int
}

// NewEnrichHandler creates the enrich job handler.
func NewEnrichHandler(contacts ContactEnrichStore, lookup EnrichmentLookup, batchSize int) *EnrichHandler {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &EnrichHandler{contacts: contacts, lookup: lookup, batchSize: batchSize}
}

// Execute runs one enrich job.
func (h *EnrichHandler) Execute(ctx context.Context, job *domain.Job, progress *jobs.Progress) (json.RawMessage, error) {
	var params EnrichParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, reliability.Validationf("enrich parameters: %v", err)
	}
	if len(params.ContactIDs) == 0 {
		return nil, reliability.Validationf("enrich requires contact ids")
	}

	stats := &EnrichStats{}
	total := len(params.ContactIDs)

	for start := 0; start < total; start += h.batchSize {
		end := start + h.batchSize
		if end > total {
			end = total
		}
		contacts, err := h.contacts.GetByIDs(ctx, params.ContactIDs[start:end])
		if err != nil {
			return nil, err
		}
		for _, contact := range contacts {
			h.enrichOne(ctx, contact, stats)
		}

		progress.Set(ctx, float64(end)/float64(total)*100)
		if progress.Cancelled(ctx) {
			return nil, jobs.ErrCancelled
		}
	}

	logger.Info("enrichment finished", "processed", stats.Processed,
		"enriched", stats.Enriched, "companies", stats.Companies, "failed", stats.Failed)
	return json.Marshal(stats)
}

func (h *EnrichHandler) enrichOne(ctx context.Context, contact *domain.Contact, stats *EnrichStats) {
	stats.Processed++

	var (
		wg      sync.WaitGroup
		enr     *provider.ContactEnrichment
		enrErr  error
		company *domain.Company
		compErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		enr, enrErr = h.lookup.EnrichContact(ctx, contact.Email)
	}()
	if contact.CompanyDomain != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			company, compErr = h.lookup.EnrichCompany(ctx, contact.CompanyDomain)
		}()
	}
	wg.Wait()

	if enrErr != nil {
		stats.Failed++
		logger.Warn("contact enrichment failed", "contact_id", contact.ID, "error", enrErr.Error())
		return
	}
	if compErr != nil {
		logger.Warn("company enrichment failed",
			"contact_id", contact.ID, "domain", contact.CompanyDomain, "error", compErr.Error())
	}

	mergeEnrichment(contact, enr)
	contact.DataQualityScore = enrichment.Score(contact, company, enr)
	contact.ICPScore = quality.ICPScore(contact.Title)

	if err := h.contacts.ApplyEnrichment(ctx, contact); err != nil {
		stats.Failed++
		logger.Error("enrichment persist failed", "contact_id", contact.ID, "error", err.Error())
		return
	}
	stats.Enriched++

	if company != nil {
		if err := h.contacts.SaveCompany(ctx, company); err != nil {
			logger.Error("company persist failed", "domain", company.Domain, "error", err.Error())
		} else {
			stats.Companies++
		}
	}
}

// mergeEnrichment fills empty contact fields from the lookup without
// overwriting data the contact already carries.
func mergeEnrichment(contact *domain.Contact, enr *provider.ContactEnrichment) {
	if contact.Title == "" {
		contact.Title = enr.Title
	}
	if contact.Phone == "" {
		contact.Phone = enr.Phone
	}
	if contact.Location == "" {
		contact.Location = enr.Location
	}
	if contact.LinkedInURL == "" {
		contact.LinkedInURL = enr.LinkedInURL
	}
	if len(enr.Attributes) > 0 {
		if contact.EnrichmentData == nil {
			contact.EnrichmentData = make(map[string]any, len(enr.Attributes))
		}
		for k, v := range enr.Attributes {
			contact.EnrichmentData[k] = v
		}
	}
}
