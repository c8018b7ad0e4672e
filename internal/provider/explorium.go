package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Explorium looks up person and firmographic enrichment data.
type Explorium struct {
	rest *restClient
}

// NewExplorium creates the enrichment adapter.
func NewExplorium(baseURL, apiKey string, caller *reliability.Caller) *Explorium {
	return &Explorium{
		rest: newRESTClient("explorium", baseURL, caller, func(req *http.Request) {
			req.Header.Set("API-Key", apiKey)
		}),
	}
}

// Name identifies this provider in events and logs.
func (e *Explorium) Name() string { return "explorium" }

type exploriumContactResponse struct {
	Data struct {
		JobTitle    string         `json:"job_title"`
		Phone       string         `json:"phone"`
		Location    string         `json:"location"`
		LinkedInURL string         `json:"linkedin_url"`
		Attributes  map[string]any `json:"attributes"`
	} `json:"data"`
	Confidence float64 `json:"confidence"`
}

// EnrichContact looks up person-level attributes for the email address.
func (e *Explorium) EnrichContact(ctx context.Context, email string) (*ContactEnrichment, error) {
	payload := map[string]string{"email": domain.NormalizeEmail(email)}

	var resp exploriumContactResponse
	if err := e.rest.doJSON(ctx, http.MethodPost, "/contacts/enrich", payload, &resp); err != nil {
		return nil, fmt.Errorf("explorium contact enrich: %w", err)
	}

	return &ContactEnrichment{
		Title:       resp.Data.JobTitle,
		Phone:       resp.Data.Phone,
		Location:    resp.Data.Location,
		LinkedInURL: resp.Data.LinkedInURL,
		Attributes:  resp.Data.Attributes,
		Confidence:  resp.Confidence,
	}, nil
}

type exploriumCompanyResponse struct {
	Data struct {
		Name         string         `json:"name"`
		Industry     string         `json:"industry"`
		Revenue      string         `json:"revenue_range"`
		Employees    int            `json:"employee_count"`
		Technologies []string       `json:"technologies"`
		Funding      string         `json:"funding_stage"`
		Signals      []string       `json:"buying_signals"`
		Attributes   map[string]any `json:"attributes"`
	} `json:"data"`
}

// EnrichCompany looks up firmographic data for the company domain.
func (e *Explorium) EnrichCompany(ctx context.Context, companyDomain string) (*domain.Company, error) {
	payload := map[string]string{"domain": companyDomain}

	var resp exploriumCompanyResponse
	if err := e.rest.doJSON(ctx, http.MethodPost, "/companies/enrich", payload, &resp); err != nil {
		return nil, fmt.Errorf("explorium company enrich: %w", err)
	}

	now := time.Now().UTC()
	return &domain.Company{
		Domain:       companyDomain,
		Name:         resp.Data.Name,
		Industry:     resp.Data.Industry,
		Revenue:      resp.Data.Revenue,
		Employees:    resp.Data.Employees,
		Technologies: resp.Data.Technologies,
		Funding:      resp.Data.Funding,
		Signals:      resp.Data.Signals,
		Raw:          resp.Data.Attributes,
		UpdatedAt:    now,
	}, nil
}
