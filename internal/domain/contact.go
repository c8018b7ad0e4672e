package domain

import (
	"strings"
	"time"
)

// Contact represents a single outreach prospect, uniquely identified by
// normalized lowercase email. Created by import, mutated by enrichment.
type Contact struct {
	ID               string         `json:"id" db:"id"`
	Email            string         `json:"email" db:"email"`
	FirstName        string         `json:"first_name" db:"first_name"`
	LastName         string         `json:"last_name" db:"last_name"`
	Title            string         `json:"title" db:"title"`
	Company          string         `json:"company" db:"company"`
	CompanyDomain    string         `json:"company_domain" db:"company_domain"`
	LinkedInURL      string         `json:"linkedin_url" db:"linkedin_url"`
	Phone            string         `json:"phone" db:"phone"`
	Location         string         `json:"location" db:"location"`
	EnrichmentData   map[string]any `json:"enrichment_data" db:"enrichment_data"`
	DataQualityScore float64        `json:"data_quality_score" db:"data_quality_score"`
	ICPScore         float64        `json:"icp_score" db:"icp_score"`
	LastTouchAt      *time.Time     `json:"last_touch_at" db:"last_touch_at"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail returns the canonical form of an email address used for
// contact identity and deduplication: lowercased and trimmed.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FullName joins the contact's first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Company holds firmographic data keyed by domain. Weak-referenced by
// contacts through CompanyDomain.
type Company struct {
	Domain       string         `json:"domain" db:"domain"`
	Name         string         `json:"name" db:"name"`
	Industry     string         `json:"industry" db:"industry"`
	Revenue      string         `json:"revenue" db:"revenue"`
	Employees    int            `json:"employees" db:"employees"`
	Technologies []string       `json:"technologies" db:"technologies"`
	Funding      string         `json:"funding" db:"funding"`
	Signals      []string       `json:"signals" db:"signals"`
	Raw          map[string]any `json:"raw" db:"raw"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}
