package enrichment

import (
	"net/mail"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/provider"
)

// Field weights for the data-quality score. Contact fields dominate,
// firmographics fill in the rest, and provider confidence tops it off.
const (
	weightEmail        = 15
	weightTitle        = 10
	weightLinkedIn     = 10
	weightPhone        = 8
	weightLocation     = 7
	weightCompanyName  = 5
	weightRevenue      = 8
	weightEmployees    = 5
	weightIndustry     = 3
	weightTechnologies = 4
	weightFunding      = 3
	weightSignals      = 2
	weightConfidence   = 10

	maxPoints = weightEmail + weightTitle + weightLinkedIn + weightPhone +
		weightLocation + weightCompanyName + weightRevenue + weightEmployees +
		weightIndustry + weightTechnologies + weightFunding + weightSignals +
		weightConfidence
)

// Score computes a 0..1 data-quality score from the contact's filled
// fields, its company record, and the enrichment confidence. company and
// enr may be nil when those lookups failed or were skipped.
func Score(c *domain.Contact, company *domain.Company, enr *provider.ContactEnrichment) float64 {
	points := 0.0

	if _, err := mail.ParseAddress(c.Email); err == nil {
		points += weightEmail
	}
	if c.Title != "" {
		points += weightTitle
	}
	if c.LinkedInURL != "" {
		points += weightLinkedIn
	}
	if c.Phone != "" {
		points += weightPhone
	}
	if c.Location != "" {
		points += weightLocation
	}

	if company != nil {
		if company.Name != "" {
			points += weightCompanyName
		}
		if company.Revenue != "" {
			points += weightRevenue
		}
		if company.Employees > 0 {
			points += weightEmployees
		}
		if company.Industry != "" {
			points += weightIndustry
		}
		if len(company.Technologies) > 0 {
			points += weightTechnologies
		}
		if company.Funding != "" {
			points += weightFunding
		}
		if len(company.Signals) > 0 {
			points += weightSignals
		}
	}

	if enr != nil {
		conf := enr.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		points += conf * weightConfidence
	}

	return points / maxPoints
}
