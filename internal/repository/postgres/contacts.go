package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// ContactRepo persists contacts and companies.
type ContactRepo struct{ db *sql.DB }

// NewContactRepo creates a Postgres-backed contact repository.
func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

// InsertBatch inserts the contacts in one transaction, skipping emails
// that already exist. All-or-nothing: any failure rolls the whole batch
// back and surfaces as a data-loss hazard so the caller can abort the
// import. Returns the number of rows actually inserted.
func (r *ContactRepo) InsertBatch(ctx context.Context, contacts []*domain.Contact) (int, error) {
	if len(contacts) == 0 {
		return 0, nil
	}

	inserted := 0
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO contacts
				(id, email, first_name, last_name, title, company, company_domain,
				 linkedin_url, phone, location, enrichment_data, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
			ON CONFLICT (email) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, c := range contacts {
			if c.ID == "" {
				c.ID = uuid.NewString()
			}
			enrichment, err := json.Marshal(c.EnrichmentData)
			if err != nil {
				return fmt.Errorf("marshal enrichment for %s: %w", c.ID, err)
			}
			res, err := stmt.ExecContext(ctx, c.ID, domain.NormalizeEmail(c.Email),
				c.FirstName, c.LastName, c.Title, c.Company, c.CompanyDomain,
				c.LinkedInURL, c.Phone, c.Location, enrichment)
			if err != nil {
				return fmt.Errorf("%w: insert contact %s: %w", reliability.ErrDataLossHazard, c.ID, err)
			}
			n, _ := res.RowsAffected()
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

const contactColumns = `
	id, email, first_name, last_name, title, company, company_domain,
	linkedin_url, phone, location, enrichment_data,
	data_quality_score, icp_score, last_touch_at, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*domain.Contact, error) {
	c := &domain.Contact{}
	var enrichment []byte
	err := row.Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Title,
		&c.Company, &c.CompanyDomain, &c.LinkedInURL, &c.Phone, &c.Location,
		&enrichment, &c.DataQualityScore, &c.ICPScore, &c.LastTouchAt,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(enrichment) > 0 {
		if err := json.Unmarshal(enrichment, &c.EnrichmentData); err != nil {
			return nil, fmt.Errorf("unmarshal enrichment for %s: %w", c.ID, err)
		}
	}
	return c, nil
}

// GetByID returns one contact.
func (r *ContactRepo) GetByID(ctx context.Context, id string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// GetByEmail returns the contact with the normalized email.
func (r *ContactRepo) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE email = $1`,
		domain.NormalizeEmail(email))
	c, err := scanContact(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by email: %w", err)
	}
	return c, nil
}

// GetByIDs returns the contacts for the given ids, in no particular order.
func (r *ContactRepo) GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get contacts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ApplyEnrichment merges enrichment results into the contact row and
// refreshes its quality scores.
func (r *ContactRepo) ApplyEnrichment(ctx context.Context, c *domain.Contact) error {
	enrichment, err := json.Marshal(c.EnrichmentData)
	if err != nil {
		return fmt.Errorf("marshal enrichment: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts SET
			title = COALESCE(NULLIF($2, ''), title),
			phone = COALESCE(NULLIF($3, ''), phone),
			location = COALESCE(NULLIF($4, ''), location),
			linkedin_url = COALESCE(NULLIF($5, ''), linkedin_url),
			enrichment_data = $6,
			data_quality_score = $7,
			icp_score = $8,
			updated_at = NOW()
		WHERE id = $1
	`, c.ID, c.Title, c.Phone, c.Location, c.LinkedInURL,
		enrichment, c.DataQualityScore, c.ICPScore)
	if err != nil {
		return fmt.Errorf("apply enrichment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastContact stamps the contact's last outreach time.
func (r *ContactRepo) TouchLastContact(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET last_touch_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch contact: %w", err)
	}
	return nil
}

// SaveCompany upserts firmographic data keyed by domain.
func (r *ContactRepo) SaveCompany(ctx context.Context, c *domain.Company) error {
	raw, err := json.Marshal(c.Raw)
	if err != nil {
		return fmt.Errorf("marshal company raw: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO companies
			(domain, name, industry, revenue, employees, technologies, funding,
			 signals, raw, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (domain) DO UPDATE SET
			name = EXCLUDED.name, industry = EXCLUDED.industry,
			revenue = EXCLUDED.revenue, employees = EXCLUDED.employees,
			technologies = EXCLUDED.technologies, funding = EXCLUDED.funding,
			signals = EXCLUDED.signals, raw = EXCLUDED.raw, updated_at = NOW()
	`, c.Domain, c.Name, c.Industry, c.Revenue, c.Employees,
		pq.Array(c.Technologies), c.Funding, pq.Array(c.Signals), raw)
	if err != nil {
		return fmt.Errorf("save company: %w", err)
	}
	return nil
}

// GetCompany returns the company for a domain.
func (r *ContactRepo) GetCompany(ctx context.Context, companyDomain string) (*domain.Company, error) {
	c := &domain.Company{}
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT domain, name, industry, revenue, employees, technologies,
		       funding, signals, raw, created_at, updated_at
		FROM companies WHERE domain = $1
	`, companyDomain).Scan(&c.Domain, &c.Name, &c.Industry, &c.Revenue,
		&c.Employees, pq.Array(&c.Technologies), &c.Funding,
		pq.Array(&c.Signals), &raw, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c.Raw); err != nil {
			return nil, fmt.Errorf("unmarshal company raw: %w", err)
		}
	}
	return c, nil
}
