// Package worker implements the background job handlers (import, enrich,
// crm-sync, enrol, campaign-tick) and the webhook event-ingest service.
package worker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/reliability"
)

// Header aliases for CSV auto-mapping, reduced to contact fields.
var headerAliases = map[string][]string{
	"email":        {"email", "email_address", "e-mail", "emailaddress", "mail"},
	"first_name":   {"first_name", "firstname", "first", "fname", "given_name"},
	"last_name":    {"last_name", "lastname", "last", "lname", "surname", "family_name"},
	"title":        {"title", "job_title", "jobtitle", "position", "role", "job"},
	"company":      {"company", "company_name", "companyname", "organization", "org"},
	"domain":       {"domain", "company_domain", "website", "company_website"},
	"linkedin_url": {"linkedin_url", "linkedin", "linkedin_profile", "li_url"},
	"phone":        {"phone", "phone_number", "phonenumber", "mobile", "telephone"},
	"location":     {"location", "city", "region", "geo"},
}

// ContactInserter is the persistence the import worker needs.
type ContactInserter interface {
	InsertBatch(ctx context.Context, contacts []*domain.Contact) (int, error)
}

// ObjectFetcher streams an object out of S3.
type ObjectFetcher interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// ImportParams are the parameters of an import job. Source is either an
// s3://bucket/key URI or a local file path.
type ImportParams struct {
	Source string `json:"source"`
}

// ImportStats is the import job result.
type ImportStats struct {
	Rows       int `json:"rows"`
	Imported   int `json:"imported"`
	Invalid    int `json:"invalid"`
	Duplicates int `json:"duplicates"`
}

// ImportHandler streams a contact CSV into the contact store in
// transactional batches, deduplicating by normalized email.
type ImportHandler struct {
	contacts  ContactInserter
	s3        ObjectFetcher
	batchSize int
}

// NewImportHandler creates the import job handler. fetcher may be nil
// when S3 sources are not configured.
func NewImportHandler(contacts ContactInserter, fetcher ObjectFetcher, batchSize int) *ImportHandler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &ImportHandler{contacts: contacts, s3: fetcher, batchSize: batchSize}
}

// Execute runs one import job.
func (h *ImportHandler) Execute(ctx context.Context, job *domain.Job, progress *jobs.Progress) (json.RawMessage, error) {
	var params ImportParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, reliability.Validationf("import parameters: %v", err)
	}
	if params.Source == "" {
		return nil, reliability.Validationf("import source is required")
	}

	reader, size, err := h.open(ctx, params.Source)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	stats, err := h.stream(ctx, reader, size, progress)
	if err != nil {
		return nil, err
	}

	logger.Info("import finished", "source", params.Source,
		"rows", stats.Rows, "imported", stats.Imported,
		"invalid", stats.Invalid, "duplicates", stats.Duplicates)
	return json.Marshal(stats)
}

// open returns a streaming reader for the source plus its byte size when
// known (-1 otherwise), used for progress reporting.
func (h *ImportHandler) open(ctx context.Context, source string) (io.ReadCloser, int64, error) {
	if bucket, key, ok := strings.Cut(strings.TrimPrefix(source, "s3://"), "/"); ok && strings.HasPrefix(source, "s3://") {
		if h.s3 == nil {
			return nil, 0, reliability.Validationf("s3 import source configured but no s3 client available")
		}
		out, err := h.s3.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("fetch s3 object: %w", err)
		}
		size := int64(-1)
		if out.ContentLength != nil {
			size = *out.ContentLength
		}
		return out.Body, size, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, 0, fmt.Errorf("open import file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat import file: %w", err)
	}
	return f, info.Size(), nil
}

func (h *ImportHandler) stream(ctx context.Context, r io.Reader, size int64, progress *jobs.Progress) (*ImportStats, error) {
	counted := &countingReader{r: r}
	cr := csv.NewReader(counted)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, reliability.Validationf("read csv header: %v", err)
	}
	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	stats := &ImportStats{}
	seen := make(map[string]bool)
	batch := make([]*domain.Contact, 0, h.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := h.contacts.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		stats.Imported += inserted
		stats.Duplicates += len(batch) - inserted
		batch = batch[:0]

		if size > 0 {
			progress.Set(ctx, float64(counted.n)/float64(size)*100)
		}
		return nil
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, reliability.Validationf("read csv row %d: %v", stats.Rows+2, err)
		}
		stats.Rows++

		contact, ok := rowToContact(columns, record)
		if !ok {
			stats.Invalid++
			continue
		}
		if seen[contact.Email] {
			stats.Duplicates++
			continue
		}
		seen[contact.Email] = true
		batch = append(batch, contact)

		if len(batch) >= h.batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
			if progress.Cancelled(ctx) {
				return nil, jobs.ErrCancelled
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	progress.Set(ctx, 100)
	return stats, nil
}

// mapHeader resolves CSV columns to contact fields via the alias table.
// An email column is mandatory.
func mapHeader(header []string) (map[string]int, error) {
	columns := make(map[string]int)
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		for field, aliases := range headerAliases {
			if _, taken := columns[field]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					columns[field] = i
					break
				}
			}
		}
	}
	if _, ok := columns["email"]; !ok {
		return nil, reliability.Validationf("csv has no recognizable email column")
	}
	return columns, nil
}

func rowToContact(columns map[string]int, record []string) (*domain.Contact, bool) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	email := domain.NormalizeEmail(field("email"))
	if !validImportEmail(email) {
		return nil, false
	}
	return &domain.Contact{
		Email:         email,
		FirstName:     field("first_name"),
		LastName:      field("last_name"),
		Title:         field("title"),
		Company:       field("company"),
		CompanyDomain: strings.ToLower(field("domain")),
		LinkedInURL:   field("linkedin_url"),
		Phone:         field("phone"),
		Location:      field("location"),
	}, true
}

// validImportEmail requires parseable syntax and a dotted TLD.
func validImportEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	domainPart := email[at+1:]
	dot := strings.LastIndex(domainPart, ".")
	return dot > 0 && dot < len(domainPart)-1
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
