package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/pkg/logger"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/reliability"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

// ContactSyncStore is the contact persistence the sync worker needs.
type ContactSyncStore interface {
	GetByIDs(ctx context.Context, ids []string) ([]*domain.Contact, error)
}

// SyncLedger records sync outcomes keyed by entity type and external id.
type SyncLedger interface {
	Record(ctx context.Context, e *postgres.SyncEntry) error
	Get(ctx context.Context, entityType, externalID string) (*postgres.SyncEntry, error)
}

// CRMSyncParams are the parameters of a crm-sync job.
type CRMSyncParams struct {
	ContactIDs []string `json:"contact_ids"`
	// Force re-syncs contacts even when their synced hash is unchanged.
	Force bool `json:"force,omitempty"`
}

// CRMSyncStats is the crm-sync job result.
type CRMSyncStats struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// CRMSyncHandler pushes contacts into the CRM in batches, recording each
// result in the sync ledger and skipping contacts whose synced hash has
// not changed since the last successful sync.
type CRMSyncHandler struct {
	contacts        ContactSyncStore
	ledger          SyncLedger
	crm             provider.CRMProvider
	batchSize       int
	continueOnError bool
}

// NewCRMSyncHandler creates the crm-sync job handler.
func NewCRMSyncHandler(contacts ContactSyncStore, ledger SyncLedger, crm provider.CRMProvider, batchSize int, continueOnError bool) *CRMSyncHandler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &CRMSyncHandler{
		contacts:        contacts,
		ledger:          ledger,
		crm:             crm,
		batchSize:       batchSize,
		continueOnError: continueOnError,
	}
}

// Execute runs one crm-sync job.
func (h *CRMSyncHandler) Execute(ctx context.Context, job *domain.Job, progress *jobs.Progress) (json.RawMessage, error) {
	var params CRMSyncParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return nil, reliability.Validationf("crm-sync parameters: %v", err)
	}
	if len(params.ContactIDs) == 0 {
		return nil, reliability.Validationf("crm-sync requires contact ids")
	}

	stats := &CRMSyncStats{}
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
			if err := h.syncOne(ctx, contact, params.Force, stats); err != nil {
				if !h.continueOnError {
					return nil, err
				}
			}
		}

		progress.Set(ctx, float64(end)/float64(total)*100)
		if progress.Cancelled(ctx) {
			return nil, jobs.ErrCancelled
		}
	}

	logger.Info("crm sync finished", "processed", stats.Processed,
		"synced", stats.Synced, "skipped", stats.Skipped, "failed", stats.Failed)
	return json.Marshal(stats)
}

func (h *CRMSyncHandler) syncOne(ctx context.Context, contact *domain.Contact, force bool, stats *CRMSyncStats) error {
	stats.Processed++
	hash := contactHash(contact)

	if !force {
		if prev, err := h.ledger.Get(ctx, postgres.SyncEntityContact, contact.ID); err == nil && prev.Success && prev.SyncedHash == hash {
			stats.Skipped++
			return nil
		}
	}

	remoteID, err := h.crm.UpsertContact(ctx, contact)
	entry := &postgres.SyncEntry{
		EntityType: postgres.SyncEntityContact,
		ExternalID: contact.ID,
		RemoteID:   remoteID,
		Success:    err == nil,
		SyncedHash: hash,
	}
	if err != nil {
		entry.Error = err.Error()
		stats.Failed++
		if ledgerErr := h.ledger.Record(ctx, entry); ledgerErr != nil {
			logger.Error("sync ledger write failed", "contact_id", contact.ID, "error", ledgerErr.Error())
		}
		logger.Warn("crm upsert failed", "contact_id", contact.ID, "error", err.Error())
		return fmt.Errorf("crm upsert contact %s: %w", contact.ID, err)
	}

	if err := h.ledger.Record(ctx, entry); err != nil {
		logger.Error("sync ledger write failed", "contact_id", contact.ID, "error", err.Error())
	}
	stats.Synced++

	activity := &provider.CRMActivity{
		ContactEmail: contact.Email,
		Type:         "enrichment_sync",
		Subject:      "Contact synced from outreach engine",
		Body: fmt.Sprintf("Data quality %.2f, ICP %.2f",
			contact.DataQualityScore, contact.ICPScore),
		OccurredAt: time.Now().UTC(),
	}
	if err := h.crm.LogActivity(ctx, activity); err != nil {
		logger.Warn("crm activity log failed", "contact_id", contact.ID, "error", err.Error())
	}
	return nil
}

// contactHash fingerprints the synced fields so unchanged contacts can
// be skipped on later runs.
func contactHash(c *domain.Contact) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%s|%s|%.3f|%.3f",
		c.Email, c.FirstName, c.LastName, c.Title, c.Company, c.Phone,
		c.DataQualityScore, c.ICPScore)))
	return hex.EncodeToString(sum[:8])
}
