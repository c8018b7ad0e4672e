package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Entity types recorded in the sync ledger.
const (
	SyncEntityContact = "contact"
)

// SyncLedgerRepo tracks when each entity last synced to the CRM and with
// what outcome, so sync jobs can skip unchanged entities and operators
// can audit failures. Rows are keyed by (entity_type, external_id) so
// the same ledger can carry contacts, companies, and deals side by side.
type SyncLedgerRepo struct{ db *sql.DB }

// NewSyncLedgerRepo creates a Postgres-backed sync ledger.
func NewSyncLedgerRepo(db *sql.DB) *SyncLedgerRepo { return &SyncLedgerRepo{db: db} }

// SyncEntry is one ledger row.
type SyncEntry struct {
	EntityType string    `json:"entity_type" db:"entity_type"`
	ExternalID string    `json:"external_id" db:"external_id"`
	RemoteID   string    `json:"remote_id" db:"remote_id"`
	Success    bool      `json:"success" db:"success"`
	Error      string    `json:"error,omitempty" db:"error"`
	SyncedAt   time.Time `json:"synced_at" db:"synced_at"`
	SyncedHash string    `json:"synced_hash" db:"synced_hash"`
}

// Record upserts the latest sync result for an entity.
func (r *SyncLedgerRepo) Record(ctx context.Context, e *SyncEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crm_sync_ledger (entity_type, external_id, remote_id, success, error, synced_hash, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (entity_type, external_id) DO UPDATE SET
			remote_id = EXCLUDED.remote_id, success = EXCLUDED.success,
			error = EXCLUDED.error, synced_hash = EXCLUDED.synced_hash, synced_at = NOW()
	`, e.EntityType, e.ExternalID, e.RemoteID, e.Success, e.Error, e.SyncedHash)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	return nil
}

// Get returns the last sync entry for an entity, or ErrNotFound when it
// has never synced.
func (r *SyncLedgerRepo) Get(ctx context.Context, entityType, externalID string) (*SyncEntry, error) {
	e := &SyncEntry{}
	var remoteID, syncErr sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT entity_type, external_id, remote_id, success, error, synced_hash, synced_at
		FROM crm_sync_ledger WHERE entity_type = $1 AND external_id = $2
	`, entityType, externalID).Scan(&e.EntityType, &e.ExternalID, &remoteID, &e.Success, &syncErr, &e.SyncedHash, &e.SyncedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync entry: %w", err)
	}
	e.RemoteID = remoteID.String
	e.Error = syncErr.String
	return e, nil
}
