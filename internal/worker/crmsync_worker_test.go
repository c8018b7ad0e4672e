package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
	"github.com/ignite/outreach-engine/internal/jobs"
	"github.com/ignite/outreach-engine/internal/provider"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
)

type fakeSyncLedger struct {
	entries map[string]*postgres.SyncEntry // keyed entityType|externalID
}

func newFakeSyncLedger() *fakeSyncLedger {
	return &fakeSyncLedger{entries: map[string]*postgres.SyncEntry{}}
}

func (f *fakeSyncLedger) Record(ctx context.Context, e *postgres.SyncEntry) error {
	cp := *e
	f.entries[e.EntityType+"|"+e.ExternalID] = &cp
	return nil
}

func (f *fakeSyncLedger) Get(ctx context.Context, entityType, externalID string) (*postgres.SyncEntry, error) {
	if e, ok := f.entries[entityType+"|"+externalID]; ok {
		return e, nil
	}
	return nil, postgres.ErrNotFound
}

type fakeCRM struct {
	upserts    []string
	activities []*provider.CRMActivity
	upsertErr  map[string]error
}

func (f *fakeCRM) Name() string { return "fake-crm" }

func (f *fakeCRM) UpsertContact(ctx context.Context, contact *domain.Contact) (string, error) {
	if err := f.upsertErr[contact.ID]; err != nil {
		return "", err
	}
	f.upserts = append(f.upserts, contact.ID)
	return "crm-" + contact.ID, nil
}

func (f *fakeCRM) FindContact(ctx context.Context, email string) (string, error) {
	return "", postgres.ErrNotFound
}

func (f *fakeCRM) LogActivity(ctx context.Context, activity *provider.CRMActivity) error {
	f.activities = append(f.activities, activity)
	return nil
}

func crmSyncFixture() (*CRMSyncHandler, *fakeSyncLedger, *fakeCRM) {
	contacts := &fakeContactReader{byID: map[string]*domain.Contact{
		"ct-1": {ID: "ct-1", Email: "ada@acme.io", FirstName: "Ada", LastName: "Okafor",
			Title: "VP Sales", Company: "Acme", DataQualityScore: 0.9, ICPScore: 0.8},
		"ct-2": {ID: "ct-2", Email: "sam@globex.io", FirstName: "Sam", LastName: "Iyer",
			Title: "Director of Ops", Company: "Globex", DataQualityScore: 0.7, ICPScore: 0.5},
	}}
	ledger := newFakeSyncLedger()
	crm := &fakeCRM{upsertErr: map[string]error{}}
	h := NewCRMSyncHandler(contacts, ledger, crm, 100, true)
	return h, ledger, crm
}

func crmSyncJob(t *testing.T, force bool, contactIDs ...string) *domain.Job {
	t.Helper()
	params, err := json.Marshal(CRMSyncParams{ContactIDs: contactIDs, Force: force})
	require.NoError(t, err)
	return &domain.Job{ID: "job-1", Type: domain.JobCRMSync, Parameters: params}
}

func TestCRMSyncRecordsEntriesByEntityAndID(t *testing.T) {
	h, ledger, crm := crmSyncFixture()

	raw, err := h.Execute(context.Background(), crmSyncJob(t, false, "ct-1", "ct-2"), &jobs.Progress{})
	require.NoError(t, err)

	var stats CRMSyncStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 2, stats.Synced)

	entry, err := ledger.Get(context.Background(), postgres.SyncEntityContact, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, postgres.SyncEntityContact, entry.EntityType)
	assert.Equal(t, "ct-1", entry.ExternalID)
	assert.Equal(t, "crm-ct-1", entry.RemoteID)
	assert.True(t, entry.Success)
	assert.NotEmpty(t, entry.SyncedHash)
	assert.Len(t, crm.upserts, 2)
}

func TestCRMSyncSkipsUnchangedContacts(t *testing.T) {
	h, _, crm := crmSyncFixture()
	ctx := context.Background()

	_, err := h.Execute(ctx, crmSyncJob(t, false, "ct-1"), &jobs.Progress{})
	require.NoError(t, err)

	raw, err := h.Execute(ctx, crmSyncJob(t, false, "ct-1"), &jobs.Progress{})
	require.NoError(t, err)

	var stats CRMSyncStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Synced)
	assert.Len(t, crm.upserts, 1, "unchanged contact must not hit the CRM again")

	// Force pushes it regardless of the recorded hash.
	raw, err = h.Execute(ctx, crmSyncJob(t, true, "ct-1"), &jobs.Progress{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.Synced)
	assert.Len(t, crm.upserts, 2)
}

func TestCRMSyncRecordsFailureAndContinues(t *testing.T) {
	h, ledger, crm := crmSyncFixture()
	crm.upsertErr["ct-1"] = errors.New("hubspot 503")

	raw, err := h.Execute(context.Background(), crmSyncJob(t, false, "ct-1", "ct-2"), &jobs.Progress{})
	require.NoError(t, err)

	var stats CRMSyncStats
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Synced)

	entry, err := ledger.Get(context.Background(), postgres.SyncEntityContact, "ct-1")
	require.NoError(t, err)
	assert.False(t, entry.Success)
	assert.Contains(t, entry.Error, "hubspot 503")
	assert.Empty(t, entry.RemoteID)

	// The failed contact is retried on the next run: its ledger row is
	// not a successful hash match.
	raw, err = h.Execute(context.Background(), crmSyncJob(t, false, "ct-1"), &jobs.Progress{})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &stats))
	assert.Equal(t, 1, stats.Failed, "still failing, still recorded")
}
