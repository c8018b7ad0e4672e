package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdempotencyMock(t *testing.T) (*IdempotencyRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewIdempotencyRepo(db), mock
}

func TestClaimFirstWriterWins(t *testing.T) {
	repo, mock := newIdempotencyMock(t)

	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs("outreach-send", "inst-1:ct-1:0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	claimed, err := repo.Claim(context.Background(), "outreach-send", "inst-1:ct-1:0")
	require.NoError(t, err)
	assert.True(t, claimed)

	// The conflicting insert affects no rows; the second claimant loses.
	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs("outreach-send", "inst-1:ct-1:0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	claimed, err = repo.Claim(context.Background(), "outreach-send", "inst-1:ct-1:0")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseDropsUnfulfilledClaim(t *testing.T) {
	repo, mock := newIdempotencyMock(t)

	mock.ExpectExec("DELETE FROM idempotency_records").
		WithArgs("outreach-send", "inst-1:ct-1:0").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Release(context.Background(), "outreach-send", "inst-1:ct-1:0"))
	require.NoError(t, mock.ExpectationsWereMet())
}
