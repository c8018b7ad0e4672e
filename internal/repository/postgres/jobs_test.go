package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/outreach-engine/internal/domain"
)

func newMock(t *testing.T) (*JobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJobRepo(db), mock
}

func TestJobEnqueue(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM jobs WHERE status = 'pending'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectExec("INSERT INTO jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job := &domain.Job{Type: domain.JobImport, Priority: domain.PriorityHigh,
		Parameters: json.RawMessage(`{"source":"s3://bucket/file.csv"}`)}
	require.NoError(t, repo.Enqueue(context.Background(), job, 100))
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobPending, job.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobEnqueueQueueFull(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM jobs WHERE status = 'pending'").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100))
	mock.ExpectRollback()

	err := repo.Enqueue(context.Background(), &domain.Job{Type: domain.JobEnrich}, 100)
	assert.ErrorContains(t, err, "queue full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobClaim(t *testing.T) {
	repo, mock := newMock(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "type", "priority", "parameters",
		"attempts", "cancel_requested", "created_at"}).
		AddRow("job-1", "import", 20, []byte(`{}`), 1, false, now).
		AddRow("job-2", "enrich", 10, []byte(`{}`), 1, false, now)

	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs("lease-abc", 10).
		WillReturnRows(rows)

	jobs, err := repo.Claim(context.Background(), "lease-abc", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, domain.JobProcessing, jobs[0].Status)
	assert.Equal(t, "lease-abc", jobs[0].LeaseID)
	assert.Equal(t, domain.JobImport, jobs[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCancelPending(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM jobs WHERE id = \\$1 FOR UPDATE").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("SET status = 'cancelled'").
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := repo.RequestCancel(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCancelProcessingSetsFlag(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM jobs WHERE id = \\$1 FOR UPDATE").
		WithArgs("job-2").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec("SET cancel_requested = true").
		WithArgs("job-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := repo.RequestCancel(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobProcessing, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobReclaimStale(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("SET status = 'pending'").
		WithArgs(300).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.ReclaimStale(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobCompleteRequiresProcessing(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec("SET status = 'completed'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Complete(context.Background(), "job-9", json.RawMessage(`{"imported":10}`))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
