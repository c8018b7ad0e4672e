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

func newOrphanMock(t *testing.T) (*OrphanRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewOrphanRepo(db), mock
}

func TestOrphanEnqueueEvictsOldest(t *testing.T) {
	repo, mock := newOrphanMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM orphaned_events").
		WithArgs(9999).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO orphaned_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event := &domain.OrphanedEvent{
		EventData:   json.RawMessage(`{"type":"opened"}`),
		NextRetryAt: time.Now().Add(5 * time.Second),
	}
	evicted, err := repo.Enqueue(context.Background(), event, 10000)
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	assert.NotEmpty(t, event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrphanDueBatch(t *testing.T) {
	repo, mock := newOrphanMock(t)

	now := time.Now()
	mock.ExpectQuery("next_retry_at <= NOW").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(
			[]string{"id", "event_data", "attempts", "next_retry_at", "queued_at"}).
			AddRow("o-1", []byte(`{"type":"opened"}`), 2, now, now.Add(-time.Minute)))

	events, err := repo.DueBatch(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "o-1", events[0].ID)
	assert.Equal(t, 2, events[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrphanPromoteToDeadLetter(t *testing.T) {
	repo, mock := newOrphanMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dead_letter_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM orphaned_events").
		WithArgs("o-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	event := &domain.OrphanedEvent{
		ID:        "o-1",
		EventData: json.RawMessage(`{"type":"clicked"}`),
		Attempts:  6,
		QueuedAt:  time.Now().Add(-2 * time.Hour),
	}
	err := repo.PromoteToDeadLetter(context.Background(), event, "no matching delivery record after 6 attempts")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterStatusOnlyFromFailed(t *testing.T) {
	repo, mock := newOrphanMock(t)

	mock.ExpectExec("UPDATE dead_letter_events SET status").
		WithArgs("dl-1", domain.DeadLetterReplayed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetDeadLetterStatus(context.Background(), "dl-1", domain.DeadLetterReplayed)
	assert.ErrorIs(t, err, ErrNotFound, "already-dispositioned entries must not change")
	assert.NoError(t, mock.ExpectationsWereMet())
}
