package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeorch/engine/internal/model"
	"github.com/vibeorch/engine/internal/orcherr"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: sqlx.NewDb(db, "postgres")}, mock
}

func TestCreateInsertsPendingJob(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job_1", string(model.JobPending), sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	rows := sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at", "started_at", "completed_at", "progress", "ancestor_job_id", "retry_count", "error_kind", "error_message"}).
		AddRow("job_1", "pending", time.Now(), time.Now(), nil, nil, 0, nil, 0, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1").WithArgs("job_1").WillReturnRows(rows)

	j, err := s.Create(context.Background(), "job_1", "")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, j.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUnknownJobReturnsStateError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1").WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, orcherr.IsKind(err, orcherr.KindState))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCommitsStatusAndLogRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at", "started_at", "completed_at", "progress", "ancestor_job_id", "retry_count", "error_kind", "error_message"}).
		AddRow("job_1", "pending", time.Now(), time.Now(), nil, nil, 0, nil, 0, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1 FOR UPDATE").WithArgs("job_1").WillReturnRows(rows)
	mock.ExpectExec("UPDATE jobs SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO job_transitions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	finalRows := sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at", "started_at", "completed_at", "progress", "ancestor_job_id", "retry_count", "error_kind", "error_message"}).
		AddRow("job_1", "running", time.Now(), time.Now(), time.Now(), nil, 0, nil, 0, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1").WithArgs("job_1").WillReturnRows(finalRows)

	j, err := s.Transition(context.Background(), "job_1", model.JobRunning, "started")
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, j.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionRollsBackOnIllegalMove(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	rows := sqlmock.NewRows([]string{"id", "status", "created_at", "updated_at", "started_at", "completed_at", "progress", "ancestor_job_id", "retry_count", "error_kind", "error_message"}).
		AddRow("job_1", "completed", time.Now(), time.Now(), nil, time.Now(), 100, nil, 0, nil, nil)
	mock.ExpectQuery("SELECT \\* FROM jobs WHERE id = \\$1 FOR UPDATE").WithArgs("job_1").WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := s.Transition(context.Background(), "job_1", model.JobRunning, "")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
