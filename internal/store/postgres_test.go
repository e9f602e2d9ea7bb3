package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/0xPuncker/pos-scheduler/pkg/types"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobRowColumns = []string{"id", "name", "description", "table_name", "schedule", "is_enabled", "created_at", "updated_at"}

func newPostgresMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, DriverPostgres), mock
}

func TestPostgresStartRunUniqueViolation(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(7, "sync-inventory", "", "products", "*/5 * * * *", true, now, now))
	mock.ExpectQuery(`INSERT INTO job_logs .* WHERE job_id = \$5 AND status = \$6`).
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	_, err := s.StartRun(context.Background(), 7, types.TriggerManual)
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStartRunNoRows(t *testing.T) {
	s, mock := newPostgresMock(t)
	now := time.Now()

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).AddRow(7, "sync-inventory", "", "", "*/5 * * * *", true, now, now))
	mock.ExpectQuery(`INSERT INTO job_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.StartRun(context.Background(), 7, types.TriggerSchedule)
	assert.ErrorIs(t, err, types.ErrAlreadyRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompleteRunTwice(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectExec(`UPDATE job_logs .* WHERE id = \$7 AND status = \$8`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT status FROM job_logs WHERE id = \$1`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("SUCCESS"))

	err := s.CompleteRun(context.Background(), types.RunHandle{LogID: 11, JobID: 7, StartTime: time.Now()}, types.RunResult{Status: types.StatusFailed, Error: "boom"})
	assert.ErrorIs(t, err, types.ErrInvalidState)
	assert.Contains(t, err.Error(), "SUCCESS")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJobError(t *testing.T) {
	s, mock := newPostgresMock(t)

	mock.ExpectQuery(`FROM jobs WHERE name = \$1`).
		WithArgs("sync-inventory").
		WillReturnError(sql.ErrConnDone)

	_, err := s.GetJobByName(context.Background(), "sync-inventory")
	require.Error(t, err)
	assert.False(t, errors.Is(err, types.ErrJobNotFound))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: pqUniqueViolation}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.True(t, isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}
