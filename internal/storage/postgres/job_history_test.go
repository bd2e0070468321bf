package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/helios-gateway/internal/jobs"
)

func TestStartInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h, err := NewHistoryWithPool(mock, "job_runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := jobs.Run{ID: "job-1", Name: "seq", Description: "demo", Status: jobs.StatusInProgress, StartedAt: now}

	mock.ExpectExec("INSERT INTO job_runs").
		WithArgs("job-1", "seq", "demo", "IN_PROGRESS", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, h.Start(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishUpdatesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h, err := NewHistoryWithPool(mock, "")
	require.NoError(t, err)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE job_runs SET").
		WithArgs("FAILED", "timeout", "deadline exceeded", now, "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, h.Finish(context.Background(), "job-1", jobs.OutcomeTimeout, "deadline exceeded", now))

	mock.ExpectExec("UPDATE job_runs SET").
		WithArgs("DONE", "completed", "", now, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = h.Finish(context.Background(), "ghost", jobs.OutcomeCompleted, "", now)
	require.ErrorIs(t, err, ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h, err := NewHistoryWithPool(mock, "runs")
	require.NoError(t, err)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Second)

	rows := pgxmock.NewRows([]string{"id", "name", "description", "status", "outcome", "error", "started_at", "finished_at"}).
		AddRow("job-2", "b", "", "DONE", "completed", "", started, &finished)
	mock.ExpectQuery("SELECT id, name, description, status").
		WithArgs(5).
		WillReturnRows(rows)

	runs, err := h.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "job-2", runs[0].ID)
	require.Equal(t, jobs.StatusDone, runs[0].Status)
	require.Equal(t, jobs.OutcomeCompleted, runs[0].Outcome)
	require.NotNil(t, runs[0].FinishedAt)
	require.True(t, finished.Equal(*runs[0].FinishedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h, err := NewHistoryWithPool(mock, "job_runs")
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS job_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, h.EnsureSchema(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("refused"))
	require.Error(t, h.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistoryValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHistory(context.Background(), Config{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHistoryWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewHistoryWithPool(nil, "runs")
	require.Error(t, err)
}
