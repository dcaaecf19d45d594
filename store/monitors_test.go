package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

func TestPGMonitorStore_Create(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGMonitorStore(mockDB)
	now := time.Now().UTC()

	mock.ExpectQuery("INSERT INTO monitors").
		WithArgs(sqlmock.AnyArg(), "api", "https://api.example.com/health", "GET", 60, true,
			"org-1", nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	m, err := store.Create(context.Background(), &db.Monitor{
		Name:           "api",
		URL:            "https://api.example.com/health",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "GET", m.Method)
	assert.Equal(t, 60, m.IntervalSeconds)
	assert.True(t, m.IsActive)
	assert.Nil(t, m.IsUp)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGMonitorStore_RecordCheck(t *testing.T) {
	now := time.Now().UTC()

	failedCheck := func() *db.MonitorCheck {
		return &db.MonitorCheck{
			MonitorID: "mon-1",
			IsUp:      false,
			LatencyMS: 812,
			Status:    503,
			Error:     "connection refused",
			CheckedAt: now,
		}
	}

	expectWrite := func(mock sqlmock.Sqlmock) {
		mock.ExpectExec("INSERT INTO monitor_checks").
			WithArgs(sqlmock.AnyArg(), "mon-1", false, 812, 503, "connection refused", nil, now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE monitors").
			WithArgs("mon-1", false, 503, 812, "connection refused", now).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	t.Run("first check has no previous state", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_up FROM monitors").
			WithArgs("mon-1", "org-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_up"}).AddRow(nil))
		expectWrite(mock)

		prev, err := NewPGMonitorStore(mockDB).RecordCheck(context.Background(), "org-1", failedCheck())
		require.NoError(t, err)
		assert.Nil(t, prev)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("up to down reports previous true", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_up FROM monitors").
			WithArgs("mon-1", "org-1").
			WillReturnRows(sqlmock.NewRows([]string{"is_up"}).AddRow(true))
		expectWrite(mock)

		chk := failedCheck()
		prev, err := NewPGMonitorStore(mockDB).RecordCheck(context.Background(), "org-1", chk)
		require.NoError(t, err)
		require.NotNil(t, prev)
		assert.True(t, *prev)
		assert.NotEmpty(t, chk.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("foreign monitor id is not found", func(t *testing.T) {
		mockDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer mockDB.Close()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT is_up FROM monitors").
			WithArgs("mon-1", "org-2").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err = NewPGMonitorStore(mockDB).RecordCheck(context.Background(), "org-2", failedCheck())
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPGMonitorStore_ListChecks(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGMonitorStore(mockDB)
	now := time.Now().UTC()

	cols := []string{"id", "monitor_id", "is_up", "latency_ms", "status", "error", "location", "checked_at"}

	mock.ExpectQuery("FROM monitor_checks").
		WithArgs("mon-1", 100).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("chk-2", "mon-1", false, 812, 503, "connection refused", "eu-west", now).
			AddRow("chk-1", "mon-1", true, 92, 200, nil, nil, now.Add(-time.Minute)))

	checks, err := store.ListChecks(context.Background(), "mon-1", 0)
	require.NoError(t, err)
	require.Len(t, checks, 2)
	assert.False(t, checks[0].IsUp)
	assert.Equal(t, "connection refused", checks[0].Error)
	assert.Equal(t, "", checks[1].Error)

	assert.NoError(t, mock.ExpectationsWereMet())
}
