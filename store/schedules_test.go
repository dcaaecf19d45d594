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

func scheduleCols() []string {
	return []string{"id", "group_id", "name", "is_active", "created_by", "created_at", "updated_at"}
}

func layerCols() []string {
	return []string{
		"id", "schedule_id", "layer_index", "participants", "shift_length_minutes",
		"handoff_anchor", "restriction_start_minute", "restriction_end_minute", "created_at",
	}
}

func TestPGScheduleStore_CreateSchedule(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGScheduleStore(mockDB)
	now := time.Now().UTC()
	anchor := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	t.Run("active schedule displaces the previous one", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE schedules SET is_active = false").
			WithArgs("grp-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO schedules").
			WithArgs(sqlmock.AnyArg(), "grp-1", "Primary", true, "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectQuery("INSERT INTO schedule_layers").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 0, []byte(`["user-1","user-2"]`),
				10080, anchor, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectQuery("INSERT INTO schedule_layers").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 1, []byte(`["user-3"]`),
				1440, anchor, 540, 1020).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectCommit()

		sch, err := store.CreateSchedule(context.Background(), &db.Schedule{
			GroupID:   "grp-1",
			Name:      "Primary",
			IsActive:  true,
			CreatedBy: "user-1",
			Layers: []db.ScheduleLayer{
				{LayerIndex: 0, Participants: []string{"user-1", "user-2"},
					ShiftLengthMinutes: 10080, HandoffAnchor: anchor},
				{LayerIndex: 1, Participants: []string{"user-3"},
					ShiftLengthMinutes: 1440, HandoffAnchor: anchor,
					Restriction: &db.LayerRestriction{StartMinute: 540, EndMinute: 1020}},
			},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, sch.ID)
		assert.Equal(t, sch.ID, sch.Layers[0].ScheduleID)
		assert.NotEmpty(t, sch.Layers[1].ID)
	})

	t.Run("inactive schedule leaves the active one alone", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO schedules").
			WithArgs(sqlmock.AnyArg(), "grp-1", "Draft", false, nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		_, err := store.CreateSchedule(context.Background(), &db.Schedule{
			GroupID: "grp-1",
			Name:    "Draft",
		})
		require.NoError(t, err)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGScheduleStore_ActiveSchedule(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGScheduleStore(mockDB)
	now := time.Now().UTC()
	anchor := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	t.Run("schedule with layers", func(t *testing.T) {
		mock.ExpectQuery("FROM schedules").
			WithArgs("grp-1").
			WillReturnRows(sqlmock.NewRows(scheduleCols()).
				AddRow("sch-1", "grp-1", "Primary", true, "user-1", now, now))
		mock.ExpectQuery("FROM schedule_layers").
			WithArgs("sch-1").
			WillReturnRows(sqlmock.NewRows(layerCols()).
				AddRow("lay-1", "sch-1", 0, []byte(`["user-1","user-2"]`), 10080, anchor, nil, nil, now).
				AddRow("lay-2", "sch-1", 1, []byte(`["user-3"]`), 1440, anchor, 1260, 360, now))

		sch, err := store.ActiveSchedule(context.Background(), "grp-1")
		require.NoError(t, err)
		assert.Equal(t, "sch-1", sch.ID)
		require.Len(t, sch.Layers, 2)
		assert.Equal(t, []string{"user-1", "user-2"}, sch.Layers[0].Participants)
		assert.Nil(t, sch.Layers[0].Restriction)
		require.NotNil(t, sch.Layers[1].Restriction)
		assert.Equal(t, 1260, sch.Layers[1].Restriction.StartMinute)
		assert.Equal(t, 360, sch.Layers[1].Restriction.EndMinute)
	})

	t.Run("group without an active schedule is not found", func(t *testing.T) {
		mock.ExpectQuery("FROM schedules").
			WithArgs("grp-9").
			WillReturnError(sql.ErrNoRows)

		_, err := store.ActiveSchedule(context.Background(), "grp-9")
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGScheduleStore_UpdateSchedule(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGScheduleStore(mockDB)
	now := time.Now().UTC()
	anchor := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE schedules SET is_active = false").
		WithArgs("grp-1", "sch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("UPDATE schedules").
		WithArgs("sch-1", "Primary", true).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec("DELETE FROM schedule_layers").
		WithArgs("sch-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("INSERT INTO schedule_layers").
		WithArgs(sqlmock.AnyArg(), "sch-1", 0, []byte(`["user-4"]`), 1440, anchor, nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	_, err = store.UpdateSchedule(context.Background(), &db.Schedule{
		ID:       "sch-1",
		GroupID:  "grp-1",
		Name:     "Primary",
		IsActive: true,
		Layers: []db.ScheduleLayer{
			{LayerIndex: 0, Participants: []string{"user-4"},
				ShiftLengthMinutes: 1440, HandoffAnchor: anchor},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGScheduleStore_ListOverrides(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGScheduleStore(mockDB)
	now := time.Now().UTC()
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)

	cols := []string{"id", "group_id", "user_id", "start_time", "end_time", "reason",
		"created_by", "created_at", "name", "email"}

	mock.ExpectQuery("FROM schedule_overrides").
		WithArgs("grp-1", from, to).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ov-1", "grp-1", "user-2", from, from.Add(24*time.Hour), "covering for Alice",
				"user-1", now, "Bob", "bob@example.com").
			AddRow("ov-2", "grp-1", "user-3", from.Add(12*time.Hour), to, nil,
				nil, now.Add(time.Minute), nil, nil))

	overrides, err := store.ListOverrides(context.Background(), "grp-1", from, to)
	require.NoError(t, err)
	require.Len(t, overrides, 2)
	assert.Equal(t, "Bob", overrides[0].UserName)
	assert.Equal(t, "covering for Alice", overrides[0].Reason)
	assert.Equal(t, "", overrides[1].Reason)
	assert.Equal(t, "", overrides[1].UserName)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGScheduleStore_DeleteOverride(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGScheduleStore(mockDB)

	t.Run("scoped to the group", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM schedule_overrides").
			WithArgs("ov-1", "grp-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.DeleteOverride(context.Background(), "grp-1", "ov-1"))
	})

	t.Run("foreign group id misses", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM schedule_overrides").
			WithArgs("ov-1", "grp-2").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.DeleteOverride(context.Background(), "grp-2", "ov-1")
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
