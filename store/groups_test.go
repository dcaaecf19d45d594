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

func groupCols() []string {
	return []string{"id", "name", "description", "visibility", "is_active",
		"created_by", "organization_id", "project_id", "created_at", "updated_at", "member_count"}
}

func TestPGGroupStore_Create(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGGroupStore(mockDB)
	now := time.Now().UTC()

	t.Run("creator becomes the group admin", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO groups").
			WithArgs(sqlmock.AnyArg(), "SRE", "", "private", true, "user-1", "org-1", nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectExec("INSERT INTO memberships").
			WithArgs("user-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		g, err := store.Create(context.Background(), &db.Group{
			Name:           "SRE",
			CreatedBy:      "user-1",
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
		assert.Equal(t, db.GroupVisibilityPrivate, g.Visibility)
		assert.True(t, g.IsActive)
		assert.Equal(t, 1, g.MemberCount)
	})

	t.Run("seeded group skips the membership insert", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO groups").
			WithArgs(sqlmock.AnyArg(), "Platform", "", "organization", true, nil, "org-1", nil).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
		mock.ExpectCommit()

		g, err := store.Create(context.Background(), &db.Group{
			Name:           "Platform",
			Visibility:     db.GroupVisibilityOrganization,
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, g.MemberCount)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGroupStore_Get(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGGroupStore(mockDB)
	now := time.Now().UTC()

	t.Run("group with member count", func(t *testing.T) {
		mock.ExpectQuery("FROM groups").
			WithArgs("grp-1").
			WillReturnRows(sqlmock.NewRows(groupCols()).
				AddRow("grp-1", "SRE", "keeps the lights on", "private", true,
					"user-1", "org-1", nil, now, now, 4))

		g, err := store.Get(context.Background(), "grp-1")
		require.NoError(t, err)
		assert.Equal(t, "SRE", g.Name)
		assert.Equal(t, 4, g.MemberCount)
		assert.Equal(t, "", g.ProjectID)
	})

	t.Run("missing group is not found", func(t *testing.T) {
		mock.ExpectQuery("FROM groups").
			WithArgs("grp-9").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get(context.Background(), "grp-9")
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGroupStore_Delete(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPGGroupStore(mockDB)

	t.Run("deactivates instead of removing", func(t *testing.T) {
		mock.ExpectExec("UPDATE groups SET is_active = false").
			WithArgs("grp-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.Delete(context.Background(), "grp-1"))
	})

	t.Run("missing group is not found", func(t *testing.T) {
		mock.ExpectExec("UPDATE groups SET is_active = false").
			WithArgs("grp-9").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.Delete(context.Background(), "grp-9")
		assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
