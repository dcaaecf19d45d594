package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/db"
	"github.com/klaxonhq/klaxon/internal/apperr"
)

// GroupStore persists on-call groups. Member records live in the memberships
// table owned by the authz package; this store only counts them for display.
type GroupStore interface {
	Create(ctx context.Context, g *db.Group) (*db.Group, error)
	Get(ctx context.Context, id string) (*db.Group, error)
	List(ctx context.Context, orgID string) ([]db.Group, error)
	Update(ctx context.Context, g *db.Group) (*db.Group, error)
	Delete(ctx context.Context, id string) error
}

type PGGroupStore struct {
	PG *sql.DB
}

var _ GroupStore = (*PGGroupStore)(nil)

func NewPGGroupStore(pg *sql.DB) *PGGroupStore {
	return &PGGroupStore{PG: pg}
}

const groupSelect = `
	SELECT g.id, g.name, g.description, g.visibility, g.is_active,
		   g.created_by, g.organization_id, g.project_id, g.created_at, g.updated_at,
		   COALESCE(mc.member_count, 0) as member_count
	FROM groups g
	LEFT JOIN (
		SELECT resource_id, COUNT(*) as member_count
		FROM memberships
		WHERE resource_type = 'group'
		GROUP BY resource_id
	) mc ON g.id = mc.resource_id`

// Create inserts the group and adds the creator as its admin in one
// transaction, so a group is never ownerless.
func (s *PGGroupStore) Create(ctx context.Context, g *db.Group) (*db.Group, error) {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	if g.Visibility == "" {
		g.Visibility = db.GroupVisibilityPrivate
	}
	g.IsActive = true

	tx, err := s.PG.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (id, name, description, visibility, is_active,
			created_by, organization_id, project_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		g.ID, g.Name, g.Description, g.Visibility, g.IsActive,
		nullStr(g.CreatedBy), nullStr(g.OrganizationID), nullStr(g.ProjectID),
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert group: %w", err)
	}

	if g.CreatedBy != "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memberships (user_id, resource_type, resource_id, role, invited_by)
			VALUES ($1, 'group', $2, 'admin', $1)`,
			g.CreatedBy, g.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to add creator membership: %w", err)
		}
		g.MemberCount = 1
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return g, nil
}

func (s *PGGroupStore) Get(ctx context.Context, id string) (*db.Group, error) {
	row := s.PG.QueryRowContext(ctx, groupSelect+` WHERE g.id = $1`, id)

	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "group %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// List returns the organization's active groups with member counts.
func (s *PGGroupStore) List(ctx context.Context, orgID string) ([]db.Group, error) {
	rows, err := s.PG.QueryContext(ctx,
		groupSelect+` WHERE g.organization_id = $1 AND g.is_active ORDER BY g.created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	groups := make([]db.Group, 0)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func (s *PGGroupStore) Update(ctx context.Context, g *db.Group) (*db.Group, error) {
	err := s.PG.QueryRowContext(ctx, `
		UPDATE groups
		SET name = $2, description = $3, visibility = $4, is_active = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		g.ID, g.Name, g.Description, g.Visibility, g.IsActive,
	).Scan(&g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.Newf(apperr.NotFound, "group %s not found", g.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update group: %w", err)
	}
	return g, nil
}

// Delete deactivates the group. Rows stay for incident history.
func (s *PGGroupStore) Delete(ctx context.Context, id string) error {
	res, err := s.PG.ExecContext(ctx,
		`UPDATE groups SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return apperr.Newf(apperr.NotFound, "group %s not found", id)
	}
	return nil
}

func scanGroup(row rowScanner) (*db.Group, error) {
	var g db.Group
	var description, createdBy, orgID, projectID sql.NullString

	err := row.Scan(&g.ID, &g.Name, &description, &g.Visibility, &g.IsActive,
		&createdBy, &orgID, &projectID, &g.CreatedAt, &g.UpdatedAt, &g.MemberCount)
	if err != nil {
		return nil, err
	}
	g.Description = strOrEmpty(description)
	g.CreatedBy = strOrEmpty(createdBy)
	g.OrganizationID = strOrEmpty(orgID)
	g.ProjectID = strOrEmpty(projectID)
	return &g, nil
}
