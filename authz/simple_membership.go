package authz

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

// membershipCols is the scan contract shared by every membership query;
// scanMemberships depends on this column order.
const membershipCols = `id, user_id, resource_type, resource_id, role, created_at, updated_at, COALESCE(invited_by::text, '')`

const (
	addMemberStmt = `
		INSERT INTO memberships (id, user_id, resource_type, resource_id, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, resource_type, resource_id)
		DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`

	updateRoleStmt = `
		UPDATE memberships
		SET role = $1, updated_at = $2
		WHERE user_id = $3 AND resource_type = $4 AND resource_id = $5`

	removeMemberStmt = `
		DELETE FROM memberships
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3`

	// resourceMembersQuery joins user details in and sorts owners first so
	// member lists render in rank order.
	resourceMembersQuery = `
		SELECT
			m.id::text, m.user_id::text, m.resource_type, m.resource_id::text, m.role,
			m.created_at, m.updated_at, COALESCE(m.invited_by::text, ''),
			COALESCE(u.name, ''), COALESCE(u.email, '')
		FROM memberships m
		LEFT JOIN users u ON m.user_id = u.id
		WHERE m.resource_type = $1 AND m.resource_id = $2
		ORDER BY
			CASE m.role
				WHEN 'owner' THEN 1
				WHEN 'admin' THEN 2
				WHEN 'member' THEN 3
				WHEN 'viewer' THEN 4
			END,
			m.created_at`
)

// SimpleMembershipManager is the SQL write side of the membership relation.
type SimpleMembershipManager struct {
	db *sql.DB
}

func NewSimpleMembershipManager(db *sql.DB) *SimpleMembershipManager {
	return &SimpleMembershipManager{db: db}
}

var _ MembershipManager = (*SimpleMembershipManager)(nil)

// AddMember grants a role. Re-adding an existing member updates the role
// in place rather than failing on the uniqueness constraint.
func (m *SimpleMembershipManager) AddMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role) error {
	now := time.Now().UTC()
	_, err := m.db.ExecContext(ctx, addMemberStmt, uuid.New().String(), userID, resourceType, resourceID, role, now, now)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

func (m *SimpleMembershipManager) UpdateMemberRole(ctx context.Context, userID string, resourceType ResourceType, resourceID string, newRole Role) error {
	result, err := m.db.ExecContext(ctx, updateRoleStmt, newRole, time.Now().UTC(), userID, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.New(apperr.NotFound, "membership not found")
	}
	return nil
}

func (m *SimpleMembershipManager) RemoveMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) error {
	result, err := m.db.ExecContext(ctx, removeMemberStmt, userID, resourceType, resourceID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apperr.New(apperr.NotFound, "membership not found")
	}
	return nil
}

func (m *SimpleMembershipManager) GetMembership(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (*Membership, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT `+membershipCols+`
		FROM memberships
		WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3
	`, userID, resourceType, resourceID)

	var mem Membership
	err := row.Scan(&mem.ID, &mem.UserID, &mem.ResourceType, &mem.ResourceID, &mem.Role, &mem.CreatedAt, &mem.UpdatedAt, &mem.InvitedBy)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.New(apperr.NotFound, "membership not found")
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &mem, nil
}

// GetUserMemberships returns every membership a user holds, newest first,
// across orgs, projects, and groups.
func (m *SimpleMembershipManager) GetUserMemberships(ctx context.Context, userID string) ([]Membership, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+membershipCols+`
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memberships: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows, false)
}

func (m *SimpleMembershipManager) GetResourceMembers(ctx context.Context, resourceType ResourceType, resourceID string) ([]Membership, error) {
	rows, err := m.db.QueryContext(ctx, resourceMembersQuery, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	return scanMemberships(rows, true)
}

// CountMembersWithRole backs the last-owner guard in MembershipService.
func (m *SimpleMembershipManager) CountMembersWithRole(ctx context.Context, resourceType ResourceType, resourceID string, role Role) (int, error) {
	var count int
	err := m.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships
		WHERE resource_type = $1 AND resource_id = $2 AND role = $3
	`, resourceType, resourceID, role).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}

// IsMember reports whether a user holds any role on a resource. Lookup
// failures deny.
func (m *SimpleMembershipManager) IsMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) bool {
	var exists bool
	err := m.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM memberships
			WHERE user_id = $1 AND resource_type = $2 AND resource_id = $3
		)
	`, userID, resourceType, resourceID).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}

// scanMemberships collects rows in membershipCols order; withUser expects
// the two extra columns resourceMembersQuery appends.
func scanMemberships(rows *sql.Rows, withUser bool) ([]Membership, error) {
	memberships := make([]Membership, 0)
	for rows.Next() {
		var mem Membership
		dest := []interface{}{&mem.ID, &mem.UserID, &mem.ResourceType, &mem.ResourceID, &mem.Role, &mem.CreatedAt, &mem.UpdatedAt, &mem.InvitedBy}
		if withUser {
			dest = append(dest, &mem.Name, &mem.Email)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, mem)
	}
	return memberships, rows.Err()
}
