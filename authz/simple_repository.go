package authz

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

// SimpleDirectory implements Directory using SQL
type SimpleDirectory struct {
	db *sql.DB
}

// NewSimpleDirectory creates a new SimpleDirectory
func NewSimpleDirectory(db *sql.DB) *SimpleDirectory {
	return &SimpleDirectory{db: db}
}

// Ensure SimpleDirectory implements Directory
var _ Directory = (*SimpleDirectory)(nil)

// OrgExists checks if an organization exists
func (d *SimpleDirectory) OrgExists(ctx context.Context, orgID string) bool {
	var exists bool
	_ = d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`, orgID).Scan(&exists)
	return exists
}

// UserExists checks if a user exists
func (d *SimpleDirectory) UserExists(ctx context.Context, userID string) bool {
	var exists bool
	_ = d.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists
}

// ProjectOrg returns the organization a project belongs to
func (d *SimpleDirectory) ProjectOrg(ctx context.Context, projectID string) (string, error) {
	var orgID string
	err := d.db.QueryRowContext(ctx, `SELECT organization_id FROM projects WHERE id = $1`, projectID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperr.New(apperr.NotFound, "project not found")
		}
		return "", fmt.Errorf("failed to resolve project org: %w", err)
	}
	return orgID, nil
}

// GroupOrg returns the organization a group belongs to
func (d *SimpleDirectory) GroupOrg(ctx context.Context, groupID string) (string, error) {
	var orgID string
	err := d.db.QueryRowContext(ctx, `SELECT organization_id FROM groups WHERE id = $1`, groupID).Scan(&orgID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperr.New(apperr.NotFound, "group not found")
		}
		return "", fmt.Errorf("failed to resolve group org: %w", err)
	}
	return orgID, nil
}

// ResourceOrg resolves any membership resource to its organization
func (d *SimpleDirectory) ResourceOrg(ctx context.Context, resourceType ResourceType, resourceID string) (string, error) {
	switch resourceType {
	case ResourceOrg:
		return resourceID, nil
	case ResourceProject:
		return d.ProjectOrg(ctx, resourceID)
	case ResourceGroup:
		return d.GroupOrg(ctx, resourceID)
	default:
		return "", apperr.Newf(apperr.BadRequest, "unknown resource type: %s", resourceType)
	}
}

// NewSimpleBackend creates all SQL-backed authorization pieces at once.
// Returns: Authorizer, MembershipManager, Directory
func NewSimpleBackend(db *sql.DB) (Authorizer, MembershipManager, Directory) {
	return NewSimpleAuthorizer(db),
		NewSimpleMembershipManager(db),
		NewSimpleDirectory(db)
}
