package authz

import (
	"context"
	"database/sql"
	"log"
)

// orgRoleQuery resolves a direct org membership. Org roles are never
// inherited from anywhere, so a single lookup settles it.
const orgRoleQuery = `
	SELECT role FROM memberships
	WHERE user_id = $1 AND resource_type = 'org' AND resource_id = $2`

// projectRoleQuery resolves the effective project role in one round trip.
// Priority 0 is a direct project membership; priority 1 is the org role,
// admitted only while the project is open (no project memberships at all).
// One explicit member closes the project to everyone else, org admins and
// owners included.
const projectRoleQuery = `
	WITH project_info AS (
		SELECT
			p.organization_id,
			EXISTS(
				SELECT 1 FROM memberships
				WHERE resource_type = 'project' AND resource_id = $2
			) AS has_explicit_members
		FROM projects p
		WHERE p.id = $2
	),
	explicit_role AS (
		SELECT role, 0 AS priority, false AS is_inherited FROM memberships
		WHERE user_id = $1 AND resource_type = 'project' AND resource_id = $2
	),
	inherited_role AS (
		SELECT m.role, 1 AS priority, true AS is_inherited FROM memberships m
		JOIN project_info pi ON m.resource_id = pi.organization_id
		WHERE m.user_id = $1
		AND m.resource_type = 'org'
		AND NOT pi.has_explicit_members
	),
	all_roles AS (
		SELECT role, priority, is_inherited FROM explicit_role
		UNION ALL
		SELECT role, priority, is_inherited FROM inherited_role
	)
	SELECT role, is_inherited FROM all_roles ORDER BY priority LIMIT 1`

// SimpleAuthorizer answers permission checks with direct SQL against the
// memberships table. It is read-only; writes go through MembershipManager.
// The Check signature matches relationship-based engines (OpenFGA, SpiceDB)
// so a future swap does not touch callers.
type SimpleAuthorizer struct {
	db *sql.DB
}

func NewSimpleAuthorizer(db *sql.DB) *SimpleAuthorizer {
	return &SimpleAuthorizer{db: db}
}

var _ Authorizer = (*SimpleAuthorizer)(nil)

// Check dispatches a generic (user, action, resource) tuple. Group actions
// have no independent permission matrix; they resolve through the owning
// org, so only org and project tuples are answerable here.
func (a *SimpleAuthorizer) Check(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string) bool {
	switch resourceType {
	case ResourceOrg:
		return a.CanPerformOrgAction(ctx, userID, resourceID, action)
	case ResourceProject:
		return a.CanPerformProjectAction(ctx, userID, resourceID, action)
	default:
		return false
	}
}

// CanAccessOrg reports whether the user holds any role in the org.
func (a *SimpleAuthorizer) CanAccessOrg(ctx context.Context, userID, orgID string) bool {
	return a.GetOrgRole(ctx, userID, orgID) != ""
}

// GetOrgRole returns the user's org role, or "" for non-members.
func (a *SimpleAuthorizer) GetOrgRole(ctx context.Context, userID, orgID string) Role {
	var role string
	err := a.db.QueryRowContext(ctx, orgRoleQuery, userID, orgID).Scan(&role)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Error getting org role: %v", err)
		}
		return ""
	}
	return Role(role)
}

func (a *SimpleAuthorizer) CanPerformOrgAction(ctx context.Context, userID, orgID string, action Action) bool {
	role := a.GetOrgRole(ctx, userID, orgID)
	if role == "" {
		return false
	}
	return HasPermission(OrgPermissions, role, action)
}

// CanAccessProject reports whether the user can see the project at all,
// directly or through the org.
func (a *SimpleAuthorizer) CanAccessProject(ctx context.Context, userID, projectID string) bool {
	return a.GetProjectRole(ctx, userID, projectID) != ""
}

// GetProjectRole returns the user's effective project role, or "" when the
// project is invisible to them. Inherited org roles are mapped down to the
// project vocabulary (org owner acts as project admin).
func (a *SimpleAuthorizer) GetProjectRole(ctx context.Context, userID, projectID string) Role {
	var role sql.NullString
	var isInherited bool
	err := a.db.QueryRowContext(ctx, projectRoleQuery, userID, projectID).Scan(&role, &isInherited)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("Error getting project role: %v", err)
		}
		return ""
	}
	if !role.Valid || role.String == "" {
		return ""
	}
	if isInherited {
		return MapOrgRoleToProjectRole(Role(role.String))
	}
	return Role(role.String)
}

func (a *SimpleAuthorizer) CanPerformProjectAction(ctx context.Context, userID, projectID string, action Action) bool {
	role := a.GetProjectRole(ctx, userID, projectID)
	if role == "" {
		return false
	}
	return HasPermission(ProjectPermissions, role, action)
}
