// Package authz provides relationship-based authorization. A single
// membership relation (subject, role, object) backs every access question,
// with separated concerns:
// - Authorizer: answers permission checks (swappable to OpenFGA/SpiceDB)
// - MembershipManager: manages user-resource relationships
// - Scope: computes the per-request predicate restricting list queries
package authz

import (
	"context"
)

// Role is a subject's standing on a resource. The strings are wire
// contracts: they live in membership rows and check constraints.
type Role string

const (
	RoleOwner  Role = "owner"  // full control, org only
	RoleAdmin  Role = "admin"  // manage members and settings
	RoleMember Role = "member" // work with resources
	RoleViewer Role = "viewer" // read only
)

// Action is an operation class checked against a role's grants.
type Action string

const (
	ActionView   Action = "view"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionManage Action = "manage" // membership and settings administration
)

// ResourceType is the object side of the membership relation.
type ResourceType string

const (
	ResourceOrg     ResourceType = "org"
	ResourceProject ResourceType = "project"
	ResourceGroup   ResourceType = "group"
)

// Authorizer answers one question: is this allowed. Implementations must
// not mutate anything; writes go through MembershipManager. The Check
// signature is tuple-shaped so a relationship engine can implement it.
type Authorizer interface {
	// Check(ctx, "user-123", "update", "project", "proj-456")
	Check(ctx context.Context, userID string, action Action, resourceType ResourceType, resourceID string) bool

	CanAccessOrg(ctx context.Context, userID, orgID string) bool
	CanAccessProject(ctx context.Context, userID, projectID string) bool
	CanPerformOrgAction(ctx context.Context, userID, orgID string, action Action) bool
	CanPerformProjectAction(ctx context.Context, userID, projectID string, action Action) bool

	// Role lookups back API responses that show the caller their standing.
	GetOrgRole(ctx context.Context, userID, orgID string) Role
	GetProjectRole(ctx context.Context, userID, projectID string) Role
}

func grants(actions ...Action) map[Action]bool {
	m := make(map[Action]bool, len(actions))
	for _, a := range actions {
		m[a] = true
	}
	return m
}

// OrgPermissions is the org-level matrix. Absent cells deny: admins run
// the org day to day, but only owners can delete it.
var OrgPermissions = map[Role]map[Action]bool{
	RoleOwner:  grants(ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionManage),
	RoleAdmin:  grants(ActionView, ActionCreate, ActionUpdate, ActionManage),
	RoleMember: grants(ActionView, ActionCreate),
	RoleViewer: grants(ActionView),
}

// ProjectPermissions is the project-level matrix. There is no project
// owner: org owners are mapped to project admin before lookup, so an
// owner row here would be unreachable.
var ProjectPermissions = map[Role]map[Action]bool{
	RoleAdmin:  grants(ActionView, ActionCreate, ActionUpdate, ActionDelete, ActionManage),
	RoleMember: grants(ActionView, ActionCreate),
	RoleViewer: grants(ActionView),
}

// HasPermission reports whether a role's grants include an action.
// Unknown roles and ungranted actions both deny.
func HasPermission(matrix map[Role]map[Action]bool, role Role, action Action) bool {
	return matrix[role][action]
}

// MapOrgRoleToProjectRole translates an inherited org role into the
// project vocabulary. Projects have no owner, so owners act as admins.
func MapOrgRoleToProjectRole(orgRole Role) Role {
	switch orgRole {
	case RoleOwner, RoleAdmin:
		return RoleAdmin
	case RoleMember:
		return RoleMember
	case RoleViewer:
		return RoleViewer
	default:
		return ""
	}
}
