package authz

import (
	"context"
)

// Directory answers existence and ownership questions about the resources
// memberships attach to. It is purely a lookup layer; no authorization
// logic lives here.
type Directory interface {
	// OrgExists checks if an organization exists
	OrgExists(ctx context.Context, orgID string) bool

	// UserExists checks if a user exists
	UserExists(ctx context.Context, userID string) bool

	// ProjectOrg returns the organization a project belongs to
	ProjectOrg(ctx context.Context, projectID string) (string, error)

	// GroupOrg returns the organization a group belongs to
	GroupOrg(ctx context.Context, groupID string) (string, error)

	// ResourceOrg resolves any membership resource to its organization.
	// Orgs resolve to themselves.
	ResourceOrg(ctx context.Context, resourceType ResourceType, resourceID string) (string, error)
}
