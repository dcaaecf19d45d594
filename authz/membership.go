package authz

import (
	"context"
	"time"
)

// Membership is the single authorization relation: one row says
// "subject holds role on (resource_type, resource_id)". Orgs, projects,
// and groups all resolve membership questions through this fact.
type Membership struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   string       `json:"resource_id"`
	Role         Role         `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	InvitedBy    string       `json:"invited_by,omitempty"`
	// User details (populated when fetching resource members)
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// MembershipManager is the write side of the relation; Authorizer is the
// read/check side. Keeping them separate means a later move to a dedicated
// relationship store (OpenFGA, SpiceDB) only swaps implementations.
type MembershipManager interface {
	// AddMember grants a role, upserting if the membership already exists.
	AddMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string, role Role) error

	// UpdateMemberRole changes an existing member's role.
	UpdateMemberRole(ctx context.Context, userID string, resourceType ResourceType, resourceID string, newRole Role) error

	// RemoveMember deletes the membership row.
	RemoveMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) error

	// GetMembership fetches one membership fact.
	GetMembership(ctx context.Context, userID string, resourceType ResourceType, resourceID string) (*Membership, error)

	// GetUserMemberships returns every membership a user holds.
	GetUserMemberships(ctx context.Context, userID string) ([]Membership, error)

	// GetResourceMembers returns all members of a resource with user details.
	GetResourceMembers(ctx context.Context, resourceType ResourceType, resourceID string) ([]Membership, error)

	// CountMembersWithRole counts members of a resource holding a role.
	// Used to protect the last org owner.
	CountMembersWithRole(ctx context.Context, resourceType ResourceType, resourceID string, role Role) (int, error)

	// IsMember reports whether a user holds any role on a resource.
	IsMember(ctx context.Context, userID string, resourceType ResourceType, resourceID string) bool
}
