package authz

import (
	"context"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

// MembershipService enforces the guard rules around membership mutation.
// Handlers call it instead of touching MembershipManager directly.
type MembershipService struct {
	authz   Authorizer
	members MembershipManager
	dir     Directory
}

// NewMembershipService creates a new MembershipService
func NewMembershipService(authz Authorizer, members MembershipManager, dir Directory) *MembershipService {
	return &MembershipService{
		authz:   authz,
		members: members,
		dir:     dir,
	}
}

func validRole(r Role) bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// canView reports whether the actor may see the resource at all. Callers
// translate a false into NotFound so hidden resources are indistinguishable
// from absent ones.
func (s *MembershipService) canView(ctx context.Context, actorID string, resourceType ResourceType, resourceID, orgID string) bool {
	switch resourceType {
	case ResourceOrg:
		return s.authz.CanAccessOrg(ctx, actorID, resourceID)
	case ResourceProject:
		return s.authz.CanAccessProject(ctx, actorID, resourceID)
	case ResourceGroup:
		return s.authz.CanAccessOrg(ctx, actorID, orgID)
	}
	return false
}

// canManage reports whether the actor may mutate members of the resource.
// Group members are managed at the org level.
func (s *MembershipService) canManage(ctx context.Context, actorID string, resourceType ResourceType, resourceID, orgID string) bool {
	switch resourceType {
	case ResourceOrg:
		return s.authz.CanPerformOrgAction(ctx, actorID, resourceID, ActionManage)
	case ResourceProject:
		return s.authz.CanPerformProjectAction(ctx, actorID, resourceID, ActionManage)
	case ResourceGroup:
		return s.authz.CanPerformOrgAction(ctx, actorID, orgID, ActionManage)
	}
	return false
}

// ListMembers returns the members of a resource the actor can see.
func (s *MembershipService) ListMembers(ctx context.Context, actorID string, resourceType ResourceType, resourceID string) ([]Membership, error) {
	orgID, err := s.dir.ResourceOrg(ctx, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	if !s.canView(ctx, actorID, resourceType, resourceID, orgID) {
		return nil, apperr.New(apperr.NotFound, "resource not found")
	}
	return s.members.GetResourceMembers(ctx, resourceType, resourceID)
}

// MyMemberships returns every membership the caller holds.
func (s *MembershipService) MyMemberships(ctx context.Context, userID string) ([]Membership, error) {
	return s.members.GetUserMemberships(ctx, userID)
}

// AddMember grants a role on a resource. Project and group members must
// already belong to the owning organization; the owner role exists only at
// the org level and only an owner can grant it.
func (s *MembershipService) AddMember(ctx context.Context, actorID string, resourceType ResourceType, resourceID, targetUserID string, role Role) error {
	if !validRole(role) {
		return apperr.Newf(apperr.BadRequest, "invalid role: %s", role)
	}
	if role == RoleOwner && resourceType != ResourceOrg {
		return apperr.New(apperr.BadRequest, "only organizations have owners")
	}

	orgID, err := s.dir.ResourceOrg(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !s.canView(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.NotFound, "resource not found")
	}
	if !s.canManage(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.Forbidden, "not allowed to manage members")
	}
	if role == RoleOwner && s.authz.GetOrgRole(ctx, actorID, orgID) != RoleOwner {
		return apperr.New(apperr.Forbidden, "only an owner can grant the owner role")
	}

	if !s.dir.UserExists(ctx, targetUserID) {
		return apperr.New(apperr.BadRequest, "user does not exist")
	}
	if resourceType != ResourceOrg && !s.members.IsMember(ctx, targetUserID, ResourceOrg, orgID) {
		return apperr.New(apperr.BadRequest, "user must be a member of the organization first")
	}

	return s.members.AddMember(ctx, targetUserID, resourceType, resourceID, role)
}

// UpdateMemberRole changes an existing member's role. Demoting the last
// org owner is refused.
func (s *MembershipService) UpdateMemberRole(ctx context.Context, actorID string, resourceType ResourceType, resourceID, targetUserID string, newRole Role) error {
	if !validRole(newRole) {
		return apperr.Newf(apperr.BadRequest, "invalid role: %s", newRole)
	}
	if newRole == RoleOwner && resourceType != ResourceOrg {
		return apperr.New(apperr.BadRequest, "only organizations have owners")
	}

	orgID, err := s.dir.ResourceOrg(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !s.canView(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.NotFound, "resource not found")
	}
	if !s.canManage(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.Forbidden, "not allowed to manage members")
	}

	existing, err := s.members.GetMembership(ctx, targetUserID, resourceType, resourceID)
	if err != nil {
		return err
	}

	touchesOwner := existing.Role == RoleOwner || newRole == RoleOwner
	if touchesOwner && s.authz.GetOrgRole(ctx, actorID, orgID) != RoleOwner {
		return apperr.New(apperr.Forbidden, "only an owner can change owner roles")
	}
	if resourceType == ResourceOrg && existing.Role == RoleOwner && newRole != RoleOwner {
		owners, err := s.members.CountMembersWithRole(ctx, ResourceOrg, resourceID, RoleOwner)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return apperr.New(apperr.Conflict, "cannot demote the last owner")
		}
	}

	return s.members.UpdateMemberRole(ctx, targetUserID, resourceType, resourceID, newRole)
}

// RemoveMember removes a member from a resource. Actors cannot remove
// themselves, and the last org owner cannot be removed.
func (s *MembershipService) RemoveMember(ctx context.Context, actorID string, resourceType ResourceType, resourceID, targetUserID string) error {
	orgID, err := s.dir.ResourceOrg(ctx, resourceType, resourceID)
	if err != nil {
		return err
	}
	if !s.canView(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.NotFound, "resource not found")
	}
	if !s.canManage(ctx, actorID, resourceType, resourceID, orgID) {
		return apperr.New(apperr.Forbidden, "not allowed to manage members")
	}
	if actorID == targetUserID {
		return apperr.New(apperr.BadRequest, "cannot remove yourself")
	}

	existing, err := s.members.GetMembership(ctx, targetUserID, resourceType, resourceID)
	if err != nil {
		return err
	}
	if existing.Role == RoleOwner {
		if s.authz.GetOrgRole(ctx, actorID, orgID) != RoleOwner {
			return apperr.New(apperr.Forbidden, "only an owner can remove an owner")
		}
		if resourceType == ResourceOrg {
			owners, err := s.members.CountMembersWithRole(ctx, ResourceOrg, resourceID, RoleOwner)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return apperr.New(apperr.Conflict, "cannot remove the last owner")
			}
		}
	}

	return s.members.RemoveMember(ctx, targetUserID, resourceType, resourceID)
}
