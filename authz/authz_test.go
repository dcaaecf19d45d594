package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The full org matrix, spelled out. Admins run the org day to day but only
// owners can destroy things; members create but never administer.
func TestOrgPermissionMatrix(t *testing.T) {
	want := map[Role]map[Action]bool{
		RoleOwner:  {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionManage: true},
		RoleAdmin:  {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: false, ActionManage: true},
		RoleMember: {ActionView: true, ActionCreate: true, ActionUpdate: false, ActionDelete: false, ActionManage: false},
		RoleViewer: {ActionView: true, ActionCreate: false, ActionUpdate: false, ActionDelete: false, ActionManage: false},
	}

	for role, actions := range want {
		for action, allowed := range actions {
			assert.Equal(t, allowed, HasPermission(OrgPermissions, role, action),
				"org %s / %s", role, action)
		}
	}
}

func TestProjectPermissionMatrix(t *testing.T) {
	want := map[Role]map[Action]bool{
		RoleAdmin:  {ActionView: true, ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionManage: true},
		RoleMember: {ActionView: true, ActionCreate: true, ActionUpdate: false, ActionDelete: false, ActionManage: false},
		RoleViewer: {ActionView: true, ActionCreate: false, ActionUpdate: false, ActionDelete: false, ActionManage: false},
	}

	for role, actions := range want {
		for action, allowed := range actions {
			assert.Equal(t, allowed, HasPermission(ProjectPermissions, role, action),
				"project %s / %s", role, action)
		}
	}

	// Owner is an org-only role; on a project matrix it grants nothing.
	assert.False(t, HasPermission(ProjectPermissions, RoleOwner, ActionView))
}

func TestHasPermissionUnknownRole(t *testing.T) {
	assert.False(t, HasPermission(OrgPermissions, Role("superuser"), ActionView))
	assert.False(t, HasPermission(OrgPermissions, Role(""), ActionView))
}

// Org roles inherited into open projects are translated: there is no project
// owner, so owners act as project admins.
func TestMapOrgRoleToProjectRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, MapOrgRoleToProjectRole(RoleOwner))
	assert.Equal(t, RoleAdmin, MapOrgRoleToProjectRole(RoleAdmin))
	assert.Equal(t, RoleMember, MapOrgRoleToProjectRole(RoleMember))
	assert.Equal(t, RoleViewer, MapOrgRoleToProjectRole(RoleViewer))
	assert.Equal(t, Role(""), MapOrgRoleToProjectRole(Role("invalid")))
}

// Role and resource-type strings are wire contracts: they live in membership
// rows and DB check constraints, so renaming a constant is a migration.
func TestWireValues(t *testing.T) {
	assert.Equal(t, Role("owner"), RoleOwner)
	assert.Equal(t, Role("admin"), RoleAdmin)
	assert.Equal(t, Role("member"), RoleMember)
	assert.Equal(t, Role("viewer"), RoleViewer)
	assert.Equal(t, ResourceType("org"), ResourceOrg)
	assert.Equal(t, ResourceType("project"), ResourceProject)
	assert.Equal(t, ResourceType("group"), ResourceGroup)
}
