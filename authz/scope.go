package authz

import (
	"fmt"

	"github.com/klaxonhq/klaxon/internal/apperr"
)

// Scope is the computed visibility of one caller inside one organization.
// Every tenant-scoped list query embeds its predicate verbatim; no handler
// builds its own membership SQL.
type Scope struct {
	UserID string
	OrgID  string

	// ProjectID narrows the listing to a single project (strict mode).
	// Callers must verify project access separately before querying.
	ProjectID string

	// AssignedColumn optionally names a column whose match with the caller
	// grants row visibility regardless of project access. Incident listings
	// set it to "assigned_to"; entity listings leave it empty.
	AssignedColumn string
}

// ScopeFor builds the scope for a caller, failing closed: a missing org is a
// BadRequest, never an unfiltered query; a missing principal is Unauthorized.
func ScopeFor(userID, orgID string) (Scope, error) {
	if userID == "" {
		return Scope{}, apperr.New(apperr.Unauthorized, "authenticated principal required")
	}
	if orgID == "" {
		return Scope{}, apperr.New(apperr.BadRequest, "organization context required")
	}
	return Scope{UserID: userID, OrgID: orgID}, nil
}

// Predicate renders the scope as a single conjunctive SQL fragment over the
// given table alias, starting bind placeholders at argIndex. It returns the
// fragment, its bind arguments, and the next free placeholder index.
//
// The visibility rules, in union:
//   - rows with no project, when the caller is an org member
//   - rows in projects the caller holds a direct membership on
//   - rows in open projects (no project memberships at all) of orgs the
//     caller is a member of
//   - rows assigned to the caller, when AssignedColumn is set
//
// Strict mode (ProjectID set) pins rows to that project instead.
func (s Scope) Predicate(alias string, argIndex int) (string, []interface{}, int) {
	args := []interface{}{}

	orgArg := argIndex
	args = append(args, s.OrgID)
	argIndex++

	if s.ProjectID != "" {
		projArg := argIndex
		args = append(args, s.ProjectID)
		argIndex++
		pred := fmt.Sprintf("%s.organization_id = $%d AND %s.project_id = $%d", alias, orgArg, alias, projArg)
		return pred, args, argIndex
	}

	userArg := argIndex
	args = append(args, s.UserID)
	argIndex++

	orgMember := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM memberships om WHERE om.user_id = $%d AND om.resource_type = 'org' AND om.resource_id = %s.organization_id)",
		userArg, alias)

	clauses := []string{
		// Org-level rows (no project) for org members.
		fmt.Sprintf("(%s.project_id IS NULL AND %s)", alias, orgMember),
		// Direct project membership.
		fmt.Sprintf(
			"EXISTS (SELECT 1 FROM memberships pm WHERE pm.user_id = $%d AND pm.resource_type = 'project' AND pm.resource_id = %s.project_id)",
			userArg, alias),
		// Open projects inherit org membership. A project with any project
		// membership is closed, even to org admins.
		fmt.Sprintf(
			"(%s AND NOT EXISTS (SELECT 1 FROM memberships cm WHERE cm.resource_type = 'project' AND cm.resource_id = %s.project_id))",
			orgMember, alias),
	}

	if s.AssignedColumn != "" {
		clauses = append(clauses, fmt.Sprintf("%s.%s = $%d", alias, s.AssignedColumn, userArg))
	}

	pred := fmt.Sprintf("%s.organization_id = $%d AND (%s)", alias, orgArg, joinOr(clauses))
	return pred, args, argIndex
}

func joinOr(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " OR "
		}
		out += c
	}
	return out
}
