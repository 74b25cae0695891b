package rbac

import "strings"

// Role names a privilege tier.
type Role string

// Known roles, lowest tier first.
const (
	RoleViewer      Role = "viewer"
	RoleUser        Role = "user"
	RoleAnalyst     Role = "analyst"
	RoleOrgAdmin    Role = "org_admin"
	RoleSystemAdmin Role = "system_admin"
)

// TopRole is the tier that bypasses organization boundaries.
const TopRole = RoleSystemAdmin

// Scope is the breadth of a permission.
type Scope string

// Permission scopes.
const (
	ScopeOwn Scope = "own"
	ScopeOrg Scope = "org"
	ScopeAll Scope = "all"
)

// Valid reports whether s is a recognised scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwn, ScopeOrg, ScopeAll:
		return true
	}
	return false
}

// ParseRole normalises raw into a Role. Unknown values are returned as-is and
// resolve to an empty permission set.
func ParseRole(raw string) Role {
	return Role(strings.ToLower(strings.TrimSpace(raw)))
}

// Known reports whether r is part of the catalog.
func (r Role) Known() bool {
	_, ok := hierarchy[r]
	return ok
}

func (r Role) String() string {
	return string(r)
}

// Permission composes a resource:action:scope permission string.
func Permission(resource, action string, scope Scope) string {
	return resource + ":" + action + ":" + string(scope)
}

// SplitPermission breaks a permission string into its parts.
func SplitPermission(perm string) (resource, action string, scope Scope, ok bool) {
	parts := strings.Split(perm, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	scope = Scope(parts[2])
	if !scope.Valid() {
		return "", "", "", false
	}
	return parts[0], parts[1], scope, true
}

// ResourceCheck describes one authorization question about a resource.
type ResourceCheck struct {
	Resource       string
	Action         string
	Scope          Scope
	ResourceOrgID  string
	ResourceUserID string
}

// Permission returns the permission string the check requires.
func (c ResourceCheck) Permission() string {
	return Permission(c.Resource, c.Action, c.Scope)
}
