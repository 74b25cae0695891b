package rbac

import "strings"

// HasPermission reports whether role holds permission.
func HasPermission(role Role, permission string) bool {
	_, ok := effective[role][strings.TrimSpace(permission)]
	return ok
}

// HasAnyPermission reports whether role holds at least one of permissions.
func HasAnyPermission(role Role, permissions []string) bool {
	for _, p := range permissions {
		if HasPermission(role, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether role holds every one of permissions.
func HasAllPermissions(role Role, permissions []string) bool {
	for _, p := range permissions {
		if !HasPermission(role, p) {
			return false
		}
	}
	return true
}

// IsRoleEqualOrHigher compares hierarchy ranks. Unknown roles never qualify.
func IsRoleEqualOrHigher(role, required Role) bool {
	have, ok := hierarchy[role]
	if !ok {
		return false
	}
	want, ok := hierarchy[required]
	if !ok {
		return false
	}
	return have >= want
}

// CanAccessOrganization decides tenant access. The top tier crosses
// organizations; other known roles must belong to the target.
func CanAccessOrganization(role Role, userOrgID, targetOrgID string) bool {
	if role == TopRole {
		return true
	}
	if !role.Known() {
		return false
	}
	return userOrgID != "" && userOrgID == targetOrgID
}

// CanPerformAction checks the catalog first and then the ownership facts
// matching the requested scope.
func CanPerformAction(role Role, userOrgID, userID string, check ResourceCheck) bool {
	if !HasPermission(role, check.Permission()) {
		return false
	}
	switch check.Scope {
	case ScopeOwn:
		return userID != "" && check.ResourceUserID == userID
	case ScopeOrg:
		return userOrgID != "" && userOrgID == check.ResourceOrgID
	case ScopeAll:
		return role == TopRole
	default:
		return false
	}
}

// CanAccessRoute resolves path against the default route table. Undeclared
// routes are allowed.
func CanAccessRoute(role Role, path string) bool {
	return DefaultRouteTable().Allows(role, path)
}
