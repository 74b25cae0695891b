package rbac

import "sort"

// Survey and response permissions.
const (
	PermSurveyReadOwn   = "survey:read:own"
	PermSurveyCreateOwn = "survey:create:own"
	PermSurveyEditOwn   = "survey:edit:own"
	PermSurveyDeleteOwn = "survey:delete:own"
	PermSurveyReadOrg   = "survey:read:org"
	PermSurveyEditOrg   = "survey:edit:org"
	PermSurveyDeleteOrg = "survey:delete:org"
	PermSurveyReadAll   = "survey:read:all"
	PermSurveyEditAll   = "survey:edit:all"
	PermSurveyDeleteAll = "survey:delete:all"

	PermResponseCreateOwn = "response:create:own"
	PermResponseReadOwn   = "response:read:own"
	PermResponseReadOrg   = "response:read:org"
	PermResponseReadAll   = "response:read:all"
)

// Reporting, analytics, export and LLM permissions.
const (
	PermReportReadOwn   = "report:read:own"
	PermReportReadOrg   = "report:read:org"
	PermReportCreateOrg = "report:create:org"
	PermReportReadAll   = "report:read:all"

	PermAnalyticsReadOrg = "analytics:read:org"
	PermAnalyticsReadAll = "analytics:read:all"

	PermExportCreateOwn = "export:create:own"
	PermExportCreateOrg = "export:create:org"
	PermExportCreateAll = "export:create:all"

	PermLLMUseOwn = "llm:use:own"
	PermLLMUseOrg = "llm:use:org"
)

// Administration permissions.
const (
	PermUserReadOrg   = "user:read:org"
	PermUserCreateOrg = "user:create:org"
	PermUserEditOrg   = "user:edit:org"
	PermUserDeleteOrg = "user:delete:org"
	PermUserReadAll   = "user:read:all"
	PermUserEditAll   = "user:edit:all"
	PermUserDeleteAll = "user:delete:all"

	PermOrganizationReadOrg   = "organization:read:org"
	PermOrganizationEditOrg   = "organization:edit:org"
	PermOrganizationReadAll   = "organization:read:all"
	PermOrganizationCreateAll = "organization:create:all"
	PermOrganizationEditAll   = "organization:edit:all"
	PermOrganizationDeleteAll = "organization:delete:all"

	PermSettingsEditOrg = "settings:edit:org"
	PermSettingsEditAll = "settings:edit:all"

	PermAuditReadOrg = "audit:read:org"
	PermAuditReadAll = "audit:read:all"

	PermSecurityReadAll = "security:read:all"
)

// hierarchy ranks roles for tier gating. user and analyst share a rank.
var hierarchy = map[Role]int{
	RoleViewer:      1,
	RoleUser:        2,
	RoleAnalyst:     2,
	RoleOrgAdmin:    3,
	RoleSystemAdmin: 4,
}

// inherits declares which roles a role absorbs permissions from.
var inherits = map[Role][]Role{
	RoleUser:        {RoleViewer},
	RoleAnalyst:     {RoleViewer},
	RoleOrgAdmin:    {RoleUser, RoleAnalyst},
	RoleSystemAdmin: {RoleOrgAdmin},
}

// grants lists the permissions declared directly on each role.
var grants = map[Role][]string{
	RoleViewer: {
		PermSurveyReadOwn,
		PermResponseCreateOwn,
		PermResponseReadOwn,
		PermReportReadOwn,
	},
	RoleUser: {
		PermSurveyCreateOwn,
		PermSurveyEditOwn,
		PermSurveyDeleteOwn,
		PermExportCreateOwn,
		PermLLMUseOwn,
	},
	RoleAnalyst: {
		PermSurveyReadOrg,
		PermResponseReadOrg,
		PermReportReadOrg,
		PermReportCreateOrg,
		PermAnalyticsReadOrg,
		PermExportCreateOrg,
	},
	RoleOrgAdmin: {
		PermSurveyEditOrg,
		PermSurveyDeleteOrg,
		PermUserReadOrg,
		PermUserCreateOrg,
		PermUserEditOrg,
		PermUserDeleteOrg,
		PermOrganizationReadOrg,
		PermOrganizationEditOrg,
		PermSettingsEditOrg,
		PermAuditReadOrg,
		PermLLMUseOrg,
	},
	RoleSystemAdmin: {
		PermSurveyReadAll,
		PermSurveyEditAll,
		PermSurveyDeleteAll,
		PermResponseReadAll,
		PermReportReadAll,
		PermAnalyticsReadAll,
		PermExportCreateAll,
		PermUserReadAll,
		PermUserEditAll,
		PermUserDeleteAll,
		PermOrganizationReadAll,
		PermOrganizationCreateAll,
		PermOrganizationEditAll,
		PermOrganizationDeleteAll,
		PermSettingsEditAll,
		PermAuditReadAll,
		PermSecurityReadAll,
	},
}

// effective holds the flattened permission set of every role.
var effective = buildEffective()

func buildEffective() map[Role]map[string]struct{} {
	out := make(map[Role]map[string]struct{}, len(hierarchy))
	var resolve func(role Role, seen map[Role]bool) map[string]struct{}
	resolve = func(role Role, seen map[Role]bool) map[string]struct{} {
		if set, ok := out[role]; ok {
			return set
		}
		set := make(map[string]struct{})
		if seen[role] {
			return set
		}
		seen[role] = true
		for _, parent := range inherits[role] {
			for perm := range resolve(parent, seen) {
				set[perm] = struct{}{}
			}
		}
		for _, perm := range grants[role] {
			set[perm] = struct{}{}
		}
		out[role] = set
		return set
	}
	for role := range hierarchy {
		resolve(role, map[Role]bool{})
	}
	return out
}

// Roles returns every known role ordered by rank, then name.
func Roles() []Role {
	roles := make([]Role, 0, len(hierarchy))
	for role := range hierarchy {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool {
		if hierarchy[roles[i]] != hierarchy[roles[j]] {
			return hierarchy[roles[i]] < hierarchy[roles[j]]
		}
		return roles[i] < roles[j]
	})
	return roles
}

// Rank returns the hierarchy rank of role, zero when unknown.
func Rank(role Role) int {
	return hierarchy[role]
}

// Inherits returns the roles that role directly inherits from.
func Inherits(role Role) []Role {
	parents := inherits[role]
	out := make([]Role, len(parents))
	copy(out, parents)
	return out
}

// RolePermissions returns the sorted effective permissions of role.
func RolePermissions(role Role) []string {
	set := effective[role]
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}
