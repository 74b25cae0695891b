package guard

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/rbac"
)

func newGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := New(DefaultConfig())
	require.NoError(t, err)
	return g
}

func TestUserDeniedAdmin(t *testing.T) {
	g := newGuard(t)
	d := g.Evaluate(&auth.Principal{ID: "u-1", Role: rbac.RoleUser, OrganizationID: "org-1"}, nil, "/admin")

	require.Equal(t, Deny, d.Action)
	assert.Equal(t, http.StatusForbidden, d.Status)
	require.NotNil(t, d.Body)
	assert.Equal(t, ReasonInsufficientRole, d.Body.Error)
	assert.Equal(t, []string{"org_admin", "system_admin"}, d.Body.RequiredRoles)
	assert.Equal(t, "user", d.Body.UserRole)
}

func TestSystemAdminCrossesOrganizations(t *testing.T) {
	g := newGuard(t)
	d := g.Evaluate(&auth.Principal{ID: "root", Role: rbac.RoleSystemAdmin, OrganizationID: "org-123"}, nil, "/organization/org-999")
	assert.True(t, d.Allowed())
}

func TestAnonymousRedirectedToLogin(t *testing.T) {
	g := newGuard(t)
	d := g.Evaluate(nil, auth.ErrNoPrincipal, "/admin/users")

	require.Equal(t, Redirect, d.Action)
	assert.Equal(t, http.StatusFound, d.Status)
	assert.Equal(t, "/auth/login?redirectTo=/admin/users", d.Location)
}

func TestAnonymousAPIGets401(t *testing.T) {
	g := newGuard(t)
	d := g.Evaluate(nil, errors.New("token expired"), "/api/admin/users")

	require.Equal(t, Deny, d.Action)
	assert.Equal(t, http.StatusUnauthorized, d.Status)
	assert.Equal(t, ReasonUnauthorized, d.Body.Error)
	assert.Empty(t, d.Body.UserRole)
}

func TestIdentityErrorNeverDowngradesToAnonymousAccess(t *testing.T) {
	g := newGuard(t)
	d := g.Evaluate(&auth.Principal{ID: "u-1", Role: rbac.RoleSystemAdmin}, errors.New("stale"), "/dashboard")
	assert.Equal(t, Redirect, d.Action)
}

func TestUnguardedPathsContinue(t *testing.T) {
	g := newGuard(t)
	for _, path := range []string{"/", "/auth/login", "/pricing", "/api/health", "/api/auth/callback", "/api/csrf-token"} {
		assert.True(t, g.Evaluate(nil, auth.ErrNoPrincipal, path).Allowed(), path)
		assert.False(t, g.Guarded(path), path)
	}
}

func TestAdminTiers(t *testing.T) {
	g := newGuard(t)
	orgAdmin := &auth.Principal{ID: "a", Role: rbac.RoleOrgAdmin, OrganizationID: "org-1"}
	sysAdmin := &auth.Principal{ID: "s", Role: rbac.RoleSystemAdmin}
	analyst := &auth.Principal{ID: "x", Role: rbac.RoleAnalyst, OrganizationID: "org-1"}

	assert.True(t, g.Evaluate(orgAdmin, nil, "/admin/users").Allowed())
	assert.True(t, g.Evaluate(orgAdmin, nil, "/api/admin/users").Allowed())
	assert.False(t, g.Evaluate(analyst, nil, "/admin").Allowed())

	d := g.Evaluate(orgAdmin, nil, "/admin/system/audit")
	require.Equal(t, Deny, d.Action)
	assert.Equal(t, []string{"system_admin"}, d.Body.RequiredRoles)
	assert.Equal(t, "org_admin", d.Body.UserRole)

	assert.True(t, g.Evaluate(sysAdmin, nil, "/admin/system/audit").Allowed())
	assert.True(t, g.Evaluate(sysAdmin, nil, "/api/admin/system/flags").Allowed())
}

func TestOrganizationTier(t *testing.T) {
	g := newGuard(t)
	member := &auth.Principal{ID: "u", Role: rbac.RoleUser, OrganizationID: "org-123"}
	orphan := &auth.Principal{ID: "o", Role: rbac.RoleUser}

	assert.True(t, g.Evaluate(member, nil, "/organization/org-123").Allowed())
	assert.True(t, g.Evaluate(member, nil, "/organization/org-123/members").Allowed())
	assert.True(t, g.Evaluate(member, nil, "/organization").Allowed())

	d := g.Evaluate(member, nil, "/organization/org-999")
	require.Equal(t, Deny, d.Action)
	assert.Equal(t, ReasonOrganizationAccessDenied, d.Body.Error)

	d = g.Evaluate(orphan, nil, "/organization")
	require.Equal(t, Deny, d.Action)
	assert.Equal(t, ReasonOrganizationRequired, d.Body.Error)

	d = g.Evaluate(&auth.Principal{ID: "g", Role: rbac.Role("ghost"), OrganizationID: "org-123"}, nil, "/api/organization/org-123")
	assert.Equal(t, ReasonOrganizationAccessDenied, d.Body.Error)
}

func TestRouteTablePermissions(t *testing.T) {
	g := newGuard(t)
	viewer := &auth.Principal{ID: "v", Role: rbac.RoleViewer, OrganizationID: "org-1"}
	user := &auth.Principal{ID: "u", Role: rbac.RoleUser, OrganizationID: "org-1"}

	d := g.Evaluate(viewer, nil, "/api/export/responses.csv")
	require.Equal(t, Deny, d.Action)
	assert.Equal(t, ReasonInsufficientPermissions, d.Body.Error)
	assert.Contains(t, d.Body.RequiredPermissions, rbac.PermExportCreateOwn)
	assert.Equal(t, "viewer", d.Body.UserRole)

	assert.True(t, g.Evaluate(user, nil, "/api/export/responses.csv").Allowed())
	assert.False(t, g.Evaluate(user, nil, "/api/llm/org/summarise").Allowed())
	assert.True(t, g.Evaluate(user, nil, "/api/llm/chat").Allowed())
	assert.True(t, g.Evaluate(user, nil, "/api/surveys").Allowed(), "authenticated area without table entry")
}

func TestCustomRouteTable(t *testing.T) {
	table, err := rbac.NewRouteTable([]rbac.RouteRule{{Pattern: "/billing/*", Permissions: []string{rbac.PermSettingsEditOrg}}})
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Routes = table
	g, err := New(cfg)
	require.NoError(t, err)

	assert.True(t, g.Guarded("/billing/invoices"))
	assert.Equal(t, Redirect, g.Evaluate(nil, auth.ErrNoPrincipal, "/billing/invoices").Action)
	assert.False(t, g.Evaluate(&auth.Principal{ID: "u", Role: rbac.RoleUser}, nil, "/billing/invoices").Allowed())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LoginPath = ""
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.AdminPrefixes = []string{"admin"}
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoginRedirectEscapesQueryBreakers(t *testing.T) {
	assert.Equal(t, "/auth/login?redirectTo=/a%26b/c%3Fd", LoginRedirect("/auth/login", "/a&b/c?d"))
}

func TestDenyBodyAlwaysCarriesCallerRole(t *testing.T) {
	g := newGuard(t)

	d := g.Evaluate(&auth.Principal{ID: "u-9"}, nil, "/api/admin/users")
	require.Equal(t, http.StatusForbidden, d.Status)
	raw, err := json.Marshal(d.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"insufficient_role","message":"administrator access required","requiredRoles":["org_admin","system_admin"],"userRole":""}`, string(raw))

	d = g.Evaluate(nil, auth.ErrNoPrincipal, "/api/admin/users")
	raw, err = json.Marshal(d.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"unauthorized","message":"authentication required"}`, string(raw))
}
