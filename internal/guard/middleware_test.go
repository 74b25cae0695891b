package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/rbac"
)

func fixedResolver(p *auth.Principal) auth.Resolver {
	return auth.ResolverFunc(func(ctx context.Context, r *http.Request) (*auth.Principal, error) {
		if p == nil {
			return nil, auth.ErrNoPrincipal
		}
		return p, nil
	})
}

func TestMiddlewareDeniesWithJSON(t *testing.T) {
	g := newGuard(t)
	var observed []Decision
	mw := g.Middleware(fixedResolver(&auth.Principal{ID: "u", Role: rbac.RoleUser}), nil, func(r *http.Request, p *auth.Principal, d Decision) {
		observed = append(observed, d)
	})
	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.False(t, called)
	require.Equal(t, http.StatusForbidden, rr.Code)
	var body DenyBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, []string{"org_admin", "system_admin"}, body.RequiredRoles)
	assert.Equal(t, "user", body.UserRole)
	require.Len(t, observed, 1)
	assert.Equal(t, Deny, observed[0].Action)
}

func TestMiddlewareRedirectsAnonymous(t *testing.T) {
	g := newGuard(t)
	handler := g.Middleware(fixedResolver(nil), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/users", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/auth/login?redirectTo=/admin/users", rr.Header().Get("Location"))
}

func TestMiddlewareStoresPrincipal(t *testing.T) {
	g := newGuard(t)
	principal := &auth.Principal{ID: "root", Role: rbac.RoleSystemAdmin, OrganizationID: "org-123"}
	var seen *auth.Principal
	handler := g.Middleware(fixedResolver(principal), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/organization/org-999", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Same(t, principal, seen)
}

func TestMiddlewareAnonymousOnPublicPath(t *testing.T) {
	g := newGuard(t)
	handler := g.Middleware(fixedResolver(nil), nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Nil(t, auth.PrincipalFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}
