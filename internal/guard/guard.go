// Package guard maps inbound request paths to access requirements and turns
// RBAC outcomes into continue, redirect or deny decisions.
package guard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/platform/httpx"
	"github.com/assessly/assessly/internal/rbac"
)

// Machine-readable deny reasons.
const (
	ReasonUnauthorized             = "unauthorized"
	ReasonInsufficientRole         = "insufficient_role"
	ReasonOrganizationRequired     = "organization_required"
	ReasonOrganizationAccessDenied = "organization_access_denied"
	ReasonInsufficientPermissions  = "insufficient_permissions"
)

// Config lists the path families the guard protects.
type Config struct {
	// LoginPath receives unauthenticated web requests (default: /auth/login).
	LoginPath string `validate:"required,startswith=/"`
	// AdminPrefixes require org_admin or above.
	AdminPrefixes []string `validate:"dive,startswith=/"`
	// SystemPrefixes require the top tier. They usually sit under AdminPrefixes.
	SystemPrefixes []string `validate:"dive,startswith=/"`
	// OrganizationPrefixes require tenant membership; the segment after the
	// prefix, when present, names the target organization.
	OrganizationPrefixes []string `validate:"dive,startswith=/"`
	// AuthenticatedPrefixes only require a principal.
	AuthenticatedPrefixes []string `validate:"dive,startswith=/"`
	// PublicPrefixes are never guarded, even below a protected prefix.
	PublicPrefixes []string `validate:"dive,startswith=/"`
	// Routes maps paths to permission sets. Nil uses the default table.
	Routes *rbac.RouteTable `validate:"-"`
}

// DefaultConfig returns the guard layout of the application.
func DefaultConfig() Config {
	return Config{
		LoginPath:             "/auth/login",
		AdminPrefixes:         []string{"/admin", "/api/admin"},
		SystemPrefixes:        []string{"/admin/system", "/api/admin/system"},
		OrganizationPrefixes:  []string{"/organization", "/api/organization"},
		AuthenticatedPrefixes: []string{"/dashboard", "/surveys", "/settings", "/api"},
		PublicPrefixes:        []string{"/api/auth", "/api/health", "/api/csrf-token"},
	}
}

// Action is the kind of decision reached for a request.
type Action int

// Decision actions.
const (
	Continue Action = iota
	Redirect
	Deny
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Redirect:
		return "redirect"
	case Deny:
		return "deny"
	}
	return "unknown"
}

// DenyBody is the JSON payload of a denied request.
type DenyBody struct {
	Error               string   `json:"error"`
	Message             string   `json:"message,omitempty"`
	RequiredRoles       []string `json:"requiredRoles,omitempty"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	UserRole            string   `json:"userRole,omitempty"`

	// identified marks refusals of a resolved principal; they always carry
	// userRole, even when the role is empty.
	identified bool
}

// MarshalJSON implements json.Marshaler.
func (b DenyBody) MarshalJSON() ([]byte, error) {
	type plain DenyBody
	if !b.identified {
		return json.Marshal(plain(b))
	}
	return json.Marshal(struct {
		plain
		UserRole string `json:"userRole"`
	}{plain(b), b.UserRole})
}

// Decision is the terminal outcome for one request.
type Decision struct {
	Action   Action
	Status   int
	Location string
	Body     *DenyBody
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Action == Continue
}

var proceed = Decision{Action: Continue}

// Guard evaluates requests against Config.
type Guard struct {
	cfg    Config
	routes *rbac.RouteTable
}

// ErrInvalidConfig reports a guard configuration that failed validation.
var ErrInvalidConfig = errors.New("guard: invalid config")

// New validates cfg and returns a Guard.
func New(cfg Config) (*Guard, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	routes := cfg.Routes
	if routes == nil {
		routes = rbac.DefaultRouteTable()
	}
	return &Guard{cfg: cfg, routes: routes}, nil
}

// Evaluate decides the fate of a request for path given the principal the
// identity collaborator resolved. identityErr carries the resolution error
// when principal is nil.
func (g *Guard) Evaluate(principal *auth.Principal, identityErr error, path string) Decision {
	if !g.Guarded(path) {
		return proceed
	}
	if principal == nil || identityErr != nil {
		return g.unauthenticated(path)
	}
	role := principal.Role

	if hasAnyPrefix(path, g.cfg.SystemPrefixes) {
		if role != rbac.TopRole {
			return forbidden(ReasonInsufficientRole, "system administrator access required", role,
				withRoles(rbac.RoleSystemAdmin))
		}
	} else if hasAnyPrefix(path, g.cfg.AdminPrefixes) {
		if !rbac.IsRoleEqualOrHigher(role, rbac.RoleOrgAdmin) {
			return forbidden(ReasonInsufficientRole, "administrator access required", role,
				withRoles(rbac.RoleOrgAdmin, rbac.RoleSystemAdmin))
		}
	}

	if prefix, ok := matchPrefix(path, g.cfg.OrganizationPrefixes); ok {
		if role != rbac.TopRole && !principal.HasOrganization() {
			return forbidden(ReasonOrganizationRequired, "organization membership required", role, nil)
		}
		if target := firstSegment(path[len(prefix):]); target != "" {
			if !rbac.CanAccessOrganization(role, principal.OrganizationID, target) {
				return forbidden(ReasonOrganizationAccessDenied, "access to this organization is not permitted", role, nil)
			}
		}
	}

	if d := g.routes.Resolve(path); d.Protected && !rbac.HasAnyPermission(role, d.Permissions) {
		return forbidden(ReasonInsufficientPermissions, "you do not have permission to access this resource", role,
			func(b *DenyBody) { b.RequiredPermissions = d.Permissions })
	}
	return proceed
}

// Guarded reports whether path needs any check at all.
func (g *Guard) Guarded(path string) bool {
	if hasAnyPrefix(path, g.cfg.PublicPrefixes) {
		return false
	}
	for _, prefixes := range [][]string{
		g.cfg.SystemPrefixes,
		g.cfg.AdminPrefixes,
		g.cfg.OrganizationPrefixes,
		g.cfg.AuthenticatedPrefixes,
	} {
		if hasAnyPrefix(path, prefixes) {
			return true
		}
	}
	return g.routes.Resolve(path).Protected
}

func (g *Guard) unauthenticated(path string) Decision {
	if httpx.IsAPIPath(path) {
		return Decision{
			Action: Deny,
			Status: http.StatusUnauthorized,
			Body:   &DenyBody{Error: ReasonUnauthorized, Message: "authentication required"},
		}
	}
	return Decision{
		Action:   Redirect,
		Status:   http.StatusFound,
		Location: LoginRedirect(g.cfg.LoginPath, path),
	}
}

// LoginRedirect builds the login URL carrying path as the return target.
// Slashes stay literal so the target reads naturally in the browser bar.
func LoginRedirect(loginPath, path string) string {
	target := strings.ReplaceAll(url.QueryEscape(path), "%2F", "/")
	return loginPath + "?redirectTo=" + target
}

func forbidden(reason, message string, role rbac.Role, opt func(*DenyBody)) Decision {
	body := &DenyBody{Error: reason, Message: message, UserRole: role.String(), identified: true}
	if opt != nil {
		opt(body)
	}
	return Decision{Action: Deny, Status: http.StatusForbidden, Body: body}
}

func withRoles(roles ...rbac.Role) func(*DenyBody) {
	return func(b *DenyBody) {
		for _, r := range roles {
			b.RequiredRoles = append(b.RequiredRoles, r.String())
		}
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	_, ok := matchPrefix(path, prefixes)
	return ok
}

// matchPrefix returns the longest prefix that path equals or sits below.
func matchPrefix(path string, prefixes []string) (string, bool) {
	best, found := "", false
	for _, p := range prefixes {
		p = strings.TrimSuffix(p, "/")
		if p == "" {
			continue
		}
		if path == p || strings.HasPrefix(path, p+"/") {
			if !found || len(p) > len(best) {
				best, found = p, true
			}
		}
	}
	return best, found
}

func firstSegment(rest string) string {
	rest = strings.TrimPrefix(rest, "/")
	seg, _, _ := strings.Cut(rest, "/")
	return seg
}
