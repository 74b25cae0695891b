package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/assessly/assessly/internal/platform/httpx"
)

// SubjectFunc extracts the caller's role from a request. ok is false when
// the request carries no principal.
type SubjectFunc func(r *http.Request) (role Role, ok bool)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Subject SubjectFunc
	Logger  *slog.Logger
}

type unauthorizedBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type denyBody struct {
	Error               string   `json:"error"`
	Message             string   `json:"message"`
	RequiredPermissions []string `json:"requiredPermissions,omitempty"`
	UserRole            string   `json:"userRole"`
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(role Role) bool { return HasAnyPermission(role, normalized) })
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require(normalized, func(role Role) bool { return HasAllPermissions(role, normalized) })
}

func (m Middleware) require(perms []string, allowed func(Role) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(perms) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			role, ok := m.subject(r)
			if !ok {
				httpx.JSON(w, http.StatusUnauthorized, unauthorizedBody{Error: "unauthorized", Message: "authentication required"})
				return
			}
			if allowed(role) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("rbac denied", slog.String("path", r.URL.Path), slog.String("role", role.String()))
			}
			httpx.JSON(w, http.StatusForbidden, denyBody{
				Error:               "insufficient_permissions",
				Message:             "you do not have permission to perform this action",
				RequiredPermissions: perms,
				UserRole:            role.String(),
			})
		})
	}
}

func (m Middleware) subject(r *http.Request) (Role, bool) {
	if m.Subject == nil {
		return "", false
	}
	return m.Subject(r)
}

func normalizePermissions(perms []string) []string {
	seen := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
