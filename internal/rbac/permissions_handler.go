package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/assessly/assessly/internal/platform/httpx"
)

// PermissionsHandler exposes the permission catalog so clients can gate UI.
type PermissionsHandler struct {
	routes  *RouteTable
	subject SubjectFunc
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(routes *RouteTable, subject SubjectFunc) *PermissionsHandler {
	if routes == nil {
		routes = DefaultRouteTable()
	}
	return &PermissionsHandler{routes: routes, subject: subject}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Get("/permissions", h.listPermissions)
	r.Get("/roles", h.listRoles)
	r.Get("/routes", h.listRoutes)
}

type roleView struct {
	Name        string   `json:"name"`
	Rank        int      `json:"rank"`
	Inherits    []Role   `json:"inherits,omitempty"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := Role(""), false
	if h.subject != nil {
		role, ok = h.subject(r)
	}
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":        role,
		"permissions": RolePermissions(role),
	})
}

func (h *PermissionsHandler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := Roles()
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{
			Name:        role.String(),
			Rank:        Rank(role),
			Inherits:    Inherits(role),
			Permissions: RolePermissions(role),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *PermissionsHandler) listRoutes(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"routes": h.routes.Rules()})
}
