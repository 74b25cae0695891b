package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/assessly/assessly/internal/platform/httpx"
	"github.com/assessly/assessly/internal/rbac"
	"github.com/assessly/assessly/internal/shared"
)

// Handler wires HTTP endpoints describing the current identity.
type Handler struct {
	logger         *slog.Logger
	sessionManager *shared.SessionManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, sessions *shared.SessionManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, sessionManager: sessions}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/logout", h.logout)
}

type meResponse struct {
	Principal   *Principal `json:"principal"`
	Permissions []string   `json:"permissions"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.JSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "authentication required"})
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{Principal: p, Permissions: rbac.RolePermissions(p.Role)})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil && h.sessionManager != nil {
		h.logger.Info("session destroyed", slog.String("user_id", sess.User()))
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
