package csrf

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/assessly/assessly/internal/platform/httpx"
)

// Handler exposes token issuance to single-page clients.
type Handler struct {
	service   *Service
	sessionID SessionIDFunc
	logger    *slog.Logger
}

// NewHandler builds the token endpoint handler.
func NewHandler(service *Service, sessionID SessionIDFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, sessionID: sessionID, logger: logger}
}

// MountRoutes registers GET / on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getToken)
}

type tokenResponse struct {
	Token      string `json:"token"`
	HeaderName string `json:"headerName"`
}

func (h *Handler) getToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.service.Create(h.sessionID(r))
	if err != nil {
		h.logger.Error("csrf token endpoint", slog.Any("error", err))
		httpx.ProblemAt(w, r, http.StatusInternalServerError, "Token unavailable", "could not issue a CSRF token")
		return
	}
	h.service.SetCookie(w, token)
	httpx.NoStore(w)
	httpx.JSON(w, http.StatusOK, tokenResponse{Token: token, HeaderName: h.service.cfg.HeaderName})
}
