package security

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/assessly/assessly/internal/platform/httpx"
)

// DefaultReportWindow applies when a request names no window.
const DefaultReportWindow = time.Hour

// maxReportWindow bounds caller-supplied windows.
const maxReportWindow = 7 * 24 * time.Hour

// Handler serves monitor snapshots to operators.
type Handler struct {
	monitor *Monitor
	logger  *slog.Logger
	reports singleflight.Group
}

// NewHandler builds the dashboard handler.
func NewHandler(monitor *Monitor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{monitor: monitor, logger: logger}
}

// MountRoutes registers the monitor endpoints on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/metrics", h.getMetrics)
	r.Get("/report", h.getReport)
	r.Get("/ips/{ip}", h.getIP)
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, h.monitor.GetMetrics(window))
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(w, r)
	if !ok {
		return
	}
	v, _, shared := h.reports.Do(window.String(), func() (any, error) {
		return h.monitor.GenerateReport(window), nil
	})
	if shared {
		h.logger.Debug("security report shared", slog.String("window", window.String()))
	}
	httpx.JSON(w, http.StatusOK, v)
}

type ipStatus struct {
	IP      string  `json:"ip"`
	Blocked bool    `json:"blocked"`
	Events  []Event `json:"events"`
}

func (h *Handler) getIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	window := h.monitor.Config().BlockWindow
	events := h.monitor.IPEvents(ip, window)
	if events == nil {
		events = []Event{}
	}
	httpx.JSON(w, http.StatusOK, ipStatus{IP: ip, Blocked: h.monitor.ShouldBlockIP(ip), Events: events})
}

func parseWindow(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return DefaultReportWindow, true
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 || window > maxReportWindow {
		httpx.ProblemAt(w, r, http.StatusBadRequest, "Invalid window", "window must be a positive duration up to 168h")
		return 0, false
	}
	return window, true
}
