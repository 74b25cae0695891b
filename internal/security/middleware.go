package security

import (
	"net/http"

	"github.com/assessly/assessly/internal/platform/httpx"
)

type blockedBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Middleware refuses requests from addresses ShouldBlockIP flags. The first
// refusal per address and block window is logged as a medium severity
// blocked_request event; later ones are only counted, so a flagged client
// cannot flood the event log.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpx.ClientIP(r)
		if m.ShouldBlockIP(ip) {
			m.metrics.refused()
			if m.offenders.firstRefusal(ip, m.now()) {
				m.LogEvent(EventBlockedRequest, SeverityMedium, r, nil, true)
			}
			httpx.JSON(w, http.StatusForbidden, blockedBody{
				Error:   "blocked",
				Message: "too many security violations from this address",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
