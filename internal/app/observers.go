package app

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/guard"
	"github.com/assessly/assessly/internal/ratelimit"
	"github.com/assessly/assessly/internal/security"
)

// guardObserver reports guard refusals to the monitor.
func guardObserver(m *security.Monitor) guard.ObserveFunc {
	return func(r *http.Request, p *auth.Principal, d guard.Decision) {
		details := map[string]any{"status": d.Status}
		if p != nil {
			details["role"] = p.Role.String()
		}
		switch {
		case d.Action == guard.Redirect:
			m.LogEvent(security.EventUnauthorizedAccess, security.SeverityLow, r, details, false)
		case d.Status == http.StatusUnauthorized:
			m.LogEvent(security.EventUnauthorizedAccess, security.SeverityMedium, r, details, true)
		default:
			if d.Body != nil {
				details["reason"] = d.Body.Error
			}
			m.LogEvent(security.EventForbiddenAccess, security.SeverityHigh, r, details, true)
		}
	}
}

// rateLimitObserver reports quota rejections to the monitor.
func rateLimitObserver(m *security.Monitor, family string) ratelimit.LimitedFunc {
	return func(r *http.Request, key string, res ratelimit.Result) {
		m.LogEvent(security.EventRateLimitExceeded, security.SeverityMedium, r, map[string]any{
			"limiter":      family,
			"key":          key,
			"retryAfterMs": res.RetryAfter.Milliseconds(),
		}, true)
	}
}

// csrfObserver reports rejected tokens to the monitor.
func csrfObserver(m *security.Monitor) func(r *http.Request, reason string) {
	return func(r *http.Request, reason string) {
		m.LogEvent(security.EventCSRFViolation, security.SeverityHigh, r, map[string]any{"reason": reason}, true)
	}
}

// limitFamily routes requests below Prefix to one limiter. A family with
// Methods only claims requests using one of them.
type limitFamily struct {
	Prefix  string
	Limiter *ratelimit.Limiter
	Key     ratelimit.KeyFunc
	Methods []string
}

func (f limitFamily) claims(r *http.Request) bool {
	if r.URL.Path != f.Prefix && !strings.HasPrefix(r.URL.Path, strings.TrimSuffix(f.Prefix, "/")+"/") {
		return false
	}
	if len(f.Methods) == 0 {
		return true
	}
	for _, m := range f.Methods {
		if r.Method == m {
			return true
		}
	}
	return false
}

// unmetered paths bypass every quota.
var unmetered = map[string]bool{"/api/health": true, "/healthz": true, "/metrics": true}

// familyLimits applies the limiter of the longest family claiming the
// request. Requests outside every family pass untouched.
func familyLimits(families []limitFamily, monitor *security.Monitor, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := make([]http.Handler, len(families))
		for i, f := range families {
			wrapped[i] = ratelimit.Middleware(f.Limiter, f.Key,
				rateLimitObserver(monitor, f.Limiter.Config().Name), logger)(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if unmetered[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			best := -1
			for i, f := range families {
				if !f.claims(r) {
					continue
				}
				if best < 0 || len(f.Prefix) > len(families[best].Prefix) {
					best = i
				}
			}
			if best < 0 {
				next.ServeHTTP(w, r)
				return
			}
			wrapped[best].ServeHTTP(w, r)
		})
	}
}
