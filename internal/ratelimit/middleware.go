package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/platform/httpx"
)

// KeyFunc derives the quota key of a request.
type KeyFunc func(r *http.Request) string

// LimitedFunc is told about every rejected request.
type LimitedFunc func(r *http.Request, key string, res Result)

// KeyByIP keys requests by client address.
func KeyByIP(r *http.Request) string {
	return "ip:" + httpx.ClientIP(r)
}

// KeyByPrincipal keys requests by signed-in user, falling back to the
// client address for anonymous callers.
func KeyByPrincipal(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil && p.ID != "" {
		return "user:" + p.ID
	}
	return KeyByIP(r)
}

// Middleware enforces limiter on every request. Store failures let the
// request through and are logged.
func Middleware(limiter *Limiter, key KeyFunc, onLimited LimitedFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = KeyByIP
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := strconv.Itoa(limiter.cfg.MaxRequests)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			res, err := limiter.Check(r.Context(), k)
			if err != nil {
				logger.Warn("rate limit store unavailable, allowing request",
					slog.String("limiter", limiter.cfg.Name), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if res.Success {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res)))
			if onLimited != nil {
				onLimited(r, k, res)
			}
			httpx.JSON(w, http.StatusTooManyRequests, res)
		})
	}
}

func retryAfterSeconds(res Result) int {
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
