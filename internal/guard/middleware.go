package guard

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/platform/httpx"
)

// ObserveFunc is told about every request the guard stops.
type ObserveFunc func(r *http.Request, principal *auth.Principal, d Decision)

// Middleware resolves the caller through resolver, evaluates the request and
// either continues with the principal in context or writes the decision.
func (g *Guard) Middleware(resolver auth.Resolver, logger *slog.Logger, observe ObserveFunc) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				principal = nil
				if !errors.Is(err, auth.ErrNoPrincipal) {
					logger.Warn("identity resolution failed", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
			}

			decision := g.Evaluate(principal, err, r.URL.Path)
			switch decision.Action {
			case Continue:
				if principal != nil {
					r = r.WithContext(auth.ContextWithPrincipal(r.Context(), principal))
				}
				next.ServeHTTP(w, r)
				return
			case Redirect:
				http.Redirect(w, r, decision.Location, decision.Status)
			default:
				httpx.JSON(w, decision.Status, decision.Body)
			}
			if observe != nil {
				observe(r, principal, decision)
			}
		})
	}
}
