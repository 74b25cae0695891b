package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/csrf"
	"github.com/assessly/assessly/internal/guard"
	"github.com/assessly/assessly/internal/observability"
	"github.com/assessly/assessly/internal/platform/httpx"
	"github.com/assessly/assessly/internal/ratelimit"
	"github.com/assessly/assessly/internal/rbac"
	"github.com/assessly/assessly/internal/security"
	"github.com/assessly/assessly/internal/shared"
)

// Limiters groups the per-family quotas. Nil limiters are skipped.
type Limiters struct {
	API    *ratelimit.Limiter
	Auth   *ratelimit.Limiter
	Export *ratelimit.Limiter
	LLM    *ratelimit.Limiter
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	Resolver        auth.Resolver
	Guard           *guard.Guard
	Routes          *rbac.RouteTable
	Monitor         *security.Monitor
	CSRF            *csrf.Service
	Limiters        Limiters
	AuthHandler     *auth.Handler
	SecurityHandler *security.Handler
	Metrics         *observability.Metrics
	// Mount attaches application handlers behind the access-control chain.
	Mount func(r chi.Router)
}

// NewRouter constructs the chi.Router with the access-control chain.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Monitor:        params.Monitor,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	resolver := params.Resolver
	if resolver == nil {
		resolver = auth.SessionResolver{}
	}
	if params.Guard != nil {
		r.Use(params.Guard.Middleware(resolver, logger, guardObserver(params.Monitor)))
	}
	if families := params.Limiters.families(); len(families) > 0 {
		r.Use(familyLimits(families, params.Monitor, logger))
	}
	if params.CSRF != nil {
		r.Use(params.CSRF.Middleware(sessionID, csrfObserver(params.Monitor), logger))
		r.Route("/api/csrf-token", csrf.NewHandler(params.CSRF, sessionID, logger).MountRoutes)
	}

	health := func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
	r.Get("/healthz", health)
	r.Get("/api/health", health)
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.SecurityHandler != nil {
		r.With(Permissions(logger).RequireAll(rbac.PermSecurityReadAll)).
			Route("/api/security", params.SecurityHandler.MountRoutes)
	}
	r.Route("/api/rbac", rbac.NewPermissionsHandler(params.Routes, auth.RoleFromRequest).MountRoutes)
	if params.Mount != nil {
		params.Mount(r)
	}

	return r
}

// Permissions gates handlers on the principal the guard stored in context.
func Permissions(logger *slog.Logger) rbac.Middleware {
	return rbac.Middleware{Subject: auth.RoleFromRequest, Logger: logger}
}

func (l Limiters) families() []limitFamily {
	var out []limitFamily
	add := func(prefix string, limiter *ratelimit.Limiter, key ratelimit.KeyFunc, methods ...string) {
		if limiter != nil {
			out = append(out, limitFamily{Prefix: prefix, Limiter: limiter, Key: key, Methods: methods})
		}
	}
	add("/api", l.API, ratelimit.KeyByPrincipal)
	add("/auth/me", l.API, ratelimit.KeyByPrincipal)
	// The sign-in quota covers credential submissions only.
	add("/auth/login", l.Auth, ratelimit.KeyByIP, http.MethodPost)
	add("/api/auth", l.Auth, ratelimit.KeyByIP, http.MethodPost)
	add("/api/export", l.Export, ratelimit.KeyByPrincipal)
	add("/api/llm", l.LLM, ratelimit.KeyByPrincipal)
	return out
}
