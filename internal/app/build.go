package app

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/assessly/assessly/internal/guard"
	"github.com/assessly/assessly/internal/ratelimit"
	"github.com/assessly/assessly/internal/rbac"
)

// NewRateLimitStore picks the counter backend named by RateLimitStore.
// client may be nil when the memory store is selected.
func NewRateLimitStore(cfg *Config, client redis.Scripter) (ratelimit.Store, error) {
	switch cfg.RateLimitStore {
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("app: redis rate limit store needs a client")
		}
		return ratelimit.NewRedisStore(client, ""), nil
	case "", "memory":
		return ratelimit.NewMemoryStore(ratelimit.DefaultMemoryCapacity)
	default:
		return nil, fmt.Errorf("app: unknown rate limit store %q", cfg.RateLimitStore)
	}
}

// NewLimiters builds the quota families over one shared store.
func NewLimiters(cfg *Config, store ratelimit.Store, metrics *ratelimit.Metrics) (Limiters, error) {
	var out Limiters
	build := func(dst **ratelimit.Limiter, lc ratelimit.Config) error {
		l, err := ratelimit.New(lc, store, ratelimit.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("app: %s limiter: %w", lc.Name, err)
		}
		*dst = l
		return nil
	}
	if err := build(&out.API, cfg.APIRateLimit()); err != nil {
		return Limiters{}, err
	}
	if err := build(&out.Auth, cfg.AuthRateLimit()); err != nil {
		return Limiters{}, err
	}
	if err := build(&out.Export, ratelimit.ExportConfig()); err != nil {
		return Limiters{}, err
	}
	if err := build(&out.LLM, ratelimit.LLMConfig()); err != nil {
		return Limiters{}, err
	}
	return out, nil
}

// NewGuard loads the route table and builds the guard around it.
func NewGuard(cfg *Config) (*guard.Guard, *rbac.RouteTable, error) {
	routes, err := rbac.LoadRouteTableFile(cfg.RouteTablePath)
	if err != nil {
		return nil, nil, err
	}
	gc := guard.DefaultConfig()
	gc.LoginPath = cfg.LoginPath
	gc.Routes = routes
	g, err := guard.New(gc)
	if err != nil {
		return nil, nil, err
	}
	return g, routes, nil
}
