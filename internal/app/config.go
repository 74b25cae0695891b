package app

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/assessly/assessly/internal/csrf"
	"github.com/assessly/assessly/internal/platform/cache"
	"github.com/assessly/assessly/internal/platform/db"
	"github.com/assessly/assessly/internal/platform/httpx"
	"github.com/assessly/assessly/internal/ratelimit"
	"github.com/assessly/assessly/internal/security"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty" validate:"oneof=pretty text json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	// PGDSN is optional; without it security events stay in Redis and memory.
	PGDSN string `envconfig:"PG_DSN"`

	PGMaxConns int32 `envconfig:"PG_MAX_CONNS" default:"10" validate:"gte=0"`

	RedisAddr      string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	SessionSecret  string        `envconfig:"SESSION_SECRET" required:"true"`
	SessionTTL     time.Duration `envconfig:"SESSION_TTL" default:"720h"`
	SessionCookie  string        `envconfig:"SESSION_COOKIE" default:"assessly_session"`
	IdentitySource string        `envconfig:"IDENTITY_SOURCE" default:"session" validate:"oneof=session header chain"`
	LoginPath      string        `envconfig:"LOGIN_PATH" default:"/auth/login" validate:"startswith=/"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For and X-Real-IP
	// headers are believed. Empty trusts none.
	TrustedProxies []string `envconfig:"TRUSTED_PROXIES"`

	// CSRFSecret falls back to a key derived from SessionSecret.
	CSRFSecret         string        `envconfig:"CSRF_SECRET"`
	CSRFTokenLength    int           `envconfig:"CSRF_TOKEN_LENGTH" default:"32"`
	CSRFCookieName     string        `envconfig:"CSRF_COOKIE_NAME" default:"csrf-token"`
	CSRFHeaderName     string        `envconfig:"CSRF_HEADER_NAME" default:"X-CSRF-Token"`
	CSRFSessionTimeout time.Duration `envconfig:"CSRF_SESSION_TIMEOUT" default:"1h"`

	RateLimitStore   string        `envconfig:"RATE_LIMIT_STORE" default:"memory" validate:"oneof=memory redis"`
	RateLimitWindow  time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"15m"`
	RateLimitMax     int           `envconfig:"RATE_LIMIT_MAX" default:"100"`
	RateLimitMessage string        `envconfig:"RATE_LIMIT_MESSAGE" default:"Too many requests, please try again later."`
	AuthRateLimitMax int           `envconfig:"AUTH_RATE_LIMIT_MAX" default:"5"`
	GlobalRateLimit  int           `envconfig:"GLOBAL_RATE_LIMIT" default:"600" validate:"gte=0"`

	SecurityBlockThreshold int           `envconfig:"SECURITY_BLOCK_THRESHOLD" default:"5"`
	SecurityBlockWindow    time.Duration `envconfig:"SECURITY_BLOCK_WINDOW" default:"15m"`
	SecurityRetention      time.Duration `envconfig:"SECURITY_RETENTION" default:"24h"`
	SecurityMaxEvents      int           `envconfig:"SECURITY_MAX_EVENTS" default:"10000"`
	SecurityEventList      string        `envconfig:"SECURITY_EVENT_LIST" default:"security:events"`

	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5" validate:"gt=0"`

	// RouteTablePath names a YAML route table; empty uses the built-in one.
	RouteTablePath string `envconfig:"ROUTE_TABLE_PATH"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret must be provided")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	if _, err := cfg.Proxies(); err != nil {
		return nil, fmt.Errorf("app: invalid config: %w", err)
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Proxies parses TrustedProxies.
func (c *Config) Proxies() (httpx.TrustedProxies, error) {
	if c == nil {
		return nil, nil
	}
	return httpx.ParseTrustedProxies(c.TrustedProxies)
}

// CSRFKey returns the CSRF signing key.
func (c *Config) CSRFKey() ([]byte, error) {
	if c.CSRFSecret != "" {
		return []byte(c.CSRFSecret), nil
	}
	return csrf.DeriveSecret([]byte(c.SessionSecret))
}

// CSRF builds the token service configuration. Unset fields keep the
// package defaults.
func (c *Config) CSRF() (csrf.Config, error) {
	key, err := c.CSRFKey()
	if err != nil {
		return csrf.Config{}, err
	}
	cfg := csrf.DefaultConfig(key)
	if c.CSRFTokenLength > 0 {
		cfg.TokenLength = c.CSRFTokenLength
	}
	if c.CSRFCookieName != "" {
		cfg.CookieName = c.CSRFCookieName
	}
	if c.CSRFHeaderName != "" {
		cfg.HeaderName = c.CSRFHeaderName
	}
	if c.CSRFSessionTimeout > 0 {
		cfg.SessionTimeout = c.CSRFSessionTimeout
	}
	cfg.Secure = c.IsProduction()
	cfg.SameSite = http.SameSiteStrictMode
	return cfg, nil
}

// APIRateLimit is the general per-client quota.
func (c *Config) APIRateLimit() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	if c.RateLimitWindow > 0 {
		cfg.Window = c.RateLimitWindow
	}
	if c.RateLimitMax != 0 {
		cfg.MaxRequests = c.RateLimitMax
	}
	if c.RateLimitMessage != "" {
		cfg.Message = c.RateLimitMessage
	}
	return cfg
}

// AuthRateLimit is the quota on authentication endpoints.
func (c *Config) AuthRateLimit() ratelimit.Config {
	cfg := ratelimit.AuthConfig()
	if c.AuthRateLimitMax != 0 {
		cfg.MaxRequests = c.AuthRateLimitMax
	}
	return cfg
}

// Redis returns the shared Redis connection options.
func (c *Config) Redis() cache.Options {
	return cache.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Postgres returns pool options for PGDSN.
func (c *Config) Postgres() db.Options {
	return db.Options{MaxConns: c.PGMaxConns}
}

// Security builds the monitor configuration.
func (c *Config) Security() security.Config {
	cfg := security.DefaultConfig()
	if c.SecurityBlockThreshold != 0 {
		cfg.BlockThreshold = c.SecurityBlockThreshold
	}
	if c.SecurityBlockWindow != 0 {
		cfg.BlockWindow = c.SecurityBlockWindow
	}
	if c.SecurityRetention != 0 {
		cfg.Retention = c.SecurityRetention
	}
	if c.SecurityMaxEvents != 0 {
		cfg.MaxEvents = c.SecurityMaxEvents
	}
	return cfg
}
