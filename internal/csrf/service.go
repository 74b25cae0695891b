// Package csrf issues and verifies stateless, session-bound CSRF tokens of
// the form value:timestamp:signature.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/hkdf"
)

// Validation failures. Their messages are the reasons reported to clients.
var (
	ErrInvalidFormat     = errors.New("invalid format")
	ErrSignatureMismatch = errors.New("signature mismatch")
	ErrExpired           = errors.New("expired")
)

// ErrInvalidConfig reports a CSRF configuration that failed validation.
var ErrInvalidConfig = errors.New("csrf: invalid config")

// Config controls token issuance and transport.
type Config struct {
	Secret         []byte        `validate:"min=32"`
	TokenLength    int           `validate:"gte=16,lte=128"`
	CookieName     string        `validate:"required"`
	HeaderName     string        `validate:"required"`
	FormField      string        `validate:"required"`
	SessionTimeout time.Duration `validate:"gt=0"`
	Secure         bool
	SameSite       http.SameSite
	// ExemptPaths skip validation on unsafe methods; a trailing /* exempts a
	// subtree.
	ExemptPaths []string
}

// DefaultConfig returns the standard settings around secret.
func DefaultConfig(secret []byte) Config {
	return Config{
		Secret:         secret,
		TokenLength:    32,
		CookieName:     "csrf-token",
		HeaderName:     "X-CSRF-Token",
		FormField:      "csrf_token",
		SessionTimeout: time.Hour,
		Secure:         true,
		SameSite:       http.SameSiteStrictMode,
	}
}

const deriveInfo = "assessly csrf token signing key"

// DeriveSecret expands a session secret into an independent 32-byte CSRF key.
func DeriveSecret(sessionSecret []byte) ([]byte, error) {
	if len(sessionSecret) == 0 {
		return nil, fmt.Errorf("%w: empty session secret", ErrInvalidConfig)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sessionSecret, nil, []byte(deriveInfo)), key); err != nil {
		return nil, fmt.Errorf("csrf: derive secret: %w", err)
	}
	return key, nil
}

// Result is the outcome of validating one token.
type Result struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Service creates and validates tokens.
type Service struct {
	cfg  Config
	now  func() time.Time
	rand io.Reader
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the entropy source.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.rand = r
		}
	}
}

// NewService validates cfg once and returns a Service.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ExemptPaths = append([]string(nil), cfg.ExemptPaths...)
	s := &Service{cfg: cfg, now: time.Now, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Create issues a token bound to sessionID.
func (s *Service) Create(sessionID string) (string, error) {
	raw := make([]byte, s.cfg.TokenLength)
	if _, err := io.ReadFull(s.rand, raw); err != nil {
		return "", fmt.Errorf("csrf: create token: %w", err)
	}
	value := hex.EncodeToString(raw)
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	return value + ":" + ts + ":" + s.sign(sessionID, value, ts), nil
}

// Validate checks format, then signature, then age. A token aged exactly
// SessionTimeout is still valid. Tokens are not consumed.
func (s *Service) Validate(sessionID, token string) Result {
	if err := s.Check(sessionID, token); err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Valid: true}
}

// Check is Validate expressed as one of the validation sentinels, nil when
// the token is valid.
func (s *Service) Check(sessionID, token string) error {
	parts := strings.Split(token, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return ErrInvalidFormat
	}
	value, ts, sig := parts[0], parts[1], parts[2]
	issued, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidFormat
	}
	expected := s.sign(sessionID, value, ts)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrSignatureMismatch
	}
	if s.now().Sub(time.UnixMilli(issued)) > s.cfg.SessionTimeout {
		return ErrExpired
	}
	return nil
}

func (s *Service) sign(sessionID, value, ts string) string {
	mac := hmac.New(sha256.New, s.cfg.Secret)
	mac.Write([]byte(sessionID + ":" + value + ":" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
