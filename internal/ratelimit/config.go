// Package ratelimit implements fixed-window request quotas with pluggable
// counter stores.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config describes one quota family.
type Config struct {
	// Name namespaces the counters so families can share a store.
	Name        string        `validate:"required,alphanum"`
	Window      time.Duration `validate:"gt=0"`
	MaxRequests int           `validate:"gt=0"`
	Message     string        `validate:"required"`
}

// ErrInvalidConfig reports a quota configuration that failed validation.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

var validate = validator.New()

// Validate checks cfg once at construction.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig is the general API quota.
func DefaultConfig() Config {
	return Config{
		Name:        "api",
		Window:      15 * time.Minute,
		MaxRequests: 100,
		Message:     "Too many requests, please try again later.",
	}
}

// AuthConfig guards sign-in and token endpoints.
func AuthConfig() Config {
	return Config{
		Name:        "auth",
		Window:      15 * time.Minute,
		MaxRequests: 5,
		Message:     "Too many authentication attempts, please try again later.",
	}
}

// ExportConfig guards data exports.
func ExportConfig() Config {
	return Config{
		Name:        "export",
		Window:      time.Hour,
		MaxRequests: 10,
		Message:     "Export limit reached, please try again later.",
	}
}

// LLMConfig guards LLM-backed endpoints.
func LLMConfig() Config {
	return Config{
		Name:        "llm",
		Window:      time.Minute,
		MaxRequests: 20,
		Message:     "Too many AI requests, please slow down.",
	}
}
