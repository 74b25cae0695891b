package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is the counter state of one key inside its current window.
type Entry struct {
	Key         string
	WindowStart time.Time
	Count       int64
}

// Store performs the atomic check-and-increment for a key. Implementations
// reset the entry when no window exists or now-start >= window.
type Store interface {
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error)
}

// Result is the outcome of one quota check.
type Result struct {
	Success    bool
	Remaining  int
	RetryAfter time.Duration
	Error      string
}

type resultJSON struct {
	Success    bool   `json:"success"`
	Remaining  int    `json:"remaining"`
	RetryAfter int64  `json:"retryAfter,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MarshalJSON renders RetryAfter in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Success:    r.Success,
		Remaining:  r.Remaining,
		RetryAfter: r.RetryAfter.Milliseconds(),
		Error:      r.Error,
	})
}

// Limiter applies one Config against a Store.
type Limiter struct {
	cfg     Config
	store   Store
	now     func() time.Time
	metrics *Metrics
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithMetrics records decisions on m.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New validates cfg and builds a limiter backed by store.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	l := &Limiter{cfg: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the quota the limiter enforces.
func (l *Limiter) Config() Config {
	return l.cfg
}

// Check counts one request for key and reports whether it fits the quota.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	now := l.now()
	entry, err := l.store.Hit(ctx, l.cfg.Name+":"+key, l.cfg.Window, now)
	if err != nil {
		l.metrics.storeError(l.cfg.Name)
		return Result{}, fmt.Errorf("ratelimit: check %s: %w", l.cfg.Name, err)
	}
	limit := int64(l.cfg.MaxRequests)
	if entry.Count <= limit {
		l.metrics.decision(l.cfg.Name, true)
		return Result{Success: true, Remaining: int(limit - entry.Count)}, nil
	}
	retry := entry.WindowStart.Add(l.cfg.Window).Sub(now)
	if retry <= 0 {
		retry = time.Millisecond
	}
	l.metrics.decision(l.cfg.Name, false)
	return Result{Success: false, Remaining: 0, RetryAfter: retry, Error: l.cfg.Message}, nil
}
