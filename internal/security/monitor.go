package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/platform/httpx"
)

// Config tunes retention and the block heuristic.
type Config struct {
	// BlockThreshold is the number of qualifying events an address may
	// accumulate inside BlockWindow before it is flagged.
	BlockThreshold int           `validate:"gt=0"`
	BlockWindow    time.Duration `validate:"gt=0"`
	BlockSeverity  Severity      `validate:"oneof=low medium high critical"`
	// HighActivityThreshold marks an address as high activity in Metrics.
	HighActivityThreshold int           `validate:"gt=0"`
	RecentEvents          int           `validate:"gt=0"`
	MaxEvents             int           `validate:"gt=0"`
	Retention             time.Duration `validate:"gt=0"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BlockThreshold:        5,
		BlockWindow:           15 * time.Minute,
		BlockSeverity:         SeverityHigh,
		HighActivityThreshold: 10,
		RecentEvents:          20,
		MaxEvents:             10000,
		Retention:             24 * time.Hour,
	}
}

// ErrInvalidConfig reports a monitor configuration that failed validation.
var ErrInvalidConfig = errors.New("security: invalid config")

// Report is a read-only snapshot for dashboards.
type Report struct {
	GeneratedAt      time.Time         `json:"generatedAt"`
	Window           string            `json:"window"`
	Summary          Metrics           `json:"summary"`
	EventsByType     map[EventType]int `json:"eventsByType"`
	EventsBySeverity map[Severity]int  `json:"eventsBySeverity"`
	RecentEvents     []Event           `json:"recentEvents"`
	FlaggedIPs       []string          `json:"flaggedIPs"`
}

// Monitor records events and answers aggregate questions about them. A nil
// Monitor discards events.
type Monitor struct {
	cfg       Config
	store     EventStore
	now       func() time.Time
	logger    *slog.Logger
	forwarder *Forwarder
	metrics   *Collectors
	offenders *offenders
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithStore replaces the in-memory event store.
func WithStore(store EventStore) Option {
	return func(m *Monitor) { m.store = store }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithForwarder copies every event to an external sink.
func WithForwarder(f *Forwarder) Option {
	return func(m *Monitor) { m.forwarder = f }
}

// WithCollectors records events on prometheus collectors.
func WithCollectors(metrics *Collectors) Option {
	return func(m *Monitor) { m.metrics = metrics }
}

// NewMonitor validates cfg and returns a Monitor.
func NewMonitor(cfg Config, opts ...Option) (*Monitor, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	m := &Monitor{
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default(),
		offenders: newOffenders(cfg.BlockWindow, cfg.BlockThreshold),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = NewMemoryStore(cfg.MaxEvents, cfg.Retention, m.now)
	}
	return m, nil
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// LogEvent records an event built from r. It never fails; facts missing from
// the request are recorded as "unknown".
func (m *Monitor) LogEvent(typ EventType, severity Severity, r *http.Request, details map[string]any, blocked bool) Event {
	e := Event{
		ID:        newEventID(),
		Type:      typ,
		Severity:  severity,
		IP:        httpx.UnknownValue,
		UserAgent: httpx.UnknownValue,
		Path:      httpx.UnknownValue,
		Method:    httpx.UnknownValue,
		Blocked:   blocked,
	}
	if len(details) > 0 {
		e.Details = make(map[string]any, len(details))
		for k, v := range details {
			e.Details[k] = v
		}
	}
	if r != nil {
		e.IP = httpx.ClientIP(r)
		if ua := r.UserAgent(); ua != "" {
			e.UserAgent = ua
		}
		if r.URL != nil && r.URL.Path != "" {
			e.Path = r.URL.Path
		}
		if r.Method != "" {
			e.Method = r.Method
		}
		if p := auth.PrincipalFromContext(r.Context()); p != nil {
			e.UserID = p.ID
		}
	}
	if m == nil {
		e.Timestamp = time.Now()
		return e
	}
	e.Timestamp = m.now()
	m.store.Append(e)
	if severity.AtLeast(m.cfg.BlockSeverity) && e.IP != httpx.UnknownValue {
		m.offenders.record(e.IP, e.Timestamp, e.Timestamp)
	}
	m.metrics.event(e)
	m.forwarder.Enqueue(e)

	level := slog.LevelInfo
	if severity.AtLeast(SeverityHigh) {
		level = slog.LevelWarn
	}
	m.logger.Log(ctxOf(r), level, "security event",
		slog.String("event_id", e.ID),
		slog.String("type", string(e.Type)),
		slog.String("severity", string(e.Severity)),
		slog.String("ip", e.IP),
		slog.String("method", e.Method),
		slog.String("path", e.Path),
		slog.Bool("blocked", e.Blocked))
	return e
}

// GetMetrics aggregates events in [now-window, now].
func (m *Monitor) GetMetrics(window time.Duration) Metrics {
	if m == nil {
		return Aggregate(nil, 0)
	}
	return Aggregate(m.window(window), m.cfg.HighActivityThreshold)
}

// ShouldBlockIP reports whether ip accumulated more than BlockThreshold
// events at or above BlockSeverity inside BlockWindow. The answer is
// advisory.
func (m *Monitor) ShouldBlockIP(ip string) bool {
	if m == nil || ip == "" {
		return false
	}
	return m.offenders.count(ip, m.now()) > m.cfg.BlockThreshold
}

// BlockedIPs lists every address ShouldBlockIP currently flags.
func (m *Monitor) BlockedIPs() []string {
	if m == nil {
		return nil
	}
	return m.offenders.flagged(m.cfg.BlockThreshold, m.now())
}

// IPEvents returns the events from ip inside window, newest first.
func (m *Monitor) IPEvents(ip string, window time.Duration) []Event {
	if m == nil {
		return nil
	}
	var out []Event
	events := m.window(window)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].IP == ip {
			out = append(out, events[i])
		}
	}
	return out
}

// GenerateReport snapshots the events inside window.
func (m *Monitor) GenerateReport(window time.Duration) Report {
	if m == nil {
		summary := Aggregate(nil, 0)
		return Report{
			GeneratedAt:      time.Now(),
			Window:           window.String(),
			Summary:          summary,
			EventsByType:     summary.EventsByType,
			EventsBySeverity: summary.EventsBySeverity,
			RecentEvents:     []Event{},
		}
	}
	events := m.window(window)
	summary := Aggregate(events, m.cfg.HighActivityThreshold)
	recent := make([]Event, 0, m.cfg.RecentEvents)
	for i := len(events) - 1; i >= 0 && len(recent) < m.cfg.RecentEvents; i-- {
		recent = append(recent, events[i])
	}
	return Report{
		GeneratedAt:      m.now(),
		Window:           window.String(),
		Summary:          summary,
		EventsByType:     summary.EventsByType,
		EventsBySeverity: summary.EventsBySeverity,
		RecentEvents:     recent,
		FlaggedIPs:       m.BlockedIPs(),
	}
}

func (m *Monitor) window(window time.Duration) []Event {
	now := m.now()
	events := m.store.Since(now.Add(-window))
	end := len(events)
	for end > 0 && events[end-1].Timestamp.After(now) {
		end--
	}
	return events[:end]
}

func ctxOf(r *http.Request) context.Context {
	if r == nil {
		return context.Background()
	}
	return r.Context()
}

func newEventID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("evt-%d", time.Now().UnixNano())
}
