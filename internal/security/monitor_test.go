package security

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assessly/assessly/internal/auth"
	"github.com/assessly/assessly/internal/rbac"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor(t *testing.T, clock *testClock, mutate func(*Config)) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMonitor(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return m
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/users", nil)
	req.RemoteAddr = ip + ":4000"
	req.Header.Set("User-Agent", "curl/8.0")
	return req
}

func TestLogEventExtractsRequestFacts(t *testing.T) {
	m := newTestMonitor(t, newTestClock(), nil)
	req := requestFrom("192.0.2.10")
	req = req.WithContext(auth.ContextWithPrincipal(req.Context(), &auth.Principal{ID: "u-7", Role: rbac.RoleUser}))

	details := map[string]any{"reason": "insufficient_role"}
	e := m.LogEvent(EventForbiddenAccess, SeverityHigh, req, details, false)
	details["reason"] = "mutated"

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "192.0.2.10", e.IP)
	assert.Equal(t, "curl/8.0", e.UserAgent)
	assert.Equal(t, "/api/admin/users", e.Path)
	assert.Equal(t, http.MethodPost, e.Method)
	assert.Equal(t, "u-7", e.UserID)
	assert.Equal(t, "insufficient_role", e.Details["reason"])
}

func TestLogEventToleratesMissingRequest(t *testing.T) {
	m := newTestMonitor(t, newTestClock(), nil)
	e := m.LogEvent(EventSuspiciousActivity, SeverityLow, nil, nil, false)
	assert.Equal(t, "unknown", e.IP)
	assert.Equal(t, "unknown", e.UserAgent)
	assert.Equal(t, "unknown", e.Path)
	assert.Equal(t, "unknown", e.Method)

	bare := &http.Request{}
	e = m.LogEvent(EventSuspiciousActivity, SeverityLow, bare, nil, false)
	assert.Equal(t, "unknown", e.IP)
	assert.Equal(t, "unknown", e.UserAgent)

	var nilMonitor *Monitor
	assert.NotPanics(t, func() { nilMonitor.LogEvent(EventLoginFailure, SeverityHigh, nil, nil, false) })
	assert.False(t, nilMonitor.ShouldBlockIP("192.0.2.1"))
}

func TestShouldBlockIPFlipsOnSixthHighEvent(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock, nil)

	for i := 0; i < 5; i++ {
		m.LogEvent(EventForbiddenAccess, SeverityHigh, requestFrom("198.51.100.1"), nil, false)
		clock.Advance(time.Second)
	}
	assert.False(t, m.ShouldBlockIP("198.51.100.1"))

	m.LogEvent(EventCSRFViolation, SeverityCritical, requestFrom("198.51.100.1"), nil, false)
	assert.True(t, m.ShouldBlockIP("198.51.100.1"))
	assert.False(t, m.ShouldBlockIP("198.51.100.2"), "other addresses are unaffected")
	assert.Equal(t, []string{"198.51.100.1"}, m.BlockedIPs())
}

func TestShouldBlockIPIgnoresLowSeverityAndOldEvents(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock, nil)

	for i := 0; i < 10; i++ {
		m.LogEvent(EventRateLimitExceeded, SeverityMedium, requestFrom("203.0.113.5"), nil, false)
	}
	assert.False(t, m.ShouldBlockIP("203.0.113.5"))

	for i := 0; i < 6; i++ {
		m.LogEvent(EventForbiddenAccess, SeverityHigh, requestFrom("203.0.113.6"), nil, false)
	}
	require.True(t, m.ShouldBlockIP("203.0.113.6"))
	clock.Advance(15*time.Minute + time.Second)
	assert.False(t, m.ShouldBlockIP("203.0.113.6"), "window elapsed")
}

func TestBlockThresholdIsConfigurable(t *testing.T) {
	m := newTestMonitor(t, newTestClock(), func(c *Config) { c.BlockThreshold = 1 })
	m.LogEvent(EventLoginFailure, SeverityHigh, requestFrom("192.0.2.3"), nil, false)
	assert.False(t, m.ShouldBlockIP("192.0.2.3"))
	m.LogEvent(EventLoginFailure, SeverityHigh, requestFrom("192.0.2.3"), nil, false)
	assert.True(t, m.ShouldBlockIP("192.0.2.3"))
}

func TestGetMetricsWindow(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock, func(c *Config) { c.HighActivityThreshold = 3 })

	m.LogEvent(EventLoginFailure, SeverityHigh, requestFrom("192.0.2.1"), nil, false)
	clock.Advance(2 * time.Hour)
	for i := 0; i < 3; i++ {
		m.LogEvent(EventRateLimitExceeded, SeverityMedium, requestFrom("192.0.2.2"), nil, false)
	}
	m.LogEvent(EventBlockedRequest, SeverityMedium, requestFrom("192.0.2.3"), nil, true)

	metrics := m.GetMetrics(time.Hour)
	assert.Equal(t, 4, metrics.TotalEvents)
	assert.Equal(t, 3, metrics.EventsByType[EventRateLimitExceeded])
	assert.Zero(t, metrics.EventsByType[EventLoginFailure])
	assert.Equal(t, 4, metrics.EventsBySeverity[SeverityMedium])
	assert.Equal(t, 1, metrics.BlockedCount)
	assert.Equal(t, 1, metrics.HighActivityIPs)
	require.Len(t, metrics.TopIPs, 2)
	assert.Equal(t, IPCount{IP: "192.0.2.2", Count: 3}, metrics.TopIPs[0])

	assert.Equal(t, 5, m.GetMetrics(3*time.Hour).TotalEvents)
}

func TestGenerateReportOrdersNewestFirst(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock, nil)

	var ids []string
	for i := 0; i < 25; i++ {
		ids = append(ids, m.LogEvent(EventInvalidInput, SeverityLow, requestFrom("192.0.2.9"), nil, false).ID)
		clock.Advance(time.Second)
	}

	report := m.GenerateReport(time.Hour)
	assert.Equal(t, 25, report.Summary.TotalEvents)
	assert.Equal(t, 25, report.EventsByType[EventInvalidInput])
	require.Len(t, report.RecentEvents, 20)
	assert.Equal(t, ids[24], report.RecentEvents[0].ID)
	assert.Equal(t, ids[5], report.RecentEvents[19].ID)
	assert.Equal(t, "1h0m0s", report.Window)
}

func TestMonitorRetentionCap(t *testing.T) {
	clock := newTestClock()
	m := newTestMonitor(t, clock, func(c *Config) { c.MaxEvents = 3 })
	for i := 0; i < 5; i++ {
		m.LogEvent(EventInvalidInput, SeverityLow, nil, nil, false)
	}
	assert.Equal(t, 3, m.GetMetrics(time.Hour).TotalEvents)
}

func TestNewMonitorValidatesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlockSeverity = "severe"
	_, err := NewMonitor(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.BlockWindow = 0
	_, err = NewMonitor(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConcurrentLogging(t *testing.T) {
	m := newTestMonitor(t, newTestClock(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.LogEvent(EventForbiddenAccess, SeverityHigh, requestFrom("192.0.2.77"), nil, false)
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, m.GetMetrics(time.Minute).TotalEvents)
}
