// Package security records security events, aggregates them for dashboards
// and flags client addresses that keep tripping high-severity checks.
package security

import (
	"sort"
	"time"
)

// EventType classifies a security event.
type EventType string

// Known event types.
const (
	EventUnauthorizedAccess EventType = "unauthorized_access"
	EventForbiddenAccess    EventType = "forbidden_access"
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventCSRFViolation      EventType = "csrf_violation"
	EventBlockedRequest     EventType = "blocked_request"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventLoginFailure       EventType = "login_failure"
	EventInvalidInput       EventType = "invalid_input"
)

// Severity orders events by impact.
type Severity string

// Severities from least to most severe.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal of s, zero when unknown.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is as severe as floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() > 0 && s.Rank() >= floor.Rank()
}

// Event is one recorded security occurrence.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	IP        string         `json:"ip"`
	UserAgent string         `json:"userAgent"`
	Path      string         `json:"path"`
	Method    string         `json:"method"`
	UserID    string         `json:"userId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Blocked   bool           `json:"blocked"`
}

// IPCount pairs an address with its event count.
type IPCount struct {
	IP    string `json:"ip"`
	Count int    `json:"count"`
}

// Metrics summarises events over a window.
type Metrics struct {
	TotalEvents      int               `json:"totalEvents"`
	EventsByType     map[EventType]int `json:"eventsByType"`
	EventsBySeverity map[Severity]int  `json:"eventsBySeverity"`
	TopIPs           []IPCount         `json:"topIPs"`
	BlockedCount     int               `json:"blockedCount"`
	HighActivityIPs  int               `json:"highActivityIPs"`
}

// TopIPLimit caps Metrics.TopIPs.
const TopIPLimit = 10

// Aggregate folds events into Metrics. Addresses with at least
// highActivity events count as high activity.
func Aggregate(events []Event, highActivity int) Metrics {
	m := Metrics{
		EventsByType:     make(map[EventType]int),
		EventsBySeverity: make(map[Severity]int),
	}
	perIP := make(map[string]int)
	for _, e := range events {
		m.TotalEvents++
		m.EventsByType[e.Type]++
		m.EventsBySeverity[e.Severity]++
		if e.Blocked {
			m.BlockedCount++
		}
		perIP[e.IP]++
	}
	ranked := make([]IPCount, 0, len(perIP))
	for ip, n := range perIP {
		ranked = append(ranked, IPCount{IP: ip, Count: n})
		if highActivity > 0 && n >= highActivity {
			m.HighActivityIPs++
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].IP < ranked[j].IP
	})
	if len(ranked) > TopIPLimit {
		ranked = ranked[:TopIPLimit]
	}
	m.TopIPs = ranked
	return m
}

// FlaggedIPs returns, sorted, the addresses with more than threshold events
// at or above floor.
func FlaggedIPs(events []Event, floor Severity, threshold int) []string {
	counts := make(map[string]int)
	for _, e := range events {
		if e.Severity.AtLeast(floor) {
			counts[e.IP]++
		}
	}
	var out []string
	for ip, n := range counts {
		if n > threshold {
			out = append(out, ip)
		}
	}
	sort.Strings(out)
	return out
}
