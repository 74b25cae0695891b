package security

import "github.com/prometheus/client_golang/prometheus"

// Collectors exposes prometheus collectors for the monitor.
type Collectors struct {
	events       *prometheus.CounterVec
	blocked      prometheus.Counter
	sinkDrops    prometheus.Counter
	sinkFailures prometheus.Counter
}

// NewCollectors registers the security collectors on registerer.
func NewCollectors(registerer prometheus.Registerer) *Collectors {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Collectors{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessly_security_events_total",
			Help: "Security events recorded, by type and severity.",
		}, []string{"type", "severity"}),
		blocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessly_security_blocked_requests_total",
			Help: "Requests refused because the client address was flagged.",
		}),
		sinkDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessly_security_sink_dropped_total",
			Help: "Events dropped because the sink queue was full.",
		}),
		sinkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assessly_security_sink_failures_total",
			Help: "Sink writes that returned an error.",
		}),
	}
	registerer.MustRegister(m.events, m.blocked, m.sinkDrops, m.sinkFailures)
	return m
}

func (m *Collectors) event(e Event) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(e.Type), string(e.Severity)).Inc()
}

func (m *Collectors) refused() {
	if m != nil {
		m.blocked.Inc()
	}
}

func (m *Collectors) sinkDropped() {
	if m != nil {
		m.sinkDrops.Inc()
	}
}

func (m *Collectors) sinkFailed() {
	if m != nil {
		m.sinkFailures.Inc()
	}
}
