package ratelimit

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts limiter decisions.
type Metrics struct {
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewMetrics registers the limiter collectors on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assessly_ratelimit_decisions_total",
		Help: "Rate limit decisions partitioned by limiter and outcome.",
	}, []string{"limiter", "outcome"})
	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assessly_ratelimit_store_errors_total",
		Help: "Counter store failures that let requests through.",
	}, []string{"limiter"})
	registerer.MustRegister(decisions, storeErrors)
	return &Metrics{decisions: decisions, storeErrors: storeErrors}
}

func (m *Metrics) decision(limiter string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.decisions.WithLabelValues(limiter, outcome).Inc()
}

func (m *Metrics) storeError(limiter string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(limiter).Inc()
}
