// Package metrics exposes the router's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors updated by the engine, breaker, and hub.
type Metrics struct {
	PaymentsTotal   *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	CircuitOpen     *prometheus.GaugeVec
	WSClients       prometheus.Gauge
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "payments_total",
			Help:      "Payments processed, by terminal status.",
		}, []string{"status"}),
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "processor_attempts_total",
			Help:      "Adapter invocations, by processor and outcome.",
		}, []string{"processor", "outcome"}),
		AttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cascade",
			Name:      "processor_attempt_duration_seconds",
			Help:      "Wall-clock duration of adapter invocations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"}),
		CircuitOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cascade",
			Name:      "circuit_breaker_open",
			Help:      "1 when the processor's circuit is open.",
		}, []string{"processor"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cascade",
			Name:      "ws_clients",
			Help:      "Currently connected push subscribers.",
		}),
	}
	reg.MustRegister(m.PaymentsTotal, m.AttemptsTotal, m.AttemptDuration, m.CircuitOpen, m.WSClients)
	return m
}
