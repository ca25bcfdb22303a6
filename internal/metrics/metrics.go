// Package metrics exposes Prometheus instrumentation for the
// detect-and-heal pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the monitoring loop and the
// alert manager
type Metrics struct {
	ChecksTotal         *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
	HealingAttempts     *prometheus.CounterVec
	CheckDuration       *prometheus.HistogramVec
	OpenAlerts          prometheus.Gauge
	EndpointErrorRate   *prometheus.GaugeVec
}

// New registers the sentinel collectors on the given registry
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_checks_total",
			Help: "Endpoint checks by result",
		}, []string{"source", "endpoint", "result"}),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_errors_total",
			Help: "Classified errors by kind",
		}, []string{"source", "kind"}),
		HealingAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_healing_attempts_total",
			Help: "Healing passes by outcome",
		}, []string{"source", "outcome"}),
		CheckDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sentinel_check_duration_seconds",
			Help:    "Observed endpoint response times",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"source", "endpoint"}),
		OpenAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_open_alerts",
			Help: "Currently open alerts",
		}),
		EndpointErrorRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_endpoint_error_rate",
			Help: "Rolling error rate per endpoint",
		}, []string{"source", "endpoint"}),
	}

	reg.MustRegister(
		m.ChecksTotal, m.ErrorsTotal, m.HealingAttempts,
		m.CheckDuration, m.OpenAlerts, m.EndpointErrorRate,
	)
	return m
}
