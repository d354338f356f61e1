// Package metrics provides per-instance Prometheus metrics for the gateway.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for one gateway instance. Each
// instance owns its own registry so tests can run several gateways without
// cross-contamination. All record methods are nil-receiver safe.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	RateLimitRejections  *prometheus.CounterVec
	UpstreamRetriesTotal prometheus.Counter
	BreakerTripsTotal    prometheus.Counter
	BackupFailuresTotal  prometheus.Counter
	BackupDroppedTotal   prometheus.Counter
	ActiveSessions       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Total chat requests by outcome.",
			},
			[]string{"status"},
		),
		RateLimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_rate_limit_rejections_total",
				Help: "Requests rejected by the rate limiter, by tier.",
			},
			[]string{"tier"},
		),
		UpstreamRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_upstream_retries_total",
				Help: "Retries performed against the upstream provider.",
			},
		),
		BreakerTripsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_breaker_trips_total",
				Help: "Circuit breaker trips.",
			},
		),
		BackupFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_session_backup_failures_total",
				Help: "Session mirror writes that failed.",
			},
		),
		BackupDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_session_backup_dropped_total",
				Help: "Session backups dropped on queue overflow.",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_active_sessions",
				Help: "Live sessions currently owned by this instance.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RateLimitRejections)
	reg.MustRegister(m.UpstreamRetriesTotal)
	reg.MustRegister(m.BreakerTripsTotal)
	reg.MustRegister(m.BackupFailuresTotal)
	reg.MustRegister(m.BackupDroppedTotal)
	reg.MustRegister(m.ActiveSessions)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the chat request counter.
func (m *Metrics) RecordRequest(status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordRateLimited increments the rejection counter for a tier.
func (m *Metrics) RecordRateLimited(tier string) {
	if m == nil {
		return
	}
	m.RateLimitRejections.WithLabelValues(tier).Inc()
}

// RecordRetry increments the upstream retry counter.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.UpstreamRetriesTotal.Inc()
}

// RecordBreakerTrip increments the breaker trip counter.
func (m *Metrics) RecordBreakerTrip() {
	if m == nil {
		return
	}
	m.BreakerTripsTotal.Inc()
}

// RecordBackupFailure increments the mirror write failure counter.
func (m *Metrics) RecordBackupFailure() {
	if m == nil {
		return
	}
	m.BackupFailuresTotal.Inc()
}

// RecordBackupDropped increments the overflow drop counter.
func (m *Metrics) RecordBackupDropped() {
	if m == nil {
		return
	}
	m.BackupDroppedTotal.Inc()
}

// SetActiveSessions sets the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
