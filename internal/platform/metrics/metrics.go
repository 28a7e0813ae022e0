package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds guard-level prometheus collectors.
type Metrics struct {
	GuardRequestsTotal   *prometheus.CounterVec
	GuardRejectionsTotal *prometheus.CounterVec
	GuardDuration        prometheus.Histogram
}

// New registers guard metrics on the default registerer. Call once from main.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers guard metrics on a specific registerer. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		GuardRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiguard_guard_requests_total",
			Help: "Total requests entering the guard pipeline, by outcome",
		}, []string{"outcome"}),
		GuardRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiguard_guard_rejections_total",
			Help: "Guard rejections by error code",
		}, []string{"code"}),
		GuardDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "apiguard_guard_duration_seconds",
			Help:    "Time spent in the guard pipeline before the handler runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RecordOutcome counts a finished pipeline pass.
func (m *Metrics) RecordOutcome(outcome string) {
	m.GuardRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordRejection counts a rejection by wire code.
func (m *Metrics) RecordRejection(code string) {
	m.GuardRejectionsTotal.WithLabelValues(code).Inc()
}
