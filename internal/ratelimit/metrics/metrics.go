package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds rate limiter prometheus collectors.
type Metrics struct {
	ExceededTotal   *prometheus.CounterVec
	StoreErrorTotal prometheus.Counter
	FailOpenTotal   prometheus.Counter
}

// New registers limiter metrics on the default registerer. Call once from main.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers limiter metrics on a specific registerer. Tests pass a
// fresh registry to avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ExceededTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apiguard_ratelimit_exceeded_total",
			Help: "Requests rejected because the window budget was exhausted, by route",
		}, []string{"route"}),
		StoreErrorTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiguard_ratelimit_store_errors_total",
			Help: "Counter store failures during rate limit checks",
		}),
		FailOpenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "apiguard_ratelimit_fail_open_total",
			Help: "Checks admitted despite a store failure (development mode only)",
		}),
	}
}

// RecordExceeded counts a budget rejection for a route.
func (m *Metrics) RecordExceeded(route string) {
	m.ExceededTotal.WithLabelValues(route).Inc()
}

// RecordStoreError counts a counter store failure.
func (m *Metrics) RecordStoreError() {
	m.StoreErrorTotal.Inc()
}

// RecordFailOpen counts a check admitted despite a store failure.
func (m *Metrics) RecordFailOpen() {
	m.FailOpenTotal.Inc()
}
