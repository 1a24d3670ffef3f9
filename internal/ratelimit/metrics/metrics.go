package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the limiter's Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Decisions    *prometheus.CounterVec
	StoreErrors  prometheus.Counter
	Degradations *prometheus.CounterVec
	BreakerOpen  prometheus.Gauge
}

// New creates and registers the limiter metrics with reg. Pass nil to use the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_ratelimit_decisions_total",
			Help: "Rate-limit decisions by bucket and outcome (allowed, limited)",
		}, []string{"bucket", "outcome"}),
		StoreErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "medgate_ratelimit_store_errors_total",
			Help: "Failed calls to the shared counter store",
		}),
		Degradations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_ratelimit_degraded_total",
			Help: "Decisions made without the shared counter store, by bucket and fail mode",
		}, []string{"bucket", "mode"}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "medgate_ratelimit_breaker_open",
			Help: "1 while the counter store circuit breaker is open",
		}),
	}
}

func (m *Metrics) ObserveDecision(bucket string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "limited"
	}
	m.Decisions.WithLabelValues(bucket, outcome).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}

func (m *Metrics) IncrementDegraded(bucket, mode string) {
	if m == nil {
		return
	}
	m.Degradations.WithLabelValues(bucket, mode).Inc()
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
