package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-wide Prometheus metrics for the gateway pipeline.
type Metrics struct {
	Requests        *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	StageDuration   *prometheus.HistogramVec
	SecurityEvents  *prometheus.CounterVec
}

// New creates and registers the gateway metrics with reg. Pass nil to use the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_gateway_requests_total",
			Help: "Requests that completed the gateway pipeline, by route and status class",
		}, []string{"route", "status_class"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_gateway_rejections_total",
			Help: "Requests terminated by a gateway stage, by stage and error code",
		}, []string{"stage", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_gateway_request_duration_seconds",
			Help:    "End-to-end request duration through the gateway",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medgate_gateway_stage_duration_seconds",
			Help:    "Time spent inside each gateway stage",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"stage"}),
		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_security_events_total",
			Help: "Security events emitted by the gateway, by action",
		}, []string{"action"}),
	}
}

// ObserveRejection counts a terminal outcome from a stage.
func (m *Metrics) ObserveRejection(stage, code string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(stage, code).Inc()
}

// ObserveStage records time spent in a stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// ObserveRequest records a completed request.
func (m *Metrics) ObserveRequest(route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(route, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(seconds)
}

// IncSecurityEvent counts an emitted security event.
func (m *Metrics) IncSecurityEvent(action string) {
	if m == nil {
		return
	}
	m.SecurityEvents.WithLabelValues(action).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
