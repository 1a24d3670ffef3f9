// Package metrics holds the Prometheus metrics of the audit publishers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks access-record and security-event delivery. A nil *Metrics
// records nothing.
type Metrics struct {
	RecordsWritten  *prometheus.CounterVec
	SinkFailures    *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	EventsPublished prometheus.Counter
	EventsDropped   prometheus.Counter
	EventsSampled   prometheus.Counter
	BufferDepth     prometheus.Gauge
}

// New creates and registers the audit metrics with reg. Pass nil to use the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_audit_records_written_total",
			Help: "Access records accepted by a sink, by sink and phase",
		}, []string{"sink", "phase"}),
		SinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medgate_audit_sink_failures_total",
			Help: "Access records a sink failed to persist, by sink and phase",
		}, []string{"sink", "phase"}),
		PersistDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "medgate_audit_primary_persist_seconds",
			Help:    "Time spent writing an access record to the primary sink",
			Buckets: prometheus.DefBuckets,
		}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_security_events_published_total",
			Help: "Security events delivered to the security channel",
		}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_security_events_dropped_total",
			Help: "Security events dropped because the buffer was full or delivery failed",
		}),
		EventsSampled: f.NewCounter(prometheus.CounterOpts{
			Name: "medgate_audit_security_events_sampled_out_total",
			Help: "Security events skipped by sampling",
		}),
		BufferDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "medgate_audit_security_buffer_depth",
			Help: "Security events waiting to be delivered",
		}),
	}
}

func (m *Metrics) IncWritten(sink, phase string) {
	if m == nil {
		return
	}
	m.RecordsWritten.WithLabelValues(sink, phase).Inc()
}

func (m *Metrics) IncSinkFailure(sink, phase string) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(sink, phase).Inc()
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m == nil {
		return
	}
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) AddPublished(n int) {
	if m == nil {
		return
	}
	m.EventsPublished.Add(float64(n))
}

func (m *Metrics) AddDropped(n int) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(float64(n))
}

func (m *Metrics) IncSampled() {
	if m == nil {
		return
	}
	m.EventsSampled.Inc()
}

func (m *Metrics) SetBufferDepth(n int) {
	if m == nil {
		return
	}
	m.BufferDepth.Set(float64(n))
}
