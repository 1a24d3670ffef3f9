package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncWritten("kafka", "request")
	m.IncWritten("kafka", "request")
	m.IncSinkFailure("activity_log", "response")
	m.AddPublished(3)
	m.AddDropped(2)
	m.IncSampled()
	m.SetBufferDepth(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsWritten.WithLabelValues("kafka", "request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SinkFailures.WithLabelValues("activity_log", "response")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.EventsPublished))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsSampled))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BufferDepth))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.IncWritten("x", "y")
		m.IncSinkFailure("x", "y")
		m.ObservePersistDuration(1)
		m.AddPublished(1)
		m.AddDropped(1)
		m.IncSampled()
		m.SetBufferDepth(1)
	})
}
