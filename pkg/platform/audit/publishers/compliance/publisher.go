// Package compliance writes patient-data access records with fail-closed
// semantics on the primary sink.
//
// Publish blocks until the primary sink accepts the record. If it fails, an
// error is returned and the caller decides whether the request may proceed.
// Secondary sinks (the domain activity log) are best effort.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/audit/metrics"
)

type namedSink struct {
	name string
	sink audit.Sink
}

// Publisher fans an access record out to its sinks.
type Publisher struct {
	primary     namedSink
	secondaries []namedSink
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithSecondary adds a best-effort sink.
func WithSecondary(name string, sink audit.Sink) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.secondaries = append(p.secondaries, namedSink{name: name, sink: sink})
		}
	}
}

// New creates a publisher around the primary sink.
func New(name string, primary audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{
		primary: namedSink{name: name, sink: primary},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish writes record to the primary sink, then the secondaries. Only a
// primary failure is returned.
func (p *Publisher) Publish(ctx context.Context, record audit.AccessRecord) error {
	if record.TraceID == "" {
		return errors.New("access record requires a trace id")
	}
	phase := string(record.Phase)
	start := time.Now()

	if err := p.primary.sink.Append(ctx, record); err != nil {
		p.metrics.IncSinkFailure(p.primary.name, phase)
		p.logger.ErrorContext(ctx, "CRITICAL: access record not persisted",
			"sink", p.primary.name,
			"phase", phase,
			"trace_id", record.TraceID,
			"request_id", record.RequestID,
			"error", err,
		)
		return fmt.Errorf("audit sink %s: %w", p.primary.name, err)
	}
	p.metrics.ObservePersistDuration(time.Since(start).Seconds())
	p.metrics.IncWritten(p.primary.name, phase)

	for _, s := range p.secondaries {
		if err := s.sink.Append(ctx, record); err != nil {
			p.metrics.IncSinkFailure(s.name, phase)
			p.logger.WarnContext(ctx, "secondary audit sink failed",
				"sink", s.name,
				"trace_id", record.TraceID,
				"error", err,
			)
			continue
		}
		p.metrics.IncWritten(s.name, phase)
	}
	return nil
}
