// Package security delivers security events off the request path. Emit only
// buffers; Run drains the buffer to a Writer in batches.
package security

import (
	"context"
	"log/slog"
	"time"

	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/audit/metrics"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	shutdownFlushTimeout = 5 * time.Second
)

// Writer delivers a batch of events to the security channel.
type Writer interface {
	Write(ctx context.Context, events []audit.SecurityEvent) error
}

// Publisher implements audit.SecurityEmitter.
type Publisher struct {
	buffer        *RingBuffer
	writer        Writer
	sampler       *Sampler
	metrics       *metrics.Metrics
	logger        *slog.Logger
	notify        chan struct{}
	batchSize     int
	flushInterval time.Duration
}

type Option func(*Publisher)

func WithCapacity(n int) Option {
	return func(p *Publisher) {
		p.buffer = NewRingBuffer(n)
	}
}

func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

func NewPublisher(writer Writer, logger *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		buffer:        NewRingBuffer(defaultCapacity),
		writer:        writer,
		logger:        logger,
		notify:        make(chan struct{}, 1),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit buffers event without blocking.
func (p *Publisher) Emit(_ context.Context, event audit.SecurityEvent) {
	if p.sampler != nil && !p.sampler.Keep(event) {
		p.metrics.IncSampled()
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.buffer.Push(event) {
		p.metrics.AddDropped(1)
	}
	p.metrics.SetBufferDepth(p.buffer.Len())
	if p.buffer.Len() >= p.batchSize {
		p.wake()
	}
}

func (p *Publisher) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			p.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			p.Flush(ctx)
		case <-p.notify:
			p.Flush(ctx)
		}
	}
}

// Flush delivers every buffered event. A failed batch is dropped and counted.
func (p *Publisher) Flush(ctx context.Context) {
	for {
		batch := p.buffer.Drain(p.batchSize)
		if len(batch) == 0 {
			break
		}
		if err := p.writer.Write(ctx, batch); err != nil {
			p.metrics.AddDropped(len(batch))
			p.logger.ErrorContext(ctx, "security events lost", "count", len(batch), "error", err)
			continue
		}
		p.metrics.AddPublished(len(batch))
	}
	p.metrics.SetBufferDepth(p.buffer.Len())
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int {
	return p.buffer.Len()
}
