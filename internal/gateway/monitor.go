package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"medgate/internal/platform/metrics"
	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/window"
	"medgate/pkg/requestcontext"
)

// ErrorRecorder receives every server-side failure; the health probe turns the
// rolling count into the error_rate check.
type ErrorRecorder interface {
	RecordError()
}

// Monitor turns response facts into security events: repeated 401s from one
// client IP and requests slower than the configured threshold. Client
// responses are never altered.
type Monitor struct {
	emitter       audit.SecurityEmitter
	errors        ErrorRecorder
	logger        *slog.Logger
	metrics       *metrics.Metrics
	authFailures  *window.Counter
	failThreshold int
	slowThreshold time.Duration
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithAuthFailureThreshold sets how many 401s from one IP inside window raise
// an auth_failures_repeated event.
func WithAuthFailureThreshold(n int, w time.Duration) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.failThreshold = n
		}
		if w > 0 {
			m.authFailures = window.New(w)
		}
	}
}

// WithSlowThreshold sets the duration above which a request is reported slow.
func WithSlowThreshold(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.slowThreshold = d
		}
	}
}

// WithErrorRecorder wires the error-rate tracker.
func WithErrorRecorder(r ErrorRecorder) MonitorOption {
	return func(m *Monitor) {
		m.errors = r
	}
}

// WithMonitorMetrics wires metrics.
func WithMonitorMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

// NewMonitor creates a Monitor. Defaults: 10 failures in 5 minutes, 5s slow threshold.
func NewMonitor(emitter audit.SecurityEmitter, logger *slog.Logger, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		emitter:       emitter,
		logger:        logger,
		authFailures:  window.New(5 * time.Minute),
		failThreshold: 10,
		slowThreshold: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Emit forwards a security event, stamping request metadata.
func (m *Monitor) Emit(ctx context.Context, event audit.SecurityEvent) {
	if m == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.IP == "" {
		event.IP = requestcontext.ClientIP(ctx)
	}
	m.metrics.IncSecurityEvent(event.Action)
	m.logger.WarnContext(ctx, "security event",
		"log_type", "security",
		"action", event.Action,
		"severity", event.Severity,
		"reason", event.Reason,
		"subject", event.Subject,
		"ip", event.IP,
		"request_id", event.RequestID,
	)
	if m.emitter != nil {
		m.emitter.Emit(ctx, event)
	}
}

// RecordError counts a server-side failure.
func (m *Monitor) RecordError() {
	if m != nil && m.errors != nil {
		m.errors.RecordError()
	}
}

// Observe inspects a finished response.
func (m *Monitor) Observe(rc *RequestContext, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := rc.Context()
	ip := requestcontext.ClientIP(ctx)

	if status == http.StatusUnauthorized && ip != "" {
		count := m.authFailures.Record(ip)
		if count >= m.failThreshold && count%m.failThreshold == 0 {
			m.Emit(ctx, audit.SecurityEvent{
				Subject:  ip,
				Action:   audit.ActionAuthFailuresRepeated,
				Reason:   "repeated authentication failures from one client",
				Route:    rc.RoutePath,
				Severity: audit.SeverityCritical,
			})
		}
	}

	if elapsed > m.slowThreshold {
		m.Emit(ctx, audit.SecurityEvent{
			Subject:  rc.RoutePath,
			Action:   audit.ActionSlowRequest,
			Reason:   "request exceeded " + m.slowThreshold.String() + " (took " + elapsed.Round(time.Millisecond).String() + ")",
			Route:    rc.RoutePath,
			Severity: audit.SeverityWarning,
		})
	}

	if status >= http.StatusInternalServerError {
		m.RecordError()
	}
}

// AuthFailures returns the current 401 count for ip inside the window.
func (m *Monitor) AuthFailures(ip string) int {
	return m.authFailures.Count(ip)
}

// TrackedClients returns how many IPs hold 401 history, pruned or not.
func (m *Monitor) TrackedClients() int {
	return m.authFailures.Len()
}

// RunJanitor drops idle 401 windows every interval until ctx is cancelled.
func (m *Monitor) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.authFailures.Prune(); n > 0 {
				m.logger.DebugContext(ctx, "pruned idle auth failure windows", "count", n)
			}
		}
	}
}
