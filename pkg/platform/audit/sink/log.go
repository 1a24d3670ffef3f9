package sink

import (
	"context"
	"log/slog"

	"medgate/pkg/platform/audit"
)

// Log writes to the slog audit channel. It never fails.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("log_type", "audit")}
}

func (l *Log) Append(ctx context.Context, r audit.AccessRecord) error {
	attrs := []slog.Attr{
		slog.String("trace_id", r.TraceID),
		slog.String("request_id", r.RequestID),
		slog.String("phase", string(r.Phase)),
		slog.Time("timestamp", r.Timestamp),
		slog.String("action", string(r.Action)),
		slog.Group("actor",
			slog.String("user_id", r.Actor.UserID),
			slog.Any("roles", r.Actor.Roles),
			slog.String("ip", r.Actor.IP),
		),
		slog.Group("resource",
			slog.Any("patient_id", r.Resource.PatientID),
			slog.String("route", r.Resource.Route),
			slog.String("method", r.Resource.Method),
		),
		slog.Any("payload_digest", r.Payload),
		slog.String("content_hash", r.ContentHash),
	}
	if r.Outcome != nil {
		attrs = append(attrs, slog.Group("outcome",
			slog.Int("status_code", r.Outcome.StatusCode),
			slog.Int64("duration_ms", r.Outcome.DurationMS),
		))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "patient data access", attrs...)
	return nil
}

func (l *Log) Write(ctx context.Context, events []audit.SecurityEvent) error {
	for _, e := range events {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "security event",
			slog.String("category", string(e.Category())),
			slog.String("action", e.Action),
			slog.String("severity", string(e.Severity)),
			slog.String("subject", e.Subject),
			slog.String("reason", e.Reason),
			slog.String("ip", e.IP),
			slog.String("route", e.Route),
			slog.String("request_id", e.RequestID),
			slog.Time("timestamp", e.Timestamp),
		)
	}
	return nil
}
