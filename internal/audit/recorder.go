// Package audit records patient-data access. For every request whose path
// names a patient resource it writes a request-phase record before the
// permission check and, for state-changing methods, a response-phase record
// after the handler. Bodies are redacted and size-capped; each record carries
// a fresh trace id and a BLAKE2b content hash.
package audit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	auditlog "medgate/pkg/platform/audit"
	"medgate/pkg/requestcontext"
)

// DefaultBodyCap bounds captured request and response bodies.
const DefaultBodyCap = 64 << 10

// Publisher persists access records. A returned error means the primary
// sink did not accept the record.
type Publisher interface {
	Publish(ctx context.Context, record auditlog.AccessRecord) error
}

// ErrorRecorder counts server-side failures.
type ErrorRecorder interface {
	RecordError()
}

type stateKey struct{}

// requestState links the two records of one request.
type requestState struct {
	requestID string
	patientID *string
	actor     auditlog.Actor
}

// Recorder is both the pre-handler stage and the post-handler stage.
type Recorder struct {
	publisher Publisher
	extractor *Extractor
	emitter   auditlog.SecurityEmitter
	errors    ErrorRecorder
	logger    *slog.Logger
	bodyCap   int
	now       func() time.Time
}

type Option func(*Recorder)

// WithBodyCap overrides DefaultBodyCap.
func WithBodyCap(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.bodyCap = n
		}
	}
}

// WithEmitter reports sink failures as security events.
func WithEmitter(e auditlog.SecurityEmitter) Option {
	return func(r *Recorder) {
		r.emitter = e
	}
}

// WithErrorRecorder counts response-phase sink failures.
func WithErrorRecorder(er ErrorRecorder) Option {
	return func(r *Recorder) {
		r.errors = er
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func New(publisher Publisher, extractor *Extractor, logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		publisher: publisher,
		extractor: extractor,
		logger:    logger,
		bodyCap:   DefaultBodyCap,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Recorder) Name() string { return "audit" }

// Handle writes the request-phase record. If the primary sink rejects it the
// request is refused: patient data is never served without a trail.
func (r *Recorder) Handle(rc *gateway.RequestContext) gateway.Outcome {
	if !IsPatientRoute(rc.Request.URL.Path) {
		return gateway.Continue()
	}
	ctx := rc.Context()

	state := &requestState{
		requestID: rc.RequestID,
		actor:     actorOf(ctx, rc.Principal),
	}
	if state.requestID == "" {
		state.requestID = uuid.NewString()
	}
	if pid, via, ok := r.extractor.Extract(rc); ok {
		rc.PatientID = pid
		s := pid.String()
		state.patientID = &s
		r.logger.DebugContext(ctx, "patient resolved", "strategy", via, "request_id", state.requestID)
	}
	rc.Set(stateKey{}, state)

	record := r.newRecord(rc, state, auditlog.PhaseRequest)
	record.Payload = auditlog.PayloadDigest{
		Request: CaptureBody(rc.Body, rc.ContentType, r.bodyCap),
		Query:   RedactQuery(rc.Request.URL.Query()),
		Headers: RedactHeaders(rc.Request.Header),
	}
	if err := r.publish(ctx, &record); err != nil {
		r.emit(ctx, rc, "request-phase access record not persisted: "+err.Error(), auditlog.SeverityCritical)
		return gateway.Reject(dErrors.Wrap(err, dErrors.CodeCritical, "audit trail unavailable"))
	}
	return gateway.Continue()
}

// After writes the response-phase record for state-changing requests. A sink
// failure is logged and counted but never changes the response.
func (r *Recorder) After(rc *gateway.RequestContext, res *gateway.Response) {
	state, ok := rc.Value(stateKey{}).(*requestState)
	if !ok || !isStateChanging(rc.Request.Method) {
		return
	}
	ctx := rc.Context()

	duration := res.Duration
	if duration == 0 && !rc.Start.IsZero() {
		duration = r.now().Sub(rc.Start)
	}
	record := r.newRecord(rc, state, auditlog.PhaseResponse)
	record.Outcome = &auditlog.Outcome{
		StatusCode: res.Status,
		DurationMS: duration.Milliseconds(),
	}
	if res.Status >= http.StatusBadRequest {
		record.Payload.Response = CaptureBody(res.Body, res.Header.Get("Content-Type"), r.bodyCap)
	}
	if err := r.publish(ctx, &record); err != nil {
		if r.errors != nil {
			r.errors.RecordError()
		}
		r.emit(ctx, rc, "response-phase access record not persisted: "+err.Error(), auditlog.SeverityWarning)
	}
}

func (r *Recorder) newRecord(rc *gateway.RequestContext, state *requestState, phase auditlog.Phase) auditlog.AccessRecord {
	return auditlog.AccessRecord{
		TraceID:   uuid.NewString(),
		RequestID: state.requestID,
		Timestamp: r.now().UTC(),
		Phase:     phase,
		Actor:     state.actor,
		Resource: auditlog.Resource{
			PatientID: state.patientID,
			Route:     rc.RoutePath,
			Method:    rc.Request.Method,
		},
		Action: auditlog.ActionForMethod(rc.Request.Method),
	}
}

func (r *Recorder) publish(ctx context.Context, record *auditlog.AccessRecord) error {
	hash, err := ContentHash(*record)
	if err != nil {
		return err
	}
	record.ContentHash = hash
	return r.publisher.Publish(ctx, *record)
}

func (r *Recorder) emit(ctx context.Context, rc *gateway.RequestContext, reason string, severity auditlog.Severity) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(ctx, auditlog.SecurityEvent{
		Subject:  "audit",
		Action:   auditlog.ActionAuditSinkFailed,
		Reason:   reason,
		Route:    rc.RoutePath,
		Severity: severity,
	})
}

func actorOf(ctx context.Context, p *id.Principal) auditlog.Actor {
	actor := auditlog.Actor{IP: requestcontext.ClientIP(ctx)}
	if p != nil {
		actor.UserID = p.UserID.String()
		actor.Email = p.Email
		actor.Roles = append([]string(nil), p.Roles...)
	}
	return actor
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
