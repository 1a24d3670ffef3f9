package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"medgate/internal/platform/metrics"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

const tracerName = "medgate/gateway"

// Pipeline is the fixed driver loop over the configured stages.
type Pipeline struct {
	stages     []Stage
	post       []PostStage
	decorators []Decorator
	resolver   PrincipalResolver
	monitor    *Monitor
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStages sets the pre-handler stages, in execution order.
func WithStages(stages ...Stage) Option {
	return func(p *Pipeline) {
		p.stages = append(p.stages, stages...)
	}
}

// WithPostStages sets the stages that observe handler responses.
func WithPostStages(post ...PostStage) Option {
	return func(p *Pipeline) {
		p.post = append(p.post, post...)
	}
}

// WithDecorators sets the response decorators, applied in order.
func WithDecorators(d ...Decorator) Option {
	return func(p *Pipeline) {
		p.decorators = append(p.decorators, d...)
	}
}

// WithPrincipalResolver sets the authentication collaborator.
func WithPrincipalResolver(r PrincipalResolver) Option {
	return func(p *Pipeline) {
		p.resolver = r
	}
}

// WithMonitor sets the security monitor.
func WithMonitor(m *Monitor) Option {
	return func(p *Pipeline) {
		p.monitor = m
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New builds a pipeline.
func New(logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Guard returns middleware running the pipeline for route. It must be mounted
// per route (chi's With) so URL parameters are resolved before stages run.
func (p *Pipeline) Guard(route Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p.serve(w, r, route, next)
		})
	}
}

func (p *Pipeline) serve(w http.ResponseWriter, r *http.Request, route Route, next http.Handler) {
	ctx, span := p.tracer.Start(r.Context(), "gateway "+route.Name)
	defer span.End()

	rc := &RequestContext{
		Request:   r.WithContext(ctx),
		Route:     route,
		RoutePath: routePattern(r),
		RequestID: requestcontext.RequestID(ctx),
		Start:     requestcontext.Now(ctx),
		Header:    make(http.Header),
	}
	p.resolvePrincipal(rc)

	res := p.run(rc, next)

	for _, d := range p.decorators {
		d.Decorate(rc, res.Header)
	}
	for k, vs := range rc.Header {
		res.Header[k] = vs
	}

	elapsed := time.Since(rc.Start)
	p.monitor.Observe(rc, res.Status, elapsed)
	p.metrics.ObserveRequest(rc.RoutePath, res.Status, elapsed.Seconds())
	span.SetAttributes(
		attribute.String("http.route", rc.RoutePath),
		attribute.Int("http.status_code", res.Status),
	)

	flush(w, res)
}

// run executes the stages, the handler and the post stages.
func (p *Pipeline) run(rc *RequestContext, next http.Handler) *Response {
	for _, stage := range p.stages {
		outcome := p.runStage(rc, stage)
		if outcome.IsTerminal() {
			return p.reject(rc, stage.Name(), outcome.Err())
		}
	}

	res := p.invoke(rc, next)

	for _, ps := range p.post {
		ps.After(rc, res)
	}
	return res
}

func (p *Pipeline) runStage(rc *RequestContext, stage Stage) (outcome Outcome) {
	parent := trace.SpanFromContext(rc.Context())
	ctx, span := p.tracer.Start(rc.Context(), "stage "+stage.Name())
	rc.SetContext(ctx)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.ErrorContext(ctx, "gateway stage panicked",
				"stage", stage.Name(),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
				"request_id", rc.RequestID,
			)
			outcome = Reject(dErrors.New(dErrors.CodeInternal, "stage failure"))
		}
		if outcome.IsTerminal() {
			span.SetStatus(codes.Error, outcome.Err().Error())
		}
		span.End()
		p.metrics.ObserveStage(stage.Name(), time.Since(start).Seconds())
		// Values added by the stage stay; the stage span does not.
		rc.SetContext(trace.ContextWithSpan(rc.Context(), parent))
	}()
	return stage.Handle(rc)
}

// invoke calls the domain handler with a buffering writer and recovers panics
// into an internal error envelope.
func (p *Pipeline) invoke(rc *RequestContext, next http.Handler) (res *Response) {
	bw := newBufferedWriter()
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.ErrorContext(rc.Context(), "handler panicked",
				"route", rc.RoutePath,
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
				"request_id", rc.RequestID,
			)
			res = p.errorResponse(rc, dErrors.New(dErrors.CodeInternal, "handler failure"))
			res.Duration = time.Since(start)
		}
	}()

	next.ServeHTTP(bw, rc.Request)
	return &Response{
		Status:   bw.statusCode(),
		Header:   bw.header,
		Body:     bw.body.Bytes(),
		Duration: time.Since(start),
	}
}

func (p *Pipeline) reject(rc *RequestContext, stage string, err error) *Response {
	code := dErrors.CodeInternal
	if de, ok := dErrors.As(err); ok {
		code = de.Code
	}
	p.metrics.ObserveRejection(stage, string(code))

	level := slog.LevelInfo
	if code == dErrors.CodeInternal || code == dErrors.CodeCritical {
		level = slog.LevelError
	}
	p.logger.Log(rc.Context(), level, "request rejected",
		"stage", stage,
		"code", code,
		"error", err,
		"route", rc.RoutePath,
		"method", rc.Request.Method,
		"ip", requestcontext.ClientIP(rc.Context()),
		"request_id", rc.RequestID,
	)
	return p.errorResponse(rc, err)
}

func (p *Pipeline) errorResponse(rc *RequestContext, err error) *Response {
	bw := newBufferedWriter()
	httputil.WriteError(rc.Context(), bw, err)
	return &Response{
		Status: bw.statusCode(),
		Header: bw.header,
		Body:   bw.body.Bytes(),
	}
}

// resolvePrincipal asks the authentication collaborator for the caller.
// Failed verification leaves the request anonymous; the permission gate
// turns that into 401 where a principal is required.
func (p *Pipeline) resolvePrincipal(rc *RequestContext) {
	if p.resolver == nil {
		return
	}
	principal, err := p.resolver.Resolve(rc.Request)
	if err != nil {
		p.logger.InfoContext(rc.Context(), "credential verification failed",
			"error", err,
			"request_id", rc.RequestID,
		)
		return
	}
	if principal == nil {
		return
	}
	rc.Principal = principal
	rc.SetContext(requestcontext.WithPrincipal(rc.Context(), principal))
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
