// Package gateway drives every guarded API call through an explicit, ordered
// list of stages before the domain handler runs:
//
//	sanitize -> ratelimit -> version -> audit(pre) -> permission -> handler -> audit(post) -> decorators
//
// A stage returns Continue or a terminal Reject. Rejections stop the loop and
// are rendered as the standard error envelope. Post stages only run when the
// handler ran. Decorators run on every response, success or error.
package gateway

import (
	"context"
	"net/http"
	"time"

	id "medgate/pkg/domain"
)

// Stage is one pre-handler guard.
type Stage interface {
	Name() string
	Handle(rc *RequestContext) Outcome
}

// PostStage observes the handler's response before it is written.
type PostStage interface {
	Name() string
	After(rc *RequestContext, res *Response)
}

// Decorator adds headers to every response the pipeline emits.
type Decorator interface {
	Decorate(rc *RequestContext, h http.Header)
}

// DecoratorFunc adapts a function to Decorator.
type DecoratorFunc func(rc *RequestContext, h http.Header)

func (f DecoratorFunc) Decorate(rc *RequestContext, h http.Header) { f(rc, h) }

// PrincipalResolver is the authentication collaborator. It returns nil, nil for
// anonymous requests and an error for credentials that fail verification.
type PrincipalResolver interface {
	Resolve(r *http.Request) (*id.Principal, error)
}

// Outcome is the result of a stage.
type Outcome struct {
	err error
}

// Continue lets the next stage run.
func Continue() Outcome { return Outcome{} }

// Reject terminates the pipeline. err should be a domain error; anything else
// renders as an internal error.
func Reject(err error) Outcome { return Outcome{err: err} }

// IsTerminal reports whether the pipeline must stop.
func (o Outcome) IsTerminal() bool { return o.err != nil }

// Err returns the rejection cause.
func (o Outcome) Err() error { return o.err }

// Route describes the guard policy for one endpoint.
type Route struct {
	// Name identifies the route in logs and metrics.
	Name string
	// Bucket selects the rate-limit quota. Empty means the default bucket.
	Bucket string
	// Permission is the token the caller must hold. Empty means any
	// authenticated caller, unless Public is set.
	Permission string
	// Public routes skip the permission gate entirely.
	Public bool
}

// Response is a fully buffered handler response.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
}

// RequestContext is per-request scratch data. It is created at pipeline entry
// and discarded once the response is written.
type RequestContext struct {
	Request     *http.Request
	Route       Route
	RoutePath   string
	RequestID   string
	Start       time.Time
	Version     id.APIVersion
	Principal   *id.Principal
	PatientID   id.PatientID
	ContentType string
	// Body is the sanitized request body. Nil for bodiless and multipart requests.
	Body []byte
	// Header accumulates response headers contributed by stages; they are
	// applied to every response, including rejections.
	Header http.Header

	values map[any]any
}

// Context returns the request context.
func (rc *RequestContext) Context() context.Context {
	return rc.Request.Context()
}

// SetContext replaces the request context.
func (rc *RequestContext) SetContext(ctx context.Context) {
	rc.Request = rc.Request.WithContext(ctx)
}

// Authenticated reports whether a principal was resolved.
func (rc *RequestContext) Authenticated() bool {
	return rc.Principal != nil
}

// Set stores a stage-private value.
func (rc *RequestContext) Set(key, value any) {
	if rc.values == nil {
		rc.values = make(map[any]any)
	}
	rc.values[key] = value
}

// Value retrieves a stage-private value.
func (rc *RequestContext) Value(key any) any {
	return rc.values[key]
}
