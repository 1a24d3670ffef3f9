// Package requestcontext carries request-scoped values through context.Context
// so gateway stages, audit records and stores can read them without net/http.
//
// The request middleware sets the request id, client metadata and request
// time; the pipeline driver adds the principal; the version stage adds the
// negotiated API version.
package requestcontext

import (
	"context"
	"time"

	id "medgate/pkg/domain"
)

type key int

const (
	keyPrincipal key = iota
	keyClient
	keyRequestID
	keyRequestTime
	keyAPIVersion
)

// client is the caller's network identity as seen at the edge.
type client struct {
	ip        string
	userAgent string
}

func value[T any](ctx context.Context, k key) (T, bool) {
	v, ok := ctx.Value(k).(T)
	return v, ok
}

// Principal returns the authenticated caller, or nil for anonymous requests.
func Principal(ctx context.Context) *id.Principal {
	p, _ := value[*id.Principal](ctx, keyPrincipal)
	return p
}

func WithPrincipal(ctx context.Context, p *id.Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// UserID is empty for anonymous requests.
func UserID(ctx context.Context) id.UserID {
	if p := Principal(ctx); p != nil {
		return p.UserID
	}
	return ""
}

func ClientIP(ctx context.Context) string {
	c, _ := value[client](ctx, keyClient)
	return c.ip
}

func UserAgent(ctx context.Context) string {
	c, _ := value[client](ctx, keyClient)
	return c.userAgent
}

// WithClientMetadata records the resolved client IP and User-Agent.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	return context.WithValue(ctx, keyClient, client{ip: clientIP, userAgent: userAgent})
}

func RequestID(ctx context.Context) string {
	v, _ := value[string](ctx, keyRequestID)
	return v
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// APIVersion is empty until version negotiation has run.
func APIVersion(ctx context.Context) id.APIVersion {
	v, _ := value[id.APIVersion](ctx, keyAPIVersion)
	return v
}

func WithAPIVersion(ctx context.Context, v id.APIVersion) context.Context {
	return context.WithValue(ctx, keyAPIVersion, v)
}

// Now returns the time the request entered the gateway, or the wall clock
// outside a request (CLI, background publishers).
func Now(ctx context.Context) time.Time {
	if t, ok := value[time.Time](ctx, keyRequestTime); ok {
		return t
	}
	return time.Now()
}

func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
