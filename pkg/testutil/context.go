package testutil

import (
	"net/http"

	"medgate/pkg/requestcontext"
)

// WithClientIP sets the client IP seen by the gateway stages.
func WithClientIP(req *http.Request, ip string) *http.Request {
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, req.Header.Get("User-Agent"))
	return req.WithContext(ctx)
}
