// Package request stamps request-scoped metadata onto the context: a fresh
// request id, the request time, and client IP and user agent.
package request

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"medgate/pkg/platform/middleware/metadata"
	"medgate/pkg/requestcontext"
)

// HeaderRequestID is echoed on every response.
const HeaderRequestID = "X-Request-ID"

// Context must run before any gateway stage. The request id is always minted
// here; client-supplied X-Request-ID values are ignored. Forwarding headers
// are read only from peers inside proxies.
func Context(proxies metadata.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := uuid.NewString()
			ctx := requestcontext.WithRequestID(r.Context(), reqID)
			ctx = requestcontext.WithTime(ctx, time.Now())
			ctx = requestcontext.WithClientMetadata(ctx, proxies.ClientIP(r), r.Header.Get("User-Agent"))

			w.Header().Set(HeaderRequestID, reqID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
