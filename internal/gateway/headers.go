package gateway

import "net/http"

// SecurityHeaders attaches standard hardening headers to every response.
// Guarded routes get them as a decorator; Middleware covers everything else
// the router serves.
type SecurityHeaders struct{}

func (SecurityHeaders) Decorate(_ *RequestContext, h http.Header) {
	setHardening(h)
}

// Middleware sets the headers before the wrapped handler writes.
func (SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setHardening(w.Header())
		next.ServeHTTP(w, r)
	})
}

func setHardening(h http.Header) {
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
}
