// Package httptransport assembles the HTTP surface: health endpoints,
// prometheus scraping and the versioned clinical API behind the gateway.
package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"medgate/internal/audit"
	"medgate/internal/gateway"
	"medgate/internal/health"
	"medgate/internal/records"
	"medgate/internal/version"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/platform/middleware/metadata"
	"medgate/pkg/platform/middleware/request"
)

// Deps are the pieces the router mounts.
type Deps struct {
	Pipeline       *gateway.Pipeline
	Records        *records.Handler
	AuditQuery     *audit.QueryHandler
	Health         *health.Handler
	Metrics        http.Handler
	Versions       *version.Negotiator
	TrustedProxies metadata.TrustedProxies
	RequestTimeout time.Duration
}

// NewRouter wires every endpoint. The clinical API is mounted once per
// supported version; each route carries its own gateway guard.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Context(d.TrustedProxies))
	r.Use(gateway.SecurityHeaders{}.Middleware)
	r.Use(chimw.Recoverer)
	if d.RequestTimeout > 0 {
		r.Use(chimw.Timeout(d.RequestTimeout))
	}

	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	if d.Health != nil {
		r.Route("/health", d.Health.Register)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	if d.Records != nil && d.Pipeline != nil {
		for _, v := range id.SupportedVersions() {
			r.Route("/api/"+v.String(), func(r chi.Router) {
				if d.Versions != nil {
					r.NotFound(stamped(d.Versions, v, notFound))
					r.MethodNotAllowed(stamped(d.Versions, v, methodNotAllowed))
				}
				d.Records.Register(r, d.Pipeline.Guard)
				if d.AuditQuery != nil {
					d.AuditQuery.Register(r, d.Pipeline.Guard)
				}
			})
		}
	}
	return r
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(r.Context(), w, dErrors.New(dErrors.CodeNotFound, "no route for "+r.URL.Path))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorEnvelope{
		Error: httputil.ErrorBody{
			Code:    "METHOD_NOT_ALLOWED",
			Message: r.Method + " is not allowed on " + r.URL.Path,
		},
		Meta: httputil.NewMeta(r.Context()),
	})
}

// stamped adds the version headers to fallbacks served under /api/{v}.
func stamped(n *version.Negotiator, v id.APIVersion, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n.Stamp(w.Header(), v)
		next(w, r)
	}
}
