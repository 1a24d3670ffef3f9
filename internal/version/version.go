// Package version resolves the API version of a call from its path, checks
// vendor Accept headers against it and stamps the version headers on every
// response.
package version

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/requestcontext"
)

const (
	HeaderVersion           = "X-API-Version"
	HeaderSupportedVersions = "X-API-Supported-Versions"

	// DefaultProduct is the vendor product name in Accept media types.
	DefaultProduct = "emr"
)

// vendorMedia matches application/vnd.<product>.<version>+json.
var vendorMedia = regexp.MustCompile(`^application/vnd\.([a-z0-9][a-z0-9.-]*)\.(v\d+)\+json$`)

// Negotiator is both the version stage and the response decorator.
type Negotiator struct {
	product   string
	supported []id.APIVersion
	logger    *slog.Logger
}

// New creates a Negotiator for product. An empty product uses DefaultProduct.
func New(product string, logger *slog.Logger) *Negotiator {
	if product == "" {
		product = DefaultProduct
	}
	return &Negotiator{
		product:   strings.ToLower(product),
		supported: id.SupportedVersions(),
		logger:    logger,
	}
}

func (n *Negotiator) Name() string { return "version" }

// Handle resolves the version and validates the Accept header.
func (n *Negotiator) Handle(rc *gateway.RequestContext) gateway.Outcome {
	token := FromPath(rc.Request.URL.Path)
	v, err := id.ParseAPIVersion(token)
	if err != nil {
		return gateway.Reject(dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("API version %s is not supported", token)).
			WithDetail("supported_versions", n.supportedList()))
	}
	rc.Version = v
	rc.SetContext(requestcontext.WithAPIVersion(rc.Context(), v))

	requested, ok := n.acceptVersion(rc.Request.Header.Values("Accept"))
	if ok && requested != v.String() {
		n.logger.InfoContext(rc.Context(), "accept header version mismatch",
			"requested", requested,
			"resolved", v,
			"request_id", rc.RequestID,
		)
		return gateway.Reject(dErrors.New(dErrors.CodeNotAcceptable,
			fmt.Sprintf("Accept header requests API version %s but the route resolves to %s", requested, v)).
			WithDetail("requested_version", requested).
			WithDetail("resolved_version", v.String()))
	}
	return gateway.Continue()
}

// Decorate stamps the version headers. Responses rejected before the version
// was resolved report the default version.
func (n *Negotiator) Decorate(rc *gateway.RequestContext, h http.Header) {
	v := rc.Version
	n.Stamp(h, rc.Version)
}

// Stamp sets the version headers for responses produced outside the
// pipeline, such as unmatched routes under a version prefix.
func (n *Negotiator) Stamp(h http.Header, v id.APIVersion) {
	if v == "" {
		v = id.DefaultVersion()
	}
	h.Set(HeaderVersion, v.String())
	h.Set(HeaderSupportedVersions, n.supportedList())
}

// acceptVersion returns the version of the first vendor media type for this
// product among the Accept values.
func (n *Negotiator) acceptVersion(values []string) (string, bool) {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			m := vendorMedia.FindStringSubmatch(mediaType)
			if m == nil || m[1] != n.product {
				continue
			}
			return m[2], true
		}
	}
	return "", false
}

func (n *Negotiator) supportedList() string {
	parts := make([]string, len(n.supported))
	for i, v := range n.supported {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

// FromPath returns the first path segment shaped like a version token, or the
// default version when there is none.
func FromPath(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if id.IsVersionToken(seg) {
			return seg
		}
	}
	return id.DefaultVersion().String()
}
