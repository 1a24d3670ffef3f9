package sanitize

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/mssola/useragent"

	"medgate/internal/gateway"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/middleware/metadata"
	"medgate/pkg/requestcontext"
)

const (
	// DefaultMaxBodyBytes is the payload cap used when none is configured.
	DefaultMaxBodyBytes int64 = 10 << 20

	mediaJSON      = "application/json"
	mediaForm      = "application/x-www-form-urlencoded"
	mediaMultipart = "multipart/form-data"
)

// suspiciousAgents are lower-cased substrings of automated clients and
// scanners. Matching requests are logged, never blocked.
var suspiciousAgents = []string{
	"sqlmap",
	"nikto",
	"nmap",
	"masscan",
	"curl",
	"wget",
	"python-requests",
	"go-http-client",
	"scrapy",
	"headlesschrome",
	"phantomjs",
	"zgrab",
}

// Stage enforces payload limits and media types and rewrites the request
// with sanitized values.
type Stage struct {
	maxBody        int64
	allowedOrigins map[string]struct{}
	emitter        audit.SecurityEmitter
	logger         *slog.Logger
}

// Option configures a Stage.
type Option func(*Stage)

// WithMaxBodyBytes overrides the payload cap.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Stage) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithAllowedOrigins sets the origins that are not reported.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Stage) {
		for _, o := range origins {
			s.allowedOrigins[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
		}
	}
}

// WithEmitter forwards suspicious-client observations as security events.
func WithEmitter(e audit.SecurityEmitter) Option {
	return func(s *Stage) {
		s.emitter = e
	}
}

// New creates the sanitizing stage.
func New(logger *slog.Logger, opts ...Option) *Stage {
	s := &Stage{
		maxBody:        DefaultMaxBodyBytes,
		allowedOrigins: make(map[string]struct{}),
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stage) Name() string { return "sanitize" }

func (s *Stage) Handle(rc *gateway.RequestContext) gateway.Outcome {
	r := rc.Request
	s.inspectClient(rc)

	if r.ContentLength > s.maxBody {
		return gateway.Reject(s.tooLarge())
	}

	// Media-type rules bind state-changing methods only; a garbled header on
	// a read is ignored.
	mediaType, params, err := parseContentType(r.Header.Get("Content-Type"))
	if err != nil {
		if isStateChanging(r.Method) {
			return gateway.Reject(dErrors.Wrap(err, dErrors.CodeUnsupportedMediaType, "malformed content type"))
		}
		mediaType, params = "", nil
	}
	if mediaType != "" {
		normalized := mime.FormatMediaType(mediaType, params)
		rc.ContentType = normalized
		r.Header.Set("Content-Type", normalized)
	}

	if r.URL.RawQuery != "" {
		query, err := Form(r.URL.RawQuery)
		if err != nil {
			return gateway.Reject(dErrors.Wrap(err, dErrors.CodeValidation, "malformed query string"))
		}
		r.URL.RawQuery = query
	}

	body, err := s.readBody(r)
	if err != nil {
		return gateway.Reject(err)
	}
	// Bodiless writes skip the 415 check; handlers validate their own input.
	if len(body) == 0 {
		return gateway.Continue()
	}

	if isStateChanging(r.Method) && !isAllowedMedia(mediaType) {
		return gateway.Reject(dErrors.New(dErrors.CodeUnsupportedMediaType, "unsupported content type").
			WithDetail("content_type", mediaType))
	}

	switch {
	case isJSON(mediaType):
		if len(bytes.TrimSpace(body)) == 0 {
			body = nil
			break
		}
		cleaned, err := JSON(body)
		if err != nil {
			return gateway.Reject(dErrors.Wrap(err, dErrors.CodeValidation, "malformed JSON body"))
		}
		body = cleaned
	case mediaType == mediaForm:
		cleaned, err := Form(string(body))
		if err != nil {
			return gateway.Reject(dErrors.Wrap(err, dErrors.CodeValidation, "malformed form body"))
		}
		body = []byte(cleaned)
	default:
		// Multipart and other payloads pass through untouched.
		replaceBody(r, body)
		return gateway.Continue()
	}

	rc.Body = body
	replaceBody(r, body)
	return gateway.Continue()
}

func (s *Stage) tooLarge() *dErrors.Error {
	return dErrors.New(dErrors.CodePayloadTooLarge, "request body exceeds "+strconv.FormatInt(s.maxBody, 10)+" bytes").
		WithDetail("max_bytes", s.maxBody)
}

// readBody drains the body up to the cap. Chunked bodies without a declared
// length are caught here.
func (s *Stage) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, s.tooLarge()
		}
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "unreadable request body")
	}
	if int64(len(body)) > s.maxBody {
		return nil, s.tooLarge()
	}
	return body, nil
}

func (s *Stage) inspectClient(rc *gateway.RequestContext) {
	ctx := rc.Context()
	r := rc.Request

	if ua := r.UserAgent(); isSuspiciousAgent(ua) {
		s.logger.WarnContext(ctx, "suspicious user agent",
			"user_agent", ua,
			"ip", requestcontext.ClientIP(ctx),
			"request_id", rc.RequestID,
		)
		s.emit(rc, audit.ActionSuspiciousUserAgent, ua, "user agent matches automated client signature")
	}

	origin := metadata.Origin(r)
	if origin == "" || len(s.allowedOrigins) == 0 {
		return
	}
	if _, ok := s.allowedOrigins[strings.TrimRight(strings.ToLower(origin), "/")]; ok {
		return
	}
	s.logger.WarnContext(ctx, "request from disallowed origin",
		"origin", origin,
		"ip", requestcontext.ClientIP(ctx),
		"request_id", rc.RequestID,
	)
	s.emit(rc, audit.ActionDisallowedOrigin, origin, "origin not in allow list")
}

func (s *Stage) emit(rc *gateway.RequestContext, action, subject, reason string) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(rc.Context(), audit.SecurityEvent{
		Subject:  subject,
		Action:   action,
		Reason:   reason,
		Route:    rc.RoutePath,
		Severity: audit.SeverityInfo,
	})
}

func isSuspiciousAgent(ua string) bool {
	if strings.TrimSpace(ua) == "" {
		return true
	}
	if useragent.New(ua).Bot() {
		return true
	}
	lower := strings.ToLower(ua)
	for _, sig := range suspiciousAgents {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

func parseContentType(header string) (string, map[string]string, error) {
	if strings.TrimSpace(header) == "" {
		return "", nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", nil, err
	}
	return mediaType, params, nil
}

func isJSON(mediaType string) bool {
	return mediaType == mediaJSON || strings.HasSuffix(mediaType, "+json")
}

func isAllowedMedia(mediaType string) bool {
	return isJSON(mediaType) || mediaType == mediaForm || mediaType == mediaMultipart
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func replaceBody(r *http.Request, body []byte) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	r.Header.Set("Content-Length", strconv.Itoa(len(body)))
}
