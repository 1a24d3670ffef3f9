package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"medgate/internal/gateway"
	"medgate/internal/ratelimit/models"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/audit"
	"medgate/pkg/requestcontext"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderStatus     = "X-RateLimit-Status"
	HeaderRetryAfter = "Retry-After"

	statusDegraded = "degraded"
)

// Limiter answers a rate-limit check for one request.
type Limiter interface {
	Check(ctx context.Context, bucket models.Bucket, userID, ip string) (*models.Result, error)
}

// Stage is the rate-limit gateway stage. It keys authenticated callers by
// user and IP and anonymous callers by IP.
type Stage struct {
	limiter  Limiter
	emitter  audit.SecurityEmitter
	logger   *slog.Logger
	disabled bool
}

type Option func(*Stage)

// WithDisabled turns the stage into a no-op (local development only).
func WithDisabled(disabled bool) Option {
	return func(s *Stage) {
		s.disabled = disabled
	}
}

// WithEmitter reports the first rejection of each window as a security event.
func WithEmitter(e audit.SecurityEmitter) Option {
	return func(s *Stage) {
		s.emitter = e
	}
}

func New(limiter Limiter, logger *slog.Logger, opts ...Option) *Stage {
	s := &Stage{
		limiter: limiter,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.disabled {
		logger.Warn("rate limiting disabled")
	}
	return s
}

func (s *Stage) Name() string { return "ratelimit" }

func (s *Stage) Handle(rc *gateway.RequestContext) gateway.Outcome {
	if s.disabled {
		return gateway.Continue()
	}
	ctx := rc.Context()
	ip := requestcontext.ClientIP(ctx)
	userID := ""
	if rc.Principal != nil {
		userID = rc.Principal.UserID.String()
	}
	bucket := models.ParseBucket(rc.Route.Bucket)

	res, err := s.limiter.Check(ctx, bucket, userID, ip)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit check failed",
			"bucket", bucket,
			"error", err,
			"request_id", rc.RequestID,
		)
		return gateway.Reject(dErrors.Wrap(err, dErrors.CodeInternal, "rate limit check failed"))
	}

	writeHeaders(rc.Header, res)

	if res.Allowed {
		return gateway.Continue()
	}

	if res.Count == res.Limit+1 || res.Degraded {
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"bucket", bucket,
			"ip", ip,
			"user_id", userID,
			"degraded", res.Degraded,
			"request_id", rc.RequestID,
		)
		if s.emitter != nil && !res.Degraded {
			subject := ip
			if userID != "" {
				subject = userID
			}
			s.emitter.Emit(ctx, audit.SecurityEvent{
				Subject:  subject,
				Action:   audit.ActionRateLimitExceeded,
				Reason:   "quota exhausted for bucket " + string(bucket),
				Route:    rc.RoutePath,
				Severity: audit.SeverityWarning,
			})
		}
	}

	return gateway.Reject(dErrors.New(dErrors.CodeRateLimitExceeded, "too many requests, retry later").
		WithDetail("retry_after", res.RetryAfterSeconds()))
}

// writeHeaders sets the quota headers. A fail-open answer has no counter, so
// only the limit is reported.
func writeHeaders(h http.Header, res *models.Result) {
	h.Set(HeaderLimit, strconv.Itoa(res.Limit))
	if res.Degraded {
		h.Set(HeaderStatus, statusDegraded)
		if res.Allowed && res.FailMode == models.FailOpen {
			return
		}
	}
	h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
	if res.Remaining == 0 {
		h.Set(HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds()))
	}
}
