package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"medgate/internal/gateway"
	"medgate/internal/platform/config"
	"medgate/internal/ratelimit/models"
	"medgate/internal/ratelimit/service"
	"medgate/internal/ratelimit/store/counter"
	"medgate/internal/securityconfig"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/testutil"
)

type limiterFunc func(ctx context.Context, bucket models.Bucket, userID, ip string) (*models.Result, error)

func (f limiterFunc) Check(ctx context.Context, bucket models.Bucket, userID, ip string) (*models.Result, error) {
	return f(ctx, bucket, userID, ip)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Stage unit tests
// =============================================================================

type StageSuite struct {
	suite.Suite
	gotBucket models.Bucket
	gotUser   string
	gotIP     string
	result    *models.Result
	err       error
	stage     *Stage
}

func TestStageSuite(t *testing.T) {
	suite.Run(t, new(StageSuite))
}

func (s *StageSuite) SetupTest() {
	s.result = &models.Result{Allowed: true, Limit: 60, Remaining: 59, RetryAfter: time.Minute}
	s.err = nil
	s.stage = New(limiterFunc(func(_ context.Context, bucket models.Bucket, userID, ip string) (*models.Result, error) {
		s.gotBucket, s.gotUser, s.gotIP = bucket, userID, ip
		return s.result, s.err
	}), discardLogger())
}

func (s *StageSuite) newRC(route gateway.Route, principal *id.Principal) *gateway.RequestContext {
	req := testutil.WithClientIP(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), "203.0.113.9")
	return &gateway.RequestContext{Request: req, Route: route, Principal: principal, Header: make(http.Header)}
}

func (s *StageSuite) TestKeysAnonymousCallerByIP() {
	outcome := s.stage.Handle(s.newRC(gateway.Route{Bucket: "api"}, nil))

	s.False(outcome.IsTerminal())
	s.Equal(models.BucketAPI, s.gotBucket)
	s.Equal("", s.gotUser)
	s.Equal("203.0.113.9", s.gotIP)
}

func (s *StageSuite) TestKeysAuthenticatedCallerByUser() {
	s.stage.Handle(s.newRC(gateway.Route{}, &id.Principal{UserID: "u-42"}))

	s.Equal(models.BucketDefault, s.gotBucket)
	s.Equal("u-42", s.gotUser)
}

func (s *StageSuite) TestAllowedSetsQuotaHeaders() {
	rc := s.newRC(gateway.Route{Bucket: "api"}, nil)

	s.stage.Handle(rc)

	s.Equal("60", rc.Header.Get(HeaderLimit))
	s.Equal("59", rc.Header.Get(HeaderRemaining))
	s.Empty(rc.Header.Get(HeaderRetryAfter))
	s.Empty(rc.Header.Get(HeaderStatus))
}

func (s *StageSuite) TestLastAllowedCallAdvertisesRetryAfter() {
	s.result = &models.Result{Allowed: true, Limit: 5, Remaining: 0, RetryAfter: 1500 * time.Millisecond}
	rc := s.newRC(gateway.Route{Bucket: "login"}, nil)

	s.False(s.stage.Handle(rc).IsTerminal())
	s.Equal("0", rc.Header.Get(HeaderRemaining))
	s.Equal("2", rc.Header.Get(HeaderRetryAfter))
}

func (s *StageSuite) TestDeniedRejectsWithRateLimitExceeded() {
	s.result = &models.Result{Allowed: false, Limit: 5, Remaining: 0, Count: 6, RetryAfter: 200 * time.Millisecond}
	rc := s.newRC(gateway.Route{Bucket: "login"}, nil)

	outcome := s.stage.Handle(rc)

	s.Require().True(outcome.IsTerminal())
	de, ok := dErrors.As(outcome.Err())
	s.Require().True(ok)
	s.Equal(dErrors.CodeRateLimitExceeded, de.Code)
	s.Equal(1, de.Details["retry_after"])
	s.Equal("1", rc.Header.Get(HeaderRetryAfter))
	s.Equal("0", rc.Header.Get(HeaderRemaining))
}

func (s *StageSuite) TestFailOpenReportsOnlyLimitAndDegraded() {
	s.result = &models.Result{Allowed: true, Limit: 100, Degraded: true, FailMode: models.FailOpen}
	rc := s.newRC(gateway.Route{Bucket: "api"}, nil)

	s.False(s.stage.Handle(rc).IsTerminal())
	s.Equal("100", rc.Header.Get(HeaderLimit))
	s.Equal("degraded", rc.Header.Get(HeaderStatus))
	s.Empty(rc.Header.Get(HeaderRemaining))
}

func (s *StageSuite) TestFailClosedRejectsAndMarksDegraded() {
	s.result = &models.Result{Allowed: false, Limit: 5, Remaining: 0, RetryAfter: time.Minute, Degraded: true, FailMode: models.FailClosed}
	rc := s.newRC(gateway.Route{Bucket: "login"}, nil)

	outcome := s.stage.Handle(rc)

	s.True(dErrors.HasCode(outcome.Err(), dErrors.CodeRateLimitExceeded))
	s.Equal("degraded", rc.Header.Get(HeaderStatus))
	s.Equal("60", rc.Header.Get(HeaderRetryAfter))
}

func (s *StageSuite) TestLimiterErrorFailsClosed() {
	s.err = errors.New("invalid quota")

	outcome := s.stage.Handle(s.newRC(gateway.Route{}, nil))

	s.True(dErrors.HasCode(outcome.Err(), dErrors.CodeInternal))
}

func (s *StageSuite) TestDisabled() {
	stage := New(limiterFunc(func(context.Context, models.Bucket, string, string) (*models.Result, error) {
		s.Fail("limiter must not be called")
		return nil, nil
	}), discardLogger(), WithDisabled(true))

	s.False(stage.Handle(s.newRC(gateway.Route{}, nil)).IsTerminal())
}

// =============================================================================
// Through the pipeline with the real limiter
// =============================================================================

func TestHundredAndFirstAnonymousCallIsRejected(t *testing.T) {
	snapshots := securityconfig.New(securityconfig.StaticSource(&config.Config{}), nil)
	limiter, err := service.New(counter.NewMemoryStore(), snapshots, service.WithLogger(discardLogger()))
	require.NoError(t, err)

	pipeline := gateway.New(discardLogger(), gateway.WithStages(New(limiter, discardLogger())))
	handlerCalls := 0
	r := chi.NewRouter()
	r.With(pipeline.Guard(gateway.Route{Name: "patients.list", Bucket: "api", Public: true})).
		Get("/api/v1/patients", func(w http.ResponseWriter, r *http.Request) {
			handlerCalls++
			httputil.WriteSuccess(r.Context(), w, http.StatusOK, []string{})
		})

	call := func() *httptest.ResponseRecorder {
		req := testutil.WithClientIP(httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil), "198.51.100.77")
		return testutil.DoRequest(r, req)
	}

	for i := 1; i <= 100; i++ {
		rr := call()
		require.Equal(t, http.StatusOK, rr.Code, "call %d", i)
		assert.Equal(t, strconv.Itoa(100-i), rr.Header().Get(HeaderRemaining))
	}

	rr := call()

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "100", rr.Header().Get(HeaderLimit))
	assert.Equal(t, "0", rr.Header().Get(HeaderRemaining))
	retry, err := strconv.Atoi(rr.Header().Get(HeaderRetryAfter))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)
	testutil.AssertErrorCode(t, rr, string(dErrors.CodeRateLimitExceeded))
	assert.Equal(t, 100, handlerCalls)
}
