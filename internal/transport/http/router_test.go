package httptransport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"medgate/internal/audit"
	"medgate/internal/auth"
	"medgate/internal/authz"
	"medgate/internal/gateway"
	"medgate/internal/gateway/sanitize"
	"medgate/internal/health"
	"medgate/internal/platform/config"
	"medgate/internal/platform/metrics"
	ratelimit "medgate/internal/ratelimit/middleware"
	"medgate/internal/ratelimit/service"
	"medgate/internal/ratelimit/store/counter"
	"medgate/internal/records"
	"medgate/internal/securityconfig"
	"medgate/internal/version"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/audit/publishers/compliance"
	"medgate/pkg/platform/audit/store/memory"
	"medgate/pkg/platform/middleware/request"
	"medgate/pkg/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pingOK struct{}

func (pingOK) Ping(context.Context) error { return nil }

// =============================================================================
// Full stack through the router
// =============================================================================

type RouterSuite struct {
	suite.Suite
	router   http.Handler
	tokens   *auth.TokenService
	auditLog *memory.Store
	records  *records.Store
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	logger := discardLogger()
	reg := prometheus.NewRegistry()
	s.tokens = auth.NewTokenService("router-test-key", "medgate")
	s.auditLog = memory.NewStore()
	s.records = records.NewStore()

	snapshots := securityconfig.New(securityconfig.StaticSource(&config.Config{}), logger)
	limiter, err := service.New(counter.NewMemoryStore(), snapshots, service.WithLogger(logger))
	s.Require().NoError(err)

	errorsTracker := health.NewErrorTracker(time.Hour)
	monitor := gateway.NewMonitor(nil, logger, gateway.WithErrorRecorder(errorsTracker))
	recorder := audit.New(
		compliance.New("memory", s.auditLog, compliance.WithLogger(logger)),
		audit.NewExtractor(s.records, logger),
		logger,
		audit.WithEmitter(monitor),
		audit.WithErrorRecorder(monitor),
	)
	negotiator := version.New("emr", logger)

	pipeline := gateway.New(logger,
		gateway.WithPrincipalResolver(auth.NewResolver(s.tokens)),
		gateway.WithMonitor(monitor),
		gateway.WithMetrics(metrics.New(reg)),
		gateway.WithStages(
			sanitize.New(logger, sanitize.WithEmitter(monitor)),
			ratelimit.New(limiter, logger, ratelimit.WithEmitter(monitor)),
			negotiator,
			recorder,
			authz.NewGate(authz.NewProvider(authz.DefaultSource(), logger), logger),
		),
		gateway.WithPostStages(recorder),
		gateway.WithDecorators(negotiator, gateway.SecurityHeaders{}),
	)

	probe := health.NewProbe(health.StandardChecks(config.HealthConfig{}, health.Deps{
		DB:        pingOK{},
		Errors:    errorsTracker,
	}), health.WithLogger(logger))

	s.router = NewRouter(Deps{
		Pipeline:   pipeline,
		Records:    records.NewHandler(s.records, logger),
		AuditQuery: audit.NewQueryHandler(s.auditLog, logger),
		Health:     health.NewHandler(probe, errorsTracker, "medgate", "test"),
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Versions:   negotiator,
	})
}

func (s *RouterSuite) bearer(roles ...string) string {
	token, err := s.tokens.Issue(id.Principal{UserID: "u-1", Roles: roles}, time.Minute)
	s.Require().NoError(err)
	return "Bearer " + token
}

func (s *RouterSuite) do(method, path, authHeader, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36")
	return testutil.DoRequest(s.router, req)
}

func (s *RouterSuite) requireHardened(rr *httptest.ResponseRecorder) {
	s.Equal("nosniff", rr.Header().Get("X-Content-Type-Options"))
	s.Equal("DENY", rr.Header().Get("X-Frame-Options"))
	s.Equal("1; mode=block", rr.Header().Get("X-XSS-Protection"))
}

func (s *RouterSuite) TestLiveness() {
	rr := s.do(http.MethodGet, "/health/live", "", "")

	s.Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), `"alive":true`)
	s.NotEmpty(rr.Header().Get(request.HeaderRequestID))
	s.requireHardened(rr)
}

func (s *RouterSuite) TestUngatedResponsesAreHardened() {
	for _, path := range []string{"/health/ready", "/health/ping", "/metrics", "/nowhere"} {
		s.Run(path, func() {
			s.requireHardened(s.do(http.MethodGet, path, "", ""))
		})
	}
}

func (s *RouterSuite) TestUnknownVersionedPathCarriesVersionHeaders() {
	rr := s.do(http.MethodGet, "/api/v2/nope", "", "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	s.requireHardened(rr)
	s.Equal("v2", rr.Header().Get(version.HeaderVersion))
	s.Equal("v1, v2", rr.Header().Get(version.HeaderSupportedVersions))
}

func (s *RouterSuite) TestMethodNotAllowedCarriesVersionHeaders() {
	rr := s.do(http.MethodDelete, "/api/v1/patients", "", "")

	s.Equal(http.StatusMethodNotAllowed, rr.Code)
	s.requireHardened(rr)
	s.Equal("v1", rr.Header().Get(version.HeaderVersion))
}

func (s *RouterSuite) TestForwardedHeaderCannotDodgeAnonymousQuota() {
	var limited int
	for i := 0; i < 150; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i%250))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.18.0.%d", i%250))
		if testutil.DoRequest(s.router, req).Code == http.StatusTooManyRequests {
			limited++
		}
	}

	s.Equal(50, limited, "the anonymous api quota is 100 per minute for the socket peer")
}

func (s *RouterSuite) TestPrometheusScrape() {
	s.do(http.MethodGet, "/api/v1/patients", s.bearer(authz.RoleNurse), "")

	rr := s.do(http.MethodGet, "/metrics", "", "")

	s.Equal(http.StatusOK, rr.Code)
}

func (s *RouterSuite) TestAnonymousCallerIsUnauthorized() {
	rr := s.do(http.MethodGet, "/api/v1/patients", "", "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnauthorized, string(dErrors.CodeUnauthorized))
	s.Equal("nosniff", rr.Header().Get("X-Content-Type-Options"))
	s.Equal("DENY", rr.Header().Get("X-Frame-Options"))
	s.Equal("v1", rr.Header().Get(version.HeaderVersion))
	s.NotEmpty(rr.Header().Get(ratelimit.HeaderLimit))
}

func (s *RouterSuite) TestInvalidTokenIsUnauthorized() {
	rr := s.do(http.MethodGet, "/api/v1/patients", "Bearer not-a-token", "")

	s.Equal(http.StatusUnauthorized, rr.Code)
}

func (s *RouterSuite) TestVersionTwoIsServed() {
	rr := s.do(http.MethodGet, "/api/v2/patients", s.bearer(authz.RoleNurse), "")

	s.Equal(http.StatusOK, rr.Code)
	s.Equal("v2", rr.Header().Get(version.HeaderVersion))
	s.Equal("v1, v2", rr.Header().Get(version.HeaderSupportedVersions))
}

func (s *RouterSuite) TestAcceptVersionMismatchIsNotAcceptable() {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	req.Header.Set("Authorization", s.bearer(authz.RoleNurse))
	req.Header.Set("Accept", "application/vnd.emr.v2+json")

	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotAcceptable, string(dErrors.CodeNotAcceptable))
}

func (s *RouterSuite) TestUnknownVersionIsNotFound() {
	rr := s.do(http.MethodGet, "/api/v9/patients", s.bearer(authz.RoleNurse), "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func (s *RouterSuite) TestBillingCannotPrescribeButIsAudited() {
	patient := s.records.CreatePatient(context.Background(), records.Patient{Name: "Ada Mensah"})
	body := fmt.Sprintf(`{"patient_id":%s,"medication":"amoxicillin"}`, patient.ID)

	rr := s.do(http.MethodPost, "/api/v1/prescriptions", s.bearer(authz.RoleBilling), body)

	testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodeForbidden))
	logged := s.auditLog.ByPatient(patient.ID.String())
	s.Require().Len(logged, 1)
	s.Equal("request", string(logged[0].Phase))
	s.Empty(s.records.ListPrescriptions(context.Background(), patient.ID))
}

func (s *RouterSuite) TestEncounterAccessResolvesPatientThroughVisit() {
	ctx := context.Background()
	patient := s.records.CreatePatient(ctx, records.Patient{Name: "Ada Mensah"})
	visit, err := s.records.CreateVisit(ctx, patient.ID, "follow-up")
	s.Require().NoError(err)
	encounter, err := s.records.CreateEncounter(ctx, visit.ID, "")
	s.Require().NoError(err)

	rr := s.do(http.MethodGet, "/api/v1/encounters/"+encounter.ID.String(), s.bearer(authz.RoleDoctor), "")

	s.Require().Equal(http.StatusOK, rr.Code)
	logged := s.auditLog.ByPatient(patient.ID.String())
	s.Require().Len(logged, 1, "reads are only audited in the request phase")
	s.Equal("/api/v1/encounters/{encounterID}", logged[0].Resource.Route)
	s.Equal(rr.Header().Get(request.HeaderRequestID), logged[0].RequestID)
}

func (s *RouterSuite) TestDoctorUpdateIsAuditedTwice() {
	patient := s.records.CreatePatient(context.Background(), records.Patient{Name: "Ada Mensah"})

	rr := s.do(http.MethodPut, "/api/v1/patients/"+patient.ID.String(), s.bearer(authz.RoleDoctor), `{"name":"Ada K. Mensah"}`)

	s.Require().Equal(http.StatusOK, rr.Code)
	logged := s.auditLog.ByPatient(patient.ID.String())
	s.Require().Len(logged, 2)
	s.Require().NotNil(logged[1].Outcome)
	s.Equal(http.StatusOK, logged[1].Outcome.StatusCode)
}

func (s *RouterSuite) TestAuditorReadsTrailButNurseCannot() {
	patient := s.records.CreatePatient(context.Background(), records.Patient{Name: "Ada Mensah"})
	s.do(http.MethodGet, "/api/v1/patients/"+patient.ID.String(), s.bearer(authz.RoleNurse), "")

	rr := s.do(http.MethodGet, "/api/v1/audit-logs/patients/"+patient.ID.String(), s.bearer(authz.RoleNurse), "")
	s.Equal(http.StatusForbidden, rr.Code)

	rr = s.do(http.MethodGet, "/api/v1/audit-logs/patients/"+patient.ID.String(), s.bearer(authz.RoleAuditor), "")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.Contains(rr.Body.String(), `"phase":"request"`)
}

func (s *RouterSuite) TestUnknownRouteUsesEnvelope() {
	rr := s.do(http.MethodGet, "/nowhere", "", "")

	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestNilDependenciesStillServeFallbacks(t *testing.T) {
	r := NewRouter(Deps{})

	rr := testutil.DoRequest(r, httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil))

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.NotEmpty(t, rr.Header().Get(request.HeaderRequestID))
}
