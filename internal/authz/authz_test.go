package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Matrix
// =============================================================================

func TestDefaultMatrix(t *testing.T) {
	m := DefaultMatrix()

	tests := []struct {
		name  string
		roles []string
		perm  Permission
		want  bool
	}{
		{"super-admin holds everything", []string{RoleSuperAdmin}, ManageSecurityConfig, true},
		{"nurse edits patients", []string{RoleNurse}, EditPatients, true},
		{"nurse cannot prescribe", []string{RoleNurse}, PrescribeMedications, false},
		{"doctor prescribes", []string{RoleDoctor}, PrescribeMedications, true},
		{"billing manages invoices", []string{RoleBilling}, ManageInvoices, true},
		{"auditor reads audit logs", []string{RoleAuditor}, ViewAuditLogs, true},
		{"auditor cannot edit", []string{RoleAuditor}, EditPatients, false},
		{"any role suffices", []string{RolePharmacist, RoleDoctor}, ManageEncounters, true},
		{"unknown role holds nothing", []string{"janitor"}, ViewPatients, false},
		{"no roles", nil, ViewPatients, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Allows(tt.roles, tt.perm))
		})
	}
}

func TestNewMatrixRejectsUnknownEntries(t *testing.T) {
	_, err := NewMatrix(map[string][]string{RoleNurse: {"view-patients", "fly-helicopters"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fly-helicopters")

	_, err = NewMatrix(map[string][]string{"janitor": {"view-patients"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor")
}

func TestPermissionsAreSorted(t *testing.T) {
	perms := DefaultMatrix().Permissions(RolePharmacist)

	assert.Equal(t, []Permission{DispenseMedications, ViewMedications, ViewPatients, ViewServiceRequests}, perms)
}

func TestParsePolicy(t *testing.T) {
	m, err := ParsePolicy([]byte("roles:\n  nurse: [view-patients]\n  super-admin: ['*']\n"))
	require.NoError(t, err)

	assert.True(t, m.Allows([]string{RoleNurse}, ViewPatients))
	assert.False(t, m.Allows([]string{RoleNurse}, EditPatients))
	assert.True(t, m.Allows([]string{RoleSuperAdmin}, ExportData))

	_, err = ParsePolicy([]byte("roles: {}\n"))
	assert.Error(t, err)
	_, err = ParsePolicy([]byte("roles: [\n"))
	assert.Error(t, err)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("roles:\n  billing: [view-invoices]\n"), 0o600))

	m, err := FileSource(path)(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Allows([]string{RoleBilling}, ViewInvoices))

	_, err = FileSource(filepath.Join(t.TempDir(), "missing.yaml"))(context.Background())
	assert.Error(t, err)
}

// =============================================================================
// Provider
// =============================================================================

type ProviderSuite struct {
	suite.Suite
	now   time.Time
	calls atomic.Int32
	fail  atomic.Bool
	p     *Provider
}

func TestProviderSuite(t *testing.T) {
	suite.Run(t, new(ProviderSuite))
}

func (s *ProviderSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.calls.Store(0)
	s.fail.Store(false)
	s.p = NewProvider(func(context.Context) (*Matrix, error) {
		s.calls.Add(1)
		if s.fail.Load() {
			return nil, errors.New("policy store down")
		}
		return DefaultMatrix(), nil
	}, discardLogger(), WithClock(func() time.Time { return s.now }))
}

func (s *ProviderSuite) TestCachesWithinTTL() {
	first, err := s.p.Matrix(context.Background())
	s.Require().NoError(err)
	s.now = s.now.Add(9 * time.Minute)
	second, err := s.p.Matrix(context.Background())
	s.Require().NoError(err)

	s.Same(first, second)
	s.Equal(int32(1), s.calls.Load())
}

func (s *ProviderSuite) TestReloadsAfterTTL() {
	_, _ = s.p.Matrix(context.Background())
	s.now = s.now.Add(DefaultTTL)
	_, err := s.p.Matrix(context.Background())

	s.NoError(err)
	s.Equal(int32(2), s.calls.Load())
}

func (s *ProviderSuite) TestInvalidateForcesReload() {
	_, _ = s.p.Matrix(context.Background())
	s.p.Invalidate()
	_, _ = s.p.Matrix(context.Background())

	s.Equal(int32(2), s.calls.Load())
}

func (s *ProviderSuite) TestFailedReloadServesPrevious() {
	first, _ := s.p.Matrix(context.Background())
	s.fail.Store(true)
	s.p.Invalidate()

	got, err := s.p.Matrix(context.Background())

	s.NoError(err)
	s.Same(first, got)
}

func (s *ProviderSuite) TestFirstLoadFailureIsReturned() {
	s.fail.Store(true)

	_, err := s.p.Matrix(context.Background())

	s.Error(err)
}

func (s *ProviderSuite) TestConcurrentLoadsCollapse() {
	release := make(chan struct{})
	var calls atomic.Int32
	p := NewProvider(func(context.Context) (*Matrix, error) {
		calls.Add(1)
		<-release
		return DefaultMatrix(), nil
	}, discardLogger())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Matrix(context.Background())
			s.NoError(err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	s.Equal(int32(1), calls.Load())
}

// =============================================================================
// Gate
// =============================================================================

type staticSource struct {
	m   *Matrix
	err error
}

func (s staticSource) Matrix(context.Context) (*Matrix, error) { return s.m, s.err }

func newRC(route gateway.Route, principal *id.Principal) *gateway.RequestContext {
	return &gateway.RequestContext{
		Request:   httptest.NewRequest(http.MethodPut, "/api/v1/patients/42", nil),
		Route:     route,
		Principal: principal,
		Header:    make(http.Header),
	}
}

func TestGate(t *testing.T) {
	gate := NewGate(staticSource{m: DefaultMatrix()}, discardLogger())
	nurse := &id.Principal{UserID: "u-7", Roles: []string{RoleNurse}}
	admin := &id.Principal{UserID: "u-1", Roles: []string{RoleSuperAdmin}}

	t.Run("public route skips the gate", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{Public: true, Permission: "manage-users"}, nil))
		assert.False(t, outcome.IsTerminal())
	})

	t.Run("anonymous caller is unauthorized", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{Permission: "view-patients"}, nil))
		assert.True(t, dErrors.HasCode(outcome.Err(), dErrors.CodeUnauthorized))
	})

	t.Run("anonymous caller is unauthorized without a permission", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{}, nil))
		assert.True(t, dErrors.HasCode(outcome.Err(), dErrors.CodeUnauthorized))
	})

	t.Run("no permission required admits any principal", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{}, &id.Principal{UserID: "u-9"}))
		assert.False(t, outcome.IsTerminal())
	})

	t.Run("exact token admits", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{Permission: "edit-patients"}, nurse))
		assert.False(t, outcome.IsTerminal())
	})

	t.Run("wildcard admits", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{Permission: "manage-security-config"}, admin))
		assert.False(t, outcome.IsTerminal())
	})

	t.Run("missing token is forbidden with detail", func(t *testing.T) {
		outcome := gate.Handle(newRC(gateway.Route{Permission: "prescribe-medications"}, nurse))
		de, ok := dErrors.As(outcome.Err())
		require.True(t, ok)
		assert.Equal(t, dErrors.CodeForbidden, de.Code)
		assert.Equal(t, "prescribe-medications", de.Details["missing_permission"])
	})

	t.Run("matrix failure is internal", func(t *testing.T) {
		g := NewGate(staticSource{err: errors.New("boom")}, discardLogger())
		outcome := g.Handle(newRC(gateway.Route{Permission: "view-patients"}, nurse))
		assert.True(t, dErrors.HasCode(outcome.Err(), dErrors.CodeInternal))
	})
}
