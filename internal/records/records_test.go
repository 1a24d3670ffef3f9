package records

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/testutil"
)

// =============================================================================
// Store
// =============================================================================

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = NewStore()
}

func (s *StoreSuite) TestParentLookups() {
	p := s.store.CreatePatient(s.ctx, Patient{Name: "Ada Mensah"})
	v, err := s.store.CreateVisit(s.ctx, p.ID, "follow-up")
	s.Require().NoError(err)
	e, err := s.store.CreateEncounter(s.ctx, v.ID, "bp check")
	s.Require().NoError(err)

	vid, err := s.store.VisitForEncounter(s.ctx, e.ID)
	s.Require().NoError(err)
	s.Equal(v.ID, vid)

	pid, err := s.store.PatientForVisit(s.ctx, vid)
	s.Require().NoError(err)
	s.Equal(p.ID, pid)
}

func (s *StoreSuite) TestMissingParents() {
	_, err := s.store.CreateVisit(s.ctx, "404", "x")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.store.PatientForVisit(s.ctx, "404")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.store.VisitForEncounter(s.ctx, "404")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StoreSuite) TestUpdateKeepsUnsetFields() {
	p := s.store.CreatePatient(s.ctx, Patient{Name: "Ada Mensah", DateOfBirth: "1980-02-01"})

	updated, err := s.store.UpdatePatient(s.ctx, p.ID, Patient{Allergies: []string{"penicillin"}})

	s.Require().NoError(err)
	s.Equal("Ada Mensah", updated.Name)
	s.Equal("1980-02-01", updated.DateOfBirth)
	s.Equal([]string{"penicillin"}, updated.Allergies)
}

func (s *StoreSuite) TestListOrdersNumerically() {
	for range 11 {
		s.store.CreatePatient(s.ctx, Patient{Name: "p"})
	}

	list := s.store.ListPatients(s.ctx)

	s.Require().Len(list, 11)
	s.Equal(id.PatientID("1"), list[0].ID)
	s.Equal(id.PatientID("11"), list[10].ID)
}

func (s *StoreSuite) TestPrescriptionLifecycle() {
	p := s.store.CreatePatient(s.ctx, Patient{Name: "Ada Mensah"})
	rx, err := s.store.CreatePrescription(s.ctx, Prescription{PatientID: p.ID, Medication: "amoxicillin", Dosage: "500mg"})
	s.Require().NoError(err)
	s.False(rx.Dispensed)

	dispensed, err := s.store.DispensePrescription(s.ctx, rx.ID)
	s.Require().NoError(err)
	s.True(dispensed.Dispensed)
	s.Len(s.store.ListPrescriptions(s.ctx, p.ID), 1)

	s.Require().NoError(s.store.DeletePatient(s.ctx, p.ID))
	_, err = s.store.GetPatient(s.ctx, p.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Handlers
// =============================================================================

func newRouter(store *Store) (chi.Router, *[]gateway.Route) {
	var routes []gateway.Route
	guard := func(route gateway.Route) func(http.Handler) http.Handler {
		routes = append(routes, route)
		return func(next http.Handler) http.Handler { return next }
	}
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r, guard)
	})
	return r, &routes
}

func TestEveryRouteDeclaresAPermission(t *testing.T) {
	_, routes := newRouter(NewStore())

	require.NotEmpty(t, *routes)
	for _, route := range *routes {
		assert.NotEmpty(t, route.Permission, route.Name)
		assert.NotEmpty(t, route.Bucket, route.Name)
		assert.False(t, route.Public, route.Name)
	}
}

func TestPatientEndpoints(t *testing.T) {
	store := NewStore()
	r, _ := newRouter(store)

	rr := testutil.DoRequest(r, testutil.NewRequestWithBody(t, http.MethodPost, "/api/v1/patients", `{"name":"Ada Mensah"}`))
	require.Equal(t, http.StatusCreated, rr.Code)
	created := testutil.UnmarshalResponse[struct {
		Data Patient `json:"data"`
	}](t, rr)
	pid := created.Data.ID
	require.False(t, pid.IsNil())

	rr = testutil.DoRequest(r, testutil.NewRequestWithBody(t, http.MethodPut, "/api/v1/patients/"+pid.String(), `{"name":"Ada K. Mensah"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Ada K. Mensah")

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/api/v1/patients/"+pid.String()))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/api/v1/patients/999"))
	testutil.AssertStatusAndError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))

	rr = testutil.DoRequest(r, testutil.NewRequestWithBody(t, http.MethodPost, "/api/v1/patients", `{"name":`))
	testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, string(dErrors.CodeValidation))

	rr = testutil.DoRequest(r, testutil.NewRequest(t, http.MethodDelete, "/api/v1/patients/"+pid.String()))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestPrescriptionTakesPatientFromBody(t *testing.T) {
	store := NewStore()
	p := store.CreatePatient(context.Background(), Patient{Name: "Ada Mensah"})
	r, _ := newRouter(store)

	body := `{"patient_id":` + p.ID.String() + `,"medication":"amoxicillin","dosage":"500mg"}`
	rr := testutil.DoRequest(r, testutil.NewRequestWithBody(t, http.MethodPost, "/api/v1/prescriptions", body))

	require.Equal(t, http.StatusCreated, rr.Code)
	list := store.ListPrescriptions(context.Background(), p.ID)
	require.Len(t, list, 1)
	assert.Equal(t, "amoxicillin", list[0].Medication)
}

func TestUploadReportsSize(t *testing.T) {
	store := NewStore()
	p := store.CreatePatient(context.Background(), Patient{Name: "Ada Mensah"})
	r, _ := newRouter(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/patients/"+p.ID.String()+"/documents", strings.NewReader("0123456789"))
	req.Header.Set("Content-Type", "application/pdf")
	rr := testutil.DoRequest(r, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"size_bytes":10`)
}
