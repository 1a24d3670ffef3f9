package audit

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medgate/internal/authz"
	"medgate/internal/gateway"
	dErrors "medgate/pkg/domain-errors"
	auditlog "medgate/pkg/platform/audit"
	"medgate/pkg/platform/audit/store/memory"
	"medgate/pkg/testutil"
)

type readerFunc func(ctx context.Context, patientID string, limit int) ([]auditlog.AccessRecord, error)

func (f readerFunc) ListByPatient(ctx context.Context, patientID string, limit int) ([]auditlog.AccessRecord, error) {
	return f(ctx, patientID, limit)
}

func queryRouter(reader ActivityReader) (chi.Router, *gateway.Route) {
	var declared gateway.Route
	guard := func(route gateway.Route) func(http.Handler) http.Handler {
		declared = route
		return func(next http.Handler) http.Handler { return next }
	}
	r := chi.NewRouter()
	NewQueryHandler(reader, discardLogger()).Register(r, guard)
	return r, &declared
}

func TestQueryHandler(t *testing.T) {
	store := memory.NewStore()
	p42 := "42"
	for _, trace := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(context.Background(), auditlog.AccessRecord{
			TraceID:  trace,
			Resource: auditlog.Resource{PatientID: &p42},
		}))
	}
	r, route := queryRouter(store)

	t.Run("route requires the audit permission", func(t *testing.T) {
		assert.Equal(t, authz.ViewAuditLogs.String(), route.Permission)
		assert.False(t, route.Public)
	})

	t.Run("newest first with limit", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs/patients/42?limit=2"))
		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.UnmarshalResponse[struct {
			Data []auditlog.AccessRecord `json:"data"`
		}](t, rr)
		require.Len(t, body.Data, 2)
		assert.Equal(t, "c", body.Data[0].TraceID)
	})

	t.Run("unknown patient is an empty list", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs/patients/7"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"data":[]`)
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs/patients/42?limit=-1"))
		testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, string(dErrors.CodeValidation))
	})
}

func TestQueryHandlerCapsLimitAndHidesStoreErrors(t *testing.T) {
	var gotLimit int
	r, _ := queryRouter(readerFunc(func(_ context.Context, _ string, limit int) ([]auditlog.AccessRecord, error) {
		gotLimit = limit
		return nil, errors.New("connection reset by peer")
	}))

	rr := testutil.DoRequest(r, testutil.NewRequest(t, http.MethodGet, "/audit-logs/patients/42?limit=10000"))

	assert.Equal(t, maxQueryLimit, gotLimit)
	testutil.AssertStatusAndError(t, rr, http.StatusInternalServerError, string(dErrors.CodeInternal))
	assert.NotContains(t, rr.Body.String(), "connection reset")
}
