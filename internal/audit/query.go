package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"medgate/internal/authz"
	"medgate/internal/gateway"
	"medgate/internal/ratelimit/models"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	auditlog "medgate/pkg/platform/audit"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
)

// ActivityReader lists stored access records for one patient, newest first.
type ActivityReader interface {
	ListByPatient(ctx context.Context, patientID string, limit int) ([]auditlog.AccessRecord, error)
}

// QueryHandler lets auditors read the access trail of a patient.
type QueryHandler struct {
	reader ActivityReader
	logger *slog.Logger
}

func NewQueryHandler(reader ActivityReader, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{reader: reader, logger: logger}
}

// Register mounts GET /audit-logs/patients/{patientID}. Reading the trail is
// itself a patient-data access and gets audited like any other.
func (h *QueryHandler) Register(r chi.Router, guard func(gateway.Route) func(http.Handler) http.Handler) {
	r.With(guard(gateway.Route{
		Name:       "audit.patient",
		Permission: authz.ViewAuditLogs.String(),
		Bucket:     string(models.BucketSensitive),
	})).Get("/audit-logs/patients/{"+ParamPatientID+"}", h.listForPatient)
}

func (h *QueryHandler) listForPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, err := id.ParsePatientID(chi.URLParam(r, ParamPatientID))
	if err != nil {
		httputil.WriteError(ctx, w, err)
		return
	}
	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(ctx, w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer").
				WithDetail("field", "limit"))
			return
		}
		limit = min(n, maxQueryLimit)
	}

	records, err := h.reader.ListByPatient(ctx, pid.String(), limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read activity log",
			"error", err,
			"patient_id", pid,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(ctx, w, dErrors.Wrap(err, dErrors.CodeInternal, "activity log unavailable"))
		return
	}
	if records == nil {
		records = []auditlog.AccessRecord{}
	}
	httputil.WriteSuccess(ctx, w, http.StatusOK, records)
}
