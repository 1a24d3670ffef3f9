package records

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medgate/internal/audit"
	"medgate/internal/authz"
	"medgate/internal/gateway"
	"medgate/internal/ratelimit/models"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/platform/httputil"
	"medgate/pkg/requestcontext"
)

const paramPrescriptionID = "prescriptionID"

var _ audit.Lookup = (*Store)(nil)

// Guard wraps a handler in the gateway pipeline for one route.
type Guard func(route gateway.Route) func(http.Handler) http.Handler

// Handler serves the clinical endpoints behind the gateway.
type Handler struct {
	store  *Store
	logger *slog.Logger
}

func NewHandler(store *Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the clinical routes on r. Every route runs through guard
// with its own permission and rate-limit bucket.
func (h *Handler) Register(r chi.Router, guard Guard) {
	route := func(name string, perm authz.Permission, bucket models.Bucket) func(http.Handler) http.Handler {
		return guard(gateway.Route{Name: name, Permission: perm.String(), Bucket: string(bucket)})
	}

	r.With(route("patients.list", authz.ViewPatients, models.BucketAPI)).Get("/patients", h.listPatients)
	r.With(route("patients.create", authz.CreatePatients, models.BucketAPI)).Post("/patients", h.createPatient)
	r.Route("/patients/{"+audit.ParamPatientID+"}", func(r chi.Router) {
		r.With(route("patients.get", authz.ViewPatients, models.BucketAPI)).Get("/", h.getPatient)
		r.With(route("patients.update", authz.EditPatients, models.BucketAPI)).Put("/", h.updatePatient)
		r.With(route("patients.patch", authz.EditPatients, models.BucketAPI)).Patch("/", h.updatePatient)
		r.With(route("patients.delete", authz.DeletePatients, models.BucketSensitive)).Delete("/", h.deletePatient)
		r.With(route("visits.create", authz.ManageVisits, models.BucketAPI)).Post("/visits", h.createVisit)
		r.With(route("prescriptions.list", authz.ViewMedications, models.BucketAPI)).Get("/prescriptions", h.listPrescriptions)
		r.With(route("documents.upload", authz.UploadDocuments, models.BucketUploads)).Post("/documents", h.uploadDocument)
	})
	r.With(route("visits.get", authz.ViewVisits, models.BucketAPI)).Get("/visits/{"+audit.ParamVisitID+"}", h.getVisit)
	r.With(route("encounters.create", authz.ManageEncounters, models.BucketAPI)).
		Post("/visits/{"+audit.ParamVisitID+"}/encounters", h.createEncounter)
	r.With(route("encounters.get", authz.ViewEncounters, models.BucketAPI)).
		Get("/encounters/{"+audit.ParamEncounterID+"}", h.getEncounter)
	r.With(route("prescriptions.create", authz.PrescribeMedications, models.BucketAPI)).Post("/prescriptions", h.createPrescription)
	r.With(route("prescriptions.dispense", authz.DispenseMedications, models.BucketAPI)).
		Post("/prescriptions/{"+paramPrescriptionID+"}/dispense", h.dispensePrescription)
	r.With(route("exports.patient", authz.ExportData, models.BucketSensitive)).
		Get("/exports/patients/{"+audit.ParamPatientID+"}", h.exportPatient)
}

func (h *Handler) listPatients(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(r.Context(), w, http.StatusOK, h.store.ListPatients(r.Context()))
}

func (h *Handler) getPatient(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetPatient(r.Context(), pid)
	h.respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) createPatient(w http.ResponseWriter, r *http.Request) {
	var req Patient
	if !h.decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteError(r.Context(), w, dErrors.New(dErrors.CodeValidation, "name is required").WithDetail("field", "name"))
		return
	}
	req.ID = ""
	httputil.WriteSuccess(r.Context(), w, http.StatusCreated, h.store.CreatePatient(r.Context(), req))
}

func (h *Handler) updatePatient(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	var req Patient
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.store.UpdatePatient(r.Context(), pid, req)
	h.respond(w, r, http.StatusOK, p, err)
}

func (h *Handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeletePatient(r.Context(), pid); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createVisit(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	v, err := h.store.CreateVisit(r.Context(), pid, req.Reason)
	h.respond(w, r, http.StatusCreated, v, err)
}

func (h *Handler) getVisit(w http.ResponseWriter, r *http.Request) {
	vid, err := id.ParseVisitID(chi.URLParam(r, audit.ParamVisitID))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	v, err := h.store.GetVisit(r.Context(), vid)
	h.respond(w, r, http.StatusOK, v, err)
}

func (h *Handler) createEncounter(w http.ResponseWriter, r *http.Request) {
	vid, err := id.ParseVisitID(chi.URLParam(r, audit.ParamVisitID))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	var req struct {
		Notes string `json:"notes"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.store.CreateEncounter(r.Context(), vid, req.Notes)
	h.respond(w, r, http.StatusCreated, e, err)
}

func (h *Handler) getEncounter(w http.ResponseWriter, r *http.Request) {
	eid, err := id.ParseEncounterID(chi.URLParam(r, audit.ParamEncounterID))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	e, err := h.store.GetEncounter(r.Context(), eid)
	h.respond(w, r, http.StatusOK, e, err)
}

func (h *Handler) createPrescription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatientID  any    `json:"patient_id"`
		Medication string `json:"medication"`
		Dosage     string `json:"dosage"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	pid, ok := id.PatientIDFromAny(req.PatientID)
	if !ok || req.Medication == "" {
		httputil.WriteError(r.Context(), w, dErrors.New(dErrors.CodeValidation, "patient_id and medication are required"))
		return
	}
	rx, err := h.store.CreatePrescription(r.Context(), Prescription{
		PatientID:  pid,
		Medication: req.Medication,
		Dosage:     req.Dosage,
		IssuedBy:   requestcontext.UserID(r.Context()),
	})
	h.respond(w, r, http.StatusCreated, rx, err)
}

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(r.Context(), w, http.StatusOK, h.store.ListPrescriptions(r.Context(), pid))
}

func (h *Handler) dispensePrescription(w http.ResponseWriter, r *http.Request) {
	rx, err := h.store.DispensePrescription(r.Context(), chi.URLParam(r, paramPrescriptionID))
	h.respond(w, r, http.StatusOK, rx, err)
}

// uploadDocument accepts the document and reports its size; storage belongs
// to the document service.
func (h *Handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetPatient(r.Context(), pid); err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	n, err := io.Copy(io.Discard, r.Body)
	if err != nil {
		httputil.WriteError(r.Context(), w, dErrors.Wrap(err, dErrors.CodeValidation, "unreadable document"))
		return
	}
	httputil.WriteSuccess(r.Context(), w, http.StatusCreated, map[string]any{
		"patient_id": pid,
		"size_bytes": n,
	})
}

func (h *Handler) exportPatient(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.patientID(w, r)
	if !ok {
		return
	}
	p, err := h.store.GetPatient(r.Context(), pid)
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(r.Context(), w, http.StatusOK, map[string]any{
		"patient":       p,
		"prescriptions": h.store.ListPrescriptions(r.Context(), pid),
	})
}

func (h *Handler) patientID(w http.ResponseWriter, r *http.Request) (id.PatientID, bool) {
	pid, err := id.ParsePatientID(chi.URLParam(r, audit.ParamPatientID))
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return "", false
	}
	return pid, true
}

// decode reads a JSON body. An empty body leaves v untouched.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.logger.WarnContext(r.Context(), "invalid request body",
		"error", err,
		"request_id", requestcontext.RequestID(r.Context()),
	)
	httputil.WriteError(r.Context(), w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
	return false
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		httputil.WriteError(r.Context(), w, err)
		return
	}
	httputil.WriteSuccess(r.Context(), w, status, v)
}
