package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/url"

	"github.com/go-chi/chi/v5"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
)

// Route parameter names the extractors read.
const (
	ParamPatientID   = "patientID"
	ParamVisitID     = "visitID"
	ParamEncounterID = "encounterID"
)

// Lookup resolves parent resources through the clinical records collaborator.
type Lookup interface {
	PatientForVisit(ctx context.Context, visitID id.VisitID) (id.PatientID, error)
	VisitForEncounter(ctx context.Context, encounterID id.EncounterID) (id.VisitID, error)
}

// strategy tries to resolve the patient a request refers to.
type strategy struct {
	name    string
	resolve func(rc *gateway.RequestContext) (id.PatientID, bool)
}

// Extractor runs the strategies in order; the first match wins.
type Extractor struct {
	lookup     Lookup
	logger     *slog.Logger
	strategies []strategy
}

// NewExtractor builds the default strategy chain: route patient, route
// visit, route encounter, then body patient_id. lookup may be nil, in which
// case only the route patient and body strategies can match.
func NewExtractor(lookup Lookup, logger *slog.Logger) *Extractor {
	e := &Extractor{lookup: lookup, logger: logger}
	e.strategies = []strategy{
		{name: "route_patient", resolve: e.fromRoutePatient},
		{name: "route_visit", resolve: e.fromRouteVisit},
		{name: "route_encounter", resolve: e.fromRouteEncounter},
		{name: "body_patient_id", resolve: e.fromBody},
	}
	return e
}

// Extract returns the patient id and the name of the strategy that found it.
func (e *Extractor) Extract(rc *gateway.RequestContext) (id.PatientID, string, bool) {
	for _, s := range e.strategies {
		if pid, ok := s.resolve(rc); ok {
			return pid, s.name, true
		}
	}
	return "", "", false
}

func (e *Extractor) fromRoutePatient(rc *gateway.RequestContext) (id.PatientID, bool) {
	raw := chi.URLParam(rc.Request, ParamPatientID)
	if raw == "" {
		return "", false
	}
	pid, err := id.ParsePatientID(raw)
	return pid, err == nil
}

func (e *Extractor) fromRouteVisit(rc *gateway.RequestContext) (id.PatientID, bool) {
	raw := chi.URLParam(rc.Request, ParamVisitID)
	if raw == "" || e.lookup == nil {
		return "", false
	}
	visitID, err := id.ParseVisitID(raw)
	if err != nil {
		return "", false
	}
	return e.patientForVisit(rc.Context(), visitID)
}

func (e *Extractor) fromRouteEncounter(rc *gateway.RequestContext) (id.PatientID, bool) {
	raw := chi.URLParam(rc.Request, ParamEncounterID)
	if raw == "" || e.lookup == nil {
		return "", false
	}
	encounterID, err := id.ParseEncounterID(raw)
	if err != nil {
		return "", false
	}
	ctx := rc.Context()
	visitID, err := e.lookup.VisitForEncounter(ctx, encounterID)
	if err != nil {
		e.logger.DebugContext(ctx, "encounter lookup failed", "encounter_id", encounterID, "error", err)
		return "", false
	}
	return e.patientForVisit(ctx, visitID)
}

func (e *Extractor) patientForVisit(ctx context.Context, visitID id.VisitID) (id.PatientID, bool) {
	pid, err := e.lookup.PatientForVisit(ctx, visitID)
	if err != nil || pid.IsNil() {
		e.logger.DebugContext(ctx, "visit lookup failed", "visit_id", visitID, "error", err)
		return "", false
	}
	return pid, true
}

func (e *Extractor) fromBody(rc *gateway.RequestContext) (id.PatientID, bool) {
	if len(rc.Body) == 0 {
		return "", false
	}
	mediaType, _, _ := mime.ParseMediaType(rc.ContentType)
	switch {
	case isJSONMedia(mediaType):
		var doc map[string]any
		dec := json.NewDecoder(bytes.NewReader(rc.Body))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return "", false
		}
		return id.PatientIDFromAny(doc["patient_id"])
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(rc.Body))
		if err != nil {
			return "", false
		}
		raw := values.Get("patient_id")
		if raw == "" {
			return "", false
		}
		pid, err := id.ParsePatientID(raw)
		return pid, err == nil
	}
	return "", false
}
