package domain

import (
	"encoding/json"
	"regexp"
	"strconv"

	dErrors "medgate/pkg/domain-errors"
)

// Resource identifiers issued by the clinical records collaborator. They are
// opaque strings (numeric keys or UUIDs), validated at the trust boundary.
type (
	PatientID   string
	VisitID     string
	EncounterID string
	UserID      string
)

var resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func parseResourceID(kind, s string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, kind+" cannot be empty")
	}
	if !resourceIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid "+kind)
	}
	return s, nil
}

// ParsePatientID validates a patient identifier.
func ParsePatientID(s string) (PatientID, error) {
	v, err := parseResourceID("patient id", s)
	return PatientID(v), err
}

// PatientIDFromAny accepts the JSON shapes a patient_id field arrives in:
// strings and integral numbers.
func PatientIDFromAny(v any) (PatientID, bool) {
	switch t := v.(type) {
	case string:
		id, err := ParsePatientID(t)
		return id, err == nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return "", false
		}
		return PatientID(strconv.FormatInt(n, 10)), true
	case float64:
		if t != float64(int64(t)) {
			return "", false
		}
		return PatientID(strconv.FormatInt(int64(t), 10)), true
	case int:
		return PatientID(strconv.Itoa(t)), true
	case int64:
		return PatientID(strconv.FormatInt(t, 10)), true
	}
	return "", false
}

// ParseVisitID validates a visit identifier.
func ParseVisitID(s string) (VisitID, error) {
	v, err := parseResourceID("visit id", s)
	return VisitID(v), err
}

// ParseEncounterID validates an encounter identifier.
func ParseEncounterID(s string) (EncounterID, error) {
	v, err := parseResourceID("encounter id", s)
	return EncounterID(v), err
}

// ParseUserID validates a user identifier.
func ParseUserID(s string) (UserID, error) {
	v, err := parseResourceID("user id", s)
	return UserID(v), err
}

func (id PatientID) String() string   { return string(id) }
func (id VisitID) String() string     { return string(id) }
func (id EncounterID) String() string { return string(id) }
func (id UserID) String() string      { return string(id) }

// IsNil reports whether the identifier is unset.
func (id PatientID) IsNil() bool { return id == "" }
func (id UserID) IsNil() bool    { return id == "" }
