package audit

import "strings"

// patientSegments are the path segments that mark a route as touching
// patient data.
var patientSegments = map[string]struct{}{
	"patients":         {},
	"visits":           {},
	"encounters":       {},
	"observations":     {},
	"medications":      {},
	"prescriptions":    {},
	"service-requests": {},
	"invoices":         {},
	"exports":          {},
}

// IsPatientRoute reports whether any segment of path names a patient-data
// resource.
func IsPatientRoute(path string) bool {
	for segment := range strings.SplitSeq(path, "/") {
		if _, ok := patientSegments[strings.ToLower(segment)]; ok {
			return true
		}
	}
	return false
}
