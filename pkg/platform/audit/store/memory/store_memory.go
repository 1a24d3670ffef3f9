package memory

import (
	"context"
	"sync"

	"medgate/pkg/platform/audit"
)

// Store keeps access records in memory. It backs tests and single-process
// development runs.
type Store struct {
	mu      sync.RWMutex
	records []audit.AccessRecord
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, record audit.AccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

// Records returns a copy of everything appended, oldest first.
func (s *Store) Records() []audit.AccessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.AccessRecord{}, s.records...)
}

// ByPatient returns the records that reference patientID.
func (s *Store) ByPatient(patientID string) []audit.AccessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.AccessRecord
	for _, r := range s.records {
		if r.Resource.PatientID != nil && *r.Resource.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(limit int) []audit.AccessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := min(limit, len(s.records))
	out := make([]audit.AccessRecord, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
}

// ListByPatient returns up to limit records for patientID, newest first.
func (s *Store) ListByPatient(_ context.Context, patientID string, limit int) ([]audit.AccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.AccessRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[i]
		if r.Resource.PatientID != nil && *r.Resource.PatientID == patientID {
			out = append(out, r)
		}
	}
	return out, nil
}
