// Package records is an in-memory stand-in for the clinical records service.
// It serves just enough of patients, visits, encounters and prescriptions for
// the gateway to run end to end, and answers the parent lookups the audit
// recorder needs.
package records

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
)

type Patient struct {
	ID          id.PatientID `json:"id"`
	Name        string       `json:"name"`
	DateOfBirth string       `json:"date_of_birth,omitempty"`
	Allergies   []string     `json:"allergies,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type Visit struct {
	ID        id.VisitID   `json:"id"`
	PatientID id.PatientID `json:"patient_id"`
	Reason    string       `json:"reason"`
	OpenedAt  time.Time    `json:"opened_at"`
}

type Encounter struct {
	ID      id.EncounterID `json:"id"`
	VisitID id.VisitID     `json:"visit_id"`
	Notes   string         `json:"notes,omitempty"`
}

type Prescription struct {
	ID         string       `json:"id"`
	PatientID  id.PatientID `json:"patient_id"`
	Medication string       `json:"medication"`
	Dosage     string       `json:"dosage"`
	Dispensed  bool         `json:"dispensed"`
	IssuedBy   id.UserID    `json:"issued_by"`
}

// Store keeps everything in maps guarded by one lock.
type Store struct {
	mu            sync.RWMutex
	seq           int
	patients      map[id.PatientID]*Patient
	visits        map[id.VisitID]*Visit
	encounters    map[id.EncounterID]*Encounter
	prescriptions map[string]*Prescription
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{
		patients:      make(map[id.PatientID]*Patient),
		visits:        make(map[id.VisitID]*Visit),
		encounters:    make(map[id.EncounterID]*Encounter),
		prescriptions: make(map[string]*Prescription),
		now:           time.Now,
	}
}

func notFound(kind string) error {
	return dErrors.New(dErrors.CodeNotFound, kind+" not found")
}

// nextID must be called with mu held.
func (s *Store) nextID() string {
	s.seq++
	return strconv.Itoa(s.seq)
}

func (s *Store) ListPatients(_ context.Context) []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Patient) int { return compareIDs(string(a.ID), string(b.ID)) })
	return out
}

func (s *Store) GetPatient(_ context.Context, pid id.PatientID) (Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[pid]
	if !ok {
		return Patient{}, notFound("patient")
	}
	return *p, nil
}

func (s *Store) CreatePatient(_ context.Context, p Patient) Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsNil() {
		p.ID = id.PatientID(s.nextID())
	}
	p.UpdatedAt = s.now().UTC()
	s.patients[p.ID] = &p
	return p
}

// UpdatePatient replaces the mutable fields of an existing patient.
func (s *Store) UpdatePatient(_ context.Context, pid id.PatientID, p Patient) (Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.patients[pid]
	if !ok {
		return Patient{}, notFound("patient")
	}
	if p.Name != "" {
		cur.Name = p.Name
	}
	if p.DateOfBirth != "" {
		cur.DateOfBirth = p.DateOfBirth
	}
	if p.Allergies != nil {
		cur.Allergies = p.Allergies
	}
	cur.UpdatedAt = s.now().UTC()
	return *cur, nil
}

func (s *Store) DeletePatient(_ context.Context, pid id.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[pid]; !ok {
		return notFound("patient")
	}
	delete(s.patients, pid)
	return nil
}

func (s *Store) CreateVisit(_ context.Context, pid id.PatientID, reason string) (Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[pid]; !ok {
		return Visit{}, notFound("patient")
	}
	v := &Visit{ID: id.VisitID(s.nextID()), PatientID: pid, Reason: reason, OpenedAt: s.now().UTC()}
	s.visits[v.ID] = v
	return *v, nil
}

func (s *Store) GetVisit(_ context.Context, vid id.VisitID) (Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[vid]
	if !ok {
		return Visit{}, notFound("visit")
	}
	return *v, nil
}

func (s *Store) CreateEncounter(_ context.Context, vid id.VisitID, notes string) (Encounter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visits[vid]; !ok {
		return Encounter{}, notFound("visit")
	}
	e := &Encounter{ID: id.EncounterID(s.nextID()), VisitID: vid, Notes: notes}
	s.encounters[e.ID] = e
	return *e, nil
}

func (s *Store) GetEncounter(_ context.Context, eid id.EncounterID) (Encounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.encounters[eid]
	if !ok {
		return Encounter{}, notFound("encounter")
	}
	return *e, nil
}

func (s *Store) CreatePrescription(_ context.Context, p Prescription) (Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.PatientID]; !ok {
		return Prescription{}, notFound("patient")
	}
	p.ID = s.nextID()
	p.Dispensed = false
	s.prescriptions[p.ID] = &p
	return p, nil
}

func (s *Store) ListPrescriptions(_ context.Context, pid id.PatientID) []Prescription {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Prescription
	for _, p := range s.prescriptions {
		if p.PatientID == pid {
			out = append(out, *p)
		}
	}
	slices.SortFunc(out, func(a, b Prescription) int { return compareIDs(a.ID, b.ID) })
	return out
}

func (s *Store) DispensePrescription(_ context.Context, rxID string) (Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prescriptions[rxID]
	if !ok {
		return Prescription{}, notFound("prescription")
	}
	p.Dispensed = true
	return *p, nil
}

// PatientForVisit resolves the patient a visit belongs to.
func (s *Store) PatientForVisit(ctx context.Context, vid id.VisitID) (id.PatientID, error) {
	v, err := s.GetVisit(ctx, vid)
	if err != nil {
		return "", err
	}
	return v.PatientID, nil
}

// VisitForEncounter resolves the visit an encounter belongs to.
func (s *Store) VisitForEncounter(ctx context.Context, eid id.EncounterID) (id.VisitID, error) {
	e, err := s.GetEncounter(ctx, eid)
	if err != nil {
		return "", err
	}
	return e.VisitID, nil
}

// compareIDs orders numeric ids numerically and everything else lexically.
func compareIDs(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai - bi
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
