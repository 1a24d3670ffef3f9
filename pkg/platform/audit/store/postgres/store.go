// Package postgres persists access records to the audit_activity_log table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"medgate/pkg/platform/audit"
)

// Store is the domain activity log. Inserts are idempotent on trace id.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one record.
func (s *Store) Append(ctx context.Context, record audit.AccessRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	var status sql.NullInt32
	var duration sql.NullInt64
	if record.Outcome != nil {
		status = sql.NullInt32{Int32: int32(record.Outcome.StatusCode), Valid: true} //nolint:gosec // HTTP status fits
		duration = sql.NullInt64{Int64: record.Outcome.DurationMS, Valid: true}
	}
	roles := record.Actor.Roles
	if roles == nil {
		roles = []string{}
	}

	const query = `
		INSERT INTO audit_activity_log (
			trace_id, request_id, phase, occurred_at, user_id, email, roles,
			patient_id, route, method, action, status_code, duration_ms,
			payload, content_hash
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (trace_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		record.TraceID,
		record.RequestID,
		string(record.Phase),
		record.Timestamp,
		nullString(record.Actor.UserID),
		nullString(record.Actor.Email),
		pq.Array(roles),
		record.Resource.PatientID,
		record.Resource.Route,
		record.Resource.Method,
		string(record.Action),
		status,
		duration,
		payload,
		record.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("insert activity log entry: %w", err)
	}
	return nil
}

// ListByPatient returns the newest records for patientID.
func (s *Store) ListByPatient(ctx context.Context, patientID string, limit int) ([]audit.AccessRecord, error) {
	const query = `
		SELECT trace_id, request_id, phase, occurred_at, user_id, email, roles,
		       patient_id, route, method, action, status_code, duration_ms,
		       payload, content_hash
		FROM audit_activity_log
		WHERE patient_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query activity log: %w", err)
	}
	defer rows.Close()

	var out []audit.AccessRecord
	for rows.Next() {
		var (
			r         audit.AccessRecord
			phase     string
			action    string
			userID    sql.NullString
			email     sql.NullString
			roles     pq.StringArray
			patient   sql.NullString
			status    sql.NullInt32
			duration  sql.NullInt64
			rawDigest []byte
		)
		if err := rows.Scan(
			&r.TraceID, &r.RequestID, &phase, &r.Timestamp, &userID, &email, &roles,
			&patient, &r.Resource.Route, &r.Resource.Method, &action, &status, &duration,
			&rawDigest, &r.ContentHash,
		); err != nil {
			return nil, fmt.Errorf("scan activity log entry: %w", err)
		}
		r.Phase = audit.Phase(phase)
		r.Action = audit.Action(action)
		r.Actor = audit.Actor{UserID: userID.String, Email: email.String, Roles: roles}
		if patient.Valid {
			pid := patient.String
			r.Resource.PatientID = &pid
		}
		if status.Valid {
			r.Outcome = &audit.Outcome{StatusCode: int(status.Int32), DurationMS: duration.Int64}
		}
		if err := json.Unmarshal(rawDigest, &r.Payload); err != nil {
			return nil, fmt.Errorf("decode audit payload: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity log: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
