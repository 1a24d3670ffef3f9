package audit

import (
	"context"
	"encoding/json"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers patient-data access records. These require
	// tamper-evident storage and long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// These feed into SIEM systems and alerting pipelines.
	CategorySecurity EventCategory = "security"
)

// Phase says which half of a request an access record describes.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// Action is the CRUD verb a request maps to.
type Action string

const (
	ActionRead   Action = "read"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// ActionForMethod maps an HTTP method to an Action. Unknown methods map to read.
func ActionForMethod(method string) Action {
	switch method {
	case "POST":
		return ActionCreate
	case "PUT", "PATCH":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	default:
		return ActionRead
	}
}

// Actor is who performed the request. Empty for anonymous callers.
type Actor struct {
	UserID string   `json:"user_id,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	IP     string   `json:"ip,omitempty"`
}

// Resource is what the request touched. PatientID is nil when no extraction
// strategy resolved one; the record is still emitted.
type Resource struct {
	PatientID *string `json:"patient_id"`
	Route     string  `json:"route"`
	Method    string  `json:"method"`
}

// Outcome is the handler result, present on response-phase records.
type Outcome struct {
	StatusCode int   `json:"status_code"`
	DurationMS int64 `json:"duration_ms"`
}

// PayloadDigest is the redacted snapshot of the request or response.
type PayloadDigest struct {
	Request  json.RawMessage   `json:"request,omitempty"`
	Response json.RawMessage   `json:"response,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// AccessRecord is one patient-data access record. It is created once per phase
// and never mutated after ContentHash is set.
type AccessRecord struct {
	TraceID     string        `json:"trace_id"`
	RequestID   string        `json:"request_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Phase       Phase         `json:"phase"`
	Actor       Actor         `json:"actor"`
	Resource    Resource      `json:"resource"`
	Action      Action        `json:"action"`
	Outcome     *Outcome      `json:"outcome,omitempty"`
	Payload     PayloadDigest `json:"payload_digest"`
	ContentHash string        `json:"content_hash"`
}

// Category returns CategoryCompliance (always).
func (AccessRecord) Category() EventCategory { return CategoryCompliance }

// Sink persists access records.
type Sink interface {
	Append(ctx context.Context, record AccessRecord) error
}

// SecurityEvent captures security-relevant facts for SIEM and alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
	IP        string    `json:"ip,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Route     string    `json:"route,omitempty"`
	Severity  Severity  `json:"severity"`
}

// Security event actions.
const (
	ActionAuthFailuresRepeated   = "auth_failures_repeated"
	ActionSlowRequest            = "slow_request"
	ActionRateLimitStoreDegraded = "rate_limit_store_degraded"
	ActionRateLimitExceeded      = "rate_limit_exceeded"
	ActionSuspiciousUserAgent    = "suspicious_user_agent"
	ActionDisallowedOrigin       = "disallowed_origin"
	ActionAuditSinkFailed        = "audit_sink_failed"
)

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (SecurityEvent) Category() EventCategory { return CategorySecurity }

// SecurityEmitter accepts security events without blocking the caller.
type SecurityEmitter interface {
	Emit(ctx context.Context, event SecurityEvent)
}
