// Package httputil writes the JSON envelopes shared by every HTTP surface.
package httputil

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	dErrors "medgate/pkg/domain-errors"
	"medgate/pkg/requestcontext"
)

// ErrorBody is the "error" member of the error envelope.
type ErrorBody struct {
	Code    dErrors.Code   `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta is attached to every envelope.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ErrorEnvelope is the body of every gateway rejection.
type ErrorEnvelope struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
	Meta    Meta      `json:"meta"`
}

// SuccessEnvelope wraps payloads served by the gateway's own endpoints.
type SuccessEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Meta    Meta `json:"meta"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// NewMeta builds envelope metadata from the request context.
func NewMeta(ctx context.Context) Meta {
	return Meta{
		Timestamp: requestcontext.Now(ctx).UTC(),
		Version:   requestcontext.APIVersion(ctx).String(),
	}
}

// NewErrorEnvelope translates err into a status and envelope. Errors without a
// code, and internal errors, never leak their message.
func NewErrorEnvelope(ctx context.Context, err error) (int, ErrorEnvelope) {
	body := ErrorBody{Code: dErrors.CodeInternal, Message: "internal server error"}
	if de, ok := dErrors.As(err); ok && de.Code != dErrors.CodeInternal {
		body = ErrorBody{Code: de.Code, Message: de.Message, Details: de.Details}
	}
	return dErrors.HTTPStatus(body.Code), ErrorEnvelope{
		Success: false,
		Error:   body,
		Meta:    NewMeta(ctx),
	}
}

// WriteError writes err as an error envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, err error) {
	status, env := NewErrorEnvelope(ctx, err)
	WriteJSON(w, status, env)
}

// WriteSuccess writes data inside a success envelope.
func WriteSuccess(ctx context.Context, w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, SuccessEnvelope{Success: true, Data: data, Meta: NewMeta(ctx)})
}
