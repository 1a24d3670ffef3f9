// Package domainerrors defines the error taxonomy shared by the gateway stages,
// the health subsystem and the domain collaborators.
//
// Stages return *Error values; transports translate them into the standard
// error envelope with HTTPStatus. Infrastructure layers should return sentinel
// errors (pkg/platform/sentinel) and let the calling stage pick a Code.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code is a stable, client-visible error code.
type Code string

const (
	CodeValidation           Code = "VALIDATION_ERROR"
	CodePayloadTooLarge      Code = "PAYLOAD_TOO_LARGE"
	CodeUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeNotAcceptable        Code = "NOT_ACCEPTABLE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeCritical             Code = "CRITICAL"
	CodeInternal             Code = "INTERNAL_ERROR"
)

// Error is a coded error with an optional cause and client-safe details.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// WithDetail returns a copy of e carrying an extra detail entry.
func (e *Error) WithDetail(key string, value any) *Error {
	out := *e
	out.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		out.Details[k] = v
	}
	out.Details[key] = value
	return &out
}

// As extracts a *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// HTTPStatus maps a code to the response status used for it.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusUnprocessableEntity
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeNotAcceptable:
		return http.StatusNotAcceptable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeCritical:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
