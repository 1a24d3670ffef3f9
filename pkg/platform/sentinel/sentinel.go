package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so stages can translate them into domain errors.
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnavailable   = errors.New("unavailable")
	ErrMisconfigured = errors.New("misconfigured")
)
