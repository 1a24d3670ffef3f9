package health

import (
	"sync/atomic"
	"time"

	"medgate/pkg/platform/window"
)

const errorKey = "errors"

// ErrorTracker keeps a rolling count of server-side errors.
type ErrorTracker struct {
	window *window.Counter
	total  atomic.Int64
}

// NewErrorTracker counts errors over span (an hour in production).
func NewErrorTracker(span time.Duration, opts ...window.Option) *ErrorTracker {
	return &ErrorTracker{window: window.New(span, opts...)}
}

func (t *ErrorTracker) RecordError() {
	t.window.Record(errorKey)
	t.total.Add(1)
}

// Recent returns the errors inside the window.
func (t *ErrorTracker) Recent() int {
	return t.window.Count(errorKey)
}

// Total returns every error recorded since start.
func (t *ErrorTracker) Total() int64 {
	return t.total.Load()
}
