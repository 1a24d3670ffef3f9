// Package health reports liveness, readiness and dependency health. Five
// checks run concurrently; their statuses fold into one aggregate.
package health

import (
	"context"
	"time"
)

// Status of a check or of the aggregate.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Check names as reported under "checks".
const (
	CheckDatabase  = "database"
	CheckCache     = "cache"
	CheckDiskSpace = "disk_space"
	CheckMemory    = "memory"
	CheckErrorRate = "error_rate"
)

// Result is one check outcome.
type Result struct {
	Status    Status `json:"status"`
	Detail    string `json:"detail"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
}

// Check is a named dependency probe.
type Check struct {
	Name string
	Run  func(ctx context.Context) Result
}

// Report is the outcome of one probe run.
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Result `json:"checks"`
}

// Ready reports whether the aggregate allows serving traffic.
func (r Report) Ready() bool {
	return r.Status == StatusHealthy || r.Status == StatusWarning
}

// Failing returns how many checks are not healthy.
func (r Report) Failing() int {
	n := 0
	for _, res := range r.Checks {
		if res.Status != StatusHealthy {
			n++
		}
	}
	return n
}

// Aggregate folds check results: no failing check is healthy, one or two is
// warning, more is critical. A warning check counts as failing.
func Aggregate(results map[string]Result) Status {
	failing := Report{Checks: results}.Failing()
	switch {
	case failing == 0:
		return StatusHealthy
	case failing <= 2:
		return StatusWarning
	default:
		return StatusCritical
	}
}
