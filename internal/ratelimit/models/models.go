package models

import (
	"math"
	"time"

	"medgate/internal/securityconfig"
)

// Bucket names a quota class. Routes pick a bucket; unknown names resolve to
// the default quota.
type Bucket string

const (
	BucketLogin         Bucket = securityconfig.BucketLogin
	BucketRegister      Bucket = securityconfig.BucketRegister
	BucketPasswordReset Bucket = securityconfig.BucketPasswordReset
	BucketVerification  Bucket = securityconfig.BucketVerification
	BucketUploads       Bucket = securityconfig.BucketUploads
	BucketSensitive     Bucket = securityconfig.BucketSensitive
	BucketAPI           Bucket = securityconfig.BucketAPI
	BucketDefault       Bucket = securityconfig.BucketDefault
)

// ParseBucket maps a route's bucket name to a Bucket. Empty means default.
func ParseBucket(s string) Bucket {
	if s == "" {
		return BucketDefault
	}
	return Bucket(s)
}

// FailMode is the behaviour when the shared counter store cannot answer.
type FailMode string

const (
	// FailClosed denies the request.
	FailClosed FailMode = securityconfig.FailClosed
	// FailOpen allows the request and marks the response degraded.
	FailOpen FailMode = securityconfig.FailOpen
	// FailLocal counts in a process-local store instead.
	FailLocal FailMode = securityconfig.FailLocal
)

// Key identifies one counter.
type Key string

func (k Key) String() string { return string(k) }

// Counter is the state of a fixed window after an increment.
type Counter struct {
	Count int
	// TTL is the time left until the window resets.
	TTL time.Duration
}

// Result is the outcome of a rate-limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Count      int
	RetryAfter time.Duration
	ResetAt    time.Time
	// Degraded is set when the answer did not come from the shared store.
	Degraded bool
	FailMode FailMode
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, never below one.
func (r *Result) RetryAfterSeconds() int {
	secs := int(math.Ceil(r.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// NewResult derives a Result from a counter and its quota.
func NewResult(c Counter, limit int, window time.Duration, now time.Time) *Result {
	ttl := c.TTL
	if ttl <= 0 || ttl > window {
		ttl = window
	}
	remaining := limit - c.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Result{
		Allowed:    c.Count <= limit,
		Limit:      limit,
		Remaining:  remaining,
		Count:      c.Count,
		RetryAfter: ttl,
		ResetAt:    now.Add(ttl),
	}
}
