// Package ports defines the interfaces the rate limiter consumes.
package ports

import (
	"context"
	"time"

	"medgate/internal/ratelimit/models"
	"medgate/internal/securityconfig"
)

// CounterStore performs an atomic increment-with-expiry on a fixed window.
// The first increment of a key starts a window of length window; the count
// resets when it elapses.
type CounterStore interface {
	Increment(ctx context.Context, key models.Key, window time.Duration) (models.Counter, error)
}

// SnapshotSource returns the current security settings.
type SnapshotSource interface {
	Get(ctx context.Context) (*securityconfig.Snapshot, error)
}
