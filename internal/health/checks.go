package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"

	"medgate/internal/platform/config"
)

const notConfigured = "not configured"

// Pinger runs a trivial round-trip query.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheClient is the subset of the Redis client the cache check uses.
type CacheClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Thresholds tune the checks.
type Thresholds struct {
	DBLatencyWarning  time.Duration
	DiskFreeCritical  float64
	DiskFreeWarning   float64
	MemoryCritical    float64
	MemoryWarning     float64
	MemoryLimitBytes  uint64
	ErrorRateWarning  int
	ErrorRateCritical int
}

// DefaultThresholds are the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DBLatencyWarning:  time.Second,
		DiskFreeCritical:  5,
		DiskFreeWarning:   15,
		MemoryCritical:    90,
		MemoryWarning:     75,
		MemoryLimitBytes:  1 << 30,
		ErrorRateWarning:  50,
		ErrorRateCritical: 100,
	}
}

// DatabaseCheck pings db. Slow answers are a warning, failures critical.
func DatabaseCheck(db Pinger, slow time.Duration) Check {
	return Check{Name: CheckDatabase, Run: func(ctx context.Context) Result {
		if db == nil {
			return Result{Status: StatusWarning, Detail: notConfigured}
		}
		start := time.Now()
		err := db.Ping(ctx)
		latency := time.Since(start)
		switch {
		case err != nil:
			return Result{Status: StatusCritical, Detail: "database unreachable: " + err.Error(), LatencyMS: latency.Milliseconds()}
		case latency > slow:
			return Result{Status: StatusWarning, Detail: fmt.Sprintf("slow database round trip (%s)", latency.Round(time.Millisecond)), LatencyMS: latency.Milliseconds()}
		}
		return Result{Status: StatusHealthy, Detail: "database reachable", LatencyMS: latency.Milliseconds()}
	}}
}

// CacheCheck writes, reads back and deletes a throwaway key.
func CacheCheck(client CacheClient) Check {
	return Check{Name: CheckCache, Run: func(ctx context.Context) Result {
		if client == nil {
			return Result{Status: StatusWarning, Detail: notConfigured}
		}
		start := time.Now()
		key := "health:probe:" + uuid.NewString()
		want := uuid.NewString()
		if err := client.Set(ctx, key, want, time.Minute).Err(); err != nil {
			return Result{Status: StatusCritical, Detail: "cache write failed: " + err.Error()}
		}
		got, err := client.Get(ctx, key).Result()
		// best effort; the key expires anyway
		_ = client.Del(ctx, key).Err()
		latency := time.Since(start).Milliseconds()
		if err != nil {
			return Result{Status: StatusCritical, Detail: "cache read failed: " + err.Error(), LatencyMS: latency}
		}
		if got != want {
			return Result{Status: StatusWarning, Detail: "cache returned a different value", LatencyMS: latency}
		}
		return Result{Status: StatusHealthy, Detail: "cache round trip ok", LatencyMS: latency}
	}}
}

// DiskUsageFunc reports usage for a mount path.
type DiskUsageFunc func(ctx context.Context, path string) (*disk.UsageStat, error)

// DiskCheck grades free space on path.
func DiskCheck(path string, usage DiskUsageFunc, t Thresholds) Check {
	if usage == nil {
		usage = disk.UsageWithContext
	}
	return Check{Name: CheckDiskSpace, Run: func(ctx context.Context) Result {
		stat, err := usage(ctx, path)
		if err != nil {
			return Result{Status: StatusCritical, Detail: "disk usage unavailable: " + err.Error()}
		}
		if stat.Total == 0 {
			return Result{Status: StatusCritical, Detail: "disk reports zero capacity"}
		}
		free := float64(stat.Free) / float64(stat.Total) * 100
		detail := fmt.Sprintf("%.1f%% free on %s", free, path)
		switch {
		case free < t.DiskFreeCritical:
			return Result{Status: StatusCritical, Detail: detail}
		case free < t.DiskFreeWarning:
			return Result{Status: StatusWarning, Detail: detail}
		}
		return Result{Status: StatusHealthy, Detail: detail}
	}}
}

// RSSFunc returns the resident set size of this process.
type RSSFunc func(ctx context.Context) (uint64, error)

// ProcessRSS reads this process's resident memory.
func ProcessRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pid fits
	if err != nil {
		return 0, err
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// MemoryCheck grades process memory against the configured limit.
func MemoryCheck(rss RSSFunc, t Thresholds) Check {
	if rss == nil {
		rss = ProcessRSS
	}
	return Check{Name: CheckMemory, Run: func(ctx context.Context) Result {
		if t.MemoryLimitBytes == 0 {
			return Result{Status: StatusWarning, Detail: "memory limit not configured"}
		}
		used, err := rss(ctx)
		if err != nil {
			return Result{Status: StatusCritical, Detail: "memory usage unavailable: " + err.Error()}
		}
		pct := float64(used) / float64(t.MemoryLimitBytes) * 100
		detail := fmt.Sprintf("%.1f%% of %d bytes", pct, t.MemoryLimitBytes)
		switch {
		case pct > t.MemoryCritical:
			return Result{Status: StatusCritical, Detail: detail}
		case pct > t.MemoryWarning:
			return Result{Status: StatusWarning, Detail: detail}
		}
		return Result{Status: StatusHealthy, Detail: detail}
	}}
}

// ErrorRateCheck grades the errors of the last window.
func ErrorRateCheck(tracker *ErrorTracker, t Thresholds) Check {
	return Check{Name: CheckErrorRate, Run: func(context.Context) Result {
		n := tracker.Recent()
		detail := fmt.Sprintf("%d errors in the last hour", n)
		switch {
		case n > t.ErrorRateCritical:
			return Result{Status: StatusCritical, Detail: detail}
		case n > t.ErrorRateWarning:
			return Result{Status: StatusWarning, Detail: detail}
		}
		return Result{Status: StatusHealthy, Detail: detail}
	}}
}

// Deps are the dependencies the standard checks inspect. Nil DB or Cache
// report "not configured" as a warning.
type Deps struct {
	DB        Pinger
	Cache     CacheClient
	Errors    *ErrorTracker
	DiskUsage DiskUsageFunc
	RSS       RSSFunc
}

// StandardChecks builds the five checks from configuration.
func StandardChecks(cfg config.HealthConfig, deps Deps) []Check {
	t := DefaultThresholds()
	if cfg.DBLatencyWarning > 0 {
		t.DBLatencyWarning = cfg.DBLatencyWarning
	}
	if cfg.MemoryLimitBytes > 0 {
		t.MemoryLimitBytes = cfg.MemoryLimitBytes
	}
	if cfg.ErrorRateWarning > 0 {
		t.ErrorRateWarning = cfg.ErrorRateWarning
	}
	if cfg.ErrorRateCritical > 0 {
		t.ErrorRateCritical = cfg.ErrorRateCritical
	}
	path := cfg.DiskPath
	if path == "" {
		path = "/"
	}
	return []Check{
		DatabaseCheck(deps.DB, t.DBLatencyWarning),
		CacheCheck(deps.Cache),
		DiskCheck(path, deps.DiskUsage, t),
		MemoryCheck(deps.RSS, t),
		ErrorRateCheck(deps.Errors, t),
	}
}
