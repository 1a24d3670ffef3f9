// Package securityconfig serves a versioned, cached snapshot of the security
// settings: rate-limit quotas and fail modes, token lifetimes and password
// policy. Readers never lock; Invalidate drops the snapshot and the next Get
// recomputes it from the source with a higher version.
package securityconfig

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"medgate/internal/platform/config"
)

// Bucket names shared with the rate limiter.
const (
	BucketLogin         = "login"
	BucketRegister      = "register"
	BucketPasswordReset = "password-reset"
	BucketVerification  = "verification"
	BucketUploads       = "uploads"
	BucketSensitive     = "sensitive"
	BucketAPI           = "api"
	BucketDefault       = "default"
)

// Fail modes applied when the shared counter store is unavailable.
const (
	FailClosed = "closed"
	FailOpen   = "open"
	FailLocal  = "local"
)

// QuotaPair is the attempts allowed per window for authenticated and
// anonymous callers.
type QuotaPair struct {
	Authenticated int
	Anonymous     int
	Window        time.Duration
}

// Limit returns the attempts allowed for the caller kind.
func (q QuotaPair) Limit(authenticated bool) int {
	if authenticated || q.Anonymous <= 0 {
		return q.Authenticated
	}
	return q.Anonymous
}

// PasswordPolicy holds password constants consumed by the account collaborator.
type PasswordPolicy struct {
	MinLength        int
	RequireMixedCase bool
	RequireDigit     bool
	RequireSymbol    bool
	MaxAge           time.Duration
}

// Snapshot is an immutable view of the security settings.
type Snapshot struct {
	Version         uint64
	LoadedAt        time.Time
	Quotas          map[string]QuotaPair
	FailModes       map[string]string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Password        PasswordPolicy
}

// Quota returns the quota for bucket, falling back to the default bucket.
func (s *Snapshot) Quota(bucket string) QuotaPair {
	if q, ok := s.Quotas[bucket]; ok {
		return q
	}
	return s.Quotas[BucketDefault]
}

// FailMode returns the configured fail mode for bucket, falling back to the
// default bucket and finally to fail-open.
func (s *Snapshot) FailMode(bucket string) string {
	if m, ok := s.FailModes[bucket]; ok {
		return m
	}
	if m, ok := s.FailModes[BucketDefault]; ok {
		return m
	}
	return FailOpen
}

// DefaultQuotas returns the built-in quotas.
func DefaultQuotas() map[string]QuotaPair {
	return map[string]QuotaPair{
		BucketLogin:         {Authenticated: 5, Window: 15 * time.Minute},
		BucketRegister:      {Authenticated: 3, Window: time.Hour},
		BucketPasswordReset: {Authenticated: 5, Window: time.Hour},
		BucketVerification:  {Authenticated: 3, Window: time.Hour},
		BucketUploads:       {Authenticated: 50, Anonymous: 10, Window: time.Hour},
		BucketSensitive:     {Authenticated: 20, Anonymous: 5, Window: time.Hour},
		BucketAPI:           {Authenticated: 1000, Anonymous: 100, Window: time.Minute},
		BucketDefault:       {Authenticated: 60, Anonymous: 30, Window: time.Minute},
	}
}

// DefaultFailModes returns the built-in fail modes. Credential and sensitive
// buckets deny when the store is down; uploads fall back to process-local
// counting; everything else is allowed through.
func DefaultFailModes() map[string]string {
	return map[string]string{
		BucketLogin:         FailClosed,
		BucketRegister:      FailClosed,
		BucketPasswordReset: FailClosed,
		BucketVerification:  FailClosed,
		BucketSensitive:     FailClosed,
		BucketUploads:       FailLocal,
		BucketAPI:           FailOpen,
		BucketDefault:       FailOpen,
	}
}

// Source computes a fresh snapshot. Version and LoadedAt are set by the Provider.
type Source func(ctx context.Context) (*Snapshot, error)

// FromConfig builds a snapshot from cfg layered over the defaults.
func FromConfig(cfg *config.Config) *Snapshot {
	snap := &Snapshot{
		Quotas:          DefaultQuotas(),
		FailModes:       DefaultFailModes(),
		AccessTokenTTL:  cfg.Security.AccessTokenTTL,
		RefreshTokenTTL: cfg.Security.RefreshTokenTTL,
		Password: PasswordPolicy{
			MinLength:        cfg.Security.Password.MinLength,
			RequireMixedCase: cfg.Security.Password.RequireMixedCase,
			RequireDigit:     cfg.Security.Password.RequireDigit,
			RequireSymbol:    cfg.Security.Password.RequireSymbol,
			MaxAge:           cfg.Security.Password.MaxAge,
		},
	}
	for bucket, q := range cfg.Security.Quotas {
		pair := snap.Quotas[bucket]
		if q.Authenticated > 0 {
			pair.Authenticated = q.Authenticated
		}
		if q.Anonymous > 0 {
			pair.Anonymous = q.Anonymous
		}
		if q.Window > 0 {
			pair.Window = q.Window
		}
		if pair.Authenticated > 0 && pair.Window > 0 {
			snap.Quotas[bucket] = pair
		}
	}
	for bucket, mode := range cfg.RateLimit.FailModes {
		snap.FailModes[bucket] = mode
	}
	return snap
}

// LoaderSource re-reads configuration on every recompute, so an Invalidate
// picks up edited files and environment.
func LoaderSource(load func() (*config.Config, error)) Source {
	return func(context.Context) (*Snapshot, error) {
		cfg, err := load()
		if err != nil {
			return nil, fmt.Errorf("load security config: %w", err)
		}
		return FromConfig(cfg), nil
	}
}

// StaticSource always rebuilds from the same configuration.
func StaticSource(cfg *config.Config) Source {
	return func(context.Context) (*Snapshot, error) {
		return FromConfig(cfg), nil
	}
}

// Provider caches the current snapshot.
type Provider struct {
	source  Source
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New creates a Provider. The first Get computes the snapshot.
func New(source Source, logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{
		source: source,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get returns the cached snapshot, computing it if needed. Concurrent
// recomputes collapse into one source call.
func (p *Provider) Get(ctx context.Context) (*Snapshot, error) {
	if snap := p.current.Load(); snap != nil {
		return snap, nil
	}
	v, err, _ := p.group.Do("snapshot", func() (any, error) {
		if snap := p.current.Load(); snap != nil {
			return snap, nil
		}
		snap, err := p.source(ctx)
		if err != nil {
			return nil, err
		}
		snap.Version = p.version.Add(1)
		snap.LoadedAt = p.now()
		p.current.Store(snap)
		if p.logger != nil {
			p.logger.InfoContext(ctx, "security config loaded", "version", snap.Version)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops the cached snapshot.
func (p *Provider) Invalidate() {
	p.current.Store(nil)
}
