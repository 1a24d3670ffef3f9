package authz

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a loaded matrix is served before a reload.
const DefaultTTL = 10 * time.Minute

type cached struct {
	matrix   *Matrix
	loadedAt time.Time
}

// Provider caches the permission matrix.
type Provider struct {
	source  Source
	ttl     time.Duration
	current atomic.Pointer[cached]
	group   singleflight.Group
	logger  *slog.Logger
	now     func() time.Time
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithTTL sets the cache freshness window.
func WithTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		p.now = now
	}
}

func NewProvider(source Source, logger *slog.Logger, opts ...ProviderOption) *Provider {
	p := &Provider{
		source: source,
		ttl:    DefaultTTL,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Matrix returns the cached matrix, reloading it once stale. A failed reload
// keeps serving the previous matrix when there is one.
func (p *Provider) Matrix(ctx context.Context) (*Matrix, error) {
	c := p.current.Load()
	if c != nil && p.now().Sub(c.loadedAt) < p.ttl {
		return c.matrix, nil
	}
	v, err, _ := p.group.Do("matrix", func() (any, error) {
		if c := p.current.Load(); c != nil && p.now().Sub(c.loadedAt) < p.ttl {
			return c.matrix, nil
		}
		m, err := p.source(ctx)
		if err != nil {
			return nil, err
		}
		p.current.Store(&cached{matrix: m, loadedAt: p.now()})
		p.logger.InfoContext(ctx, "permission matrix loaded")
		return m, nil
	})
	if err != nil {
		if c != nil && c.matrix != nil {
			p.logger.ErrorContext(ctx, "permission matrix reload failed, serving previous", "error", err)
			return c.matrix, nil
		}
		return nil, err
	}
	return v.(*Matrix), nil
}

// Invalidate forces the next Matrix call to reload. The previous matrix
// stays available as a fallback if that reload fails.
func (p *Provider) Invalidate() {
	if c := p.current.Load(); c != nil {
		p.current.Store(&cached{matrix: c.matrix})
	}
}
