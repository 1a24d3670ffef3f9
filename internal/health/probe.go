package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds each check.
const DefaultCheckTimeout = 3 * time.Second

// Probe runs the registered checks concurrently.
type Probe struct {
	checks  []Check
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

type ProbeOption func(*Probe)

func WithCheckTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) ProbeOption {
	return func(p *Probe) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) ProbeOption {
	return func(p *Probe) {
		p.now = now
	}
}

func NewProbe(checks []Check, opts ...ProbeOption) *Probe {
	p := &Probe{
		checks:  checks,
		timeout: DefaultCheckTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes every check and aggregates the results. A check that panics
// or outlives its timeout is critical.
func (p *Probe) Run(ctx context.Context) Report {
	results := make([]Result, len(p.checks))
	var g errgroup.Group
	for i, c := range p.checks {
		g.Go(func() error {
			results[i] = p.runOne(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	byName := make(map[string]Result, len(results))
	for i, c := range p.checks {
		byName[c.Name] = results[i]
		if results[i].Status != StatusHealthy {
			p.logger.WarnContext(ctx, "health check not healthy",
				"check", c.Name,
				"status", results[i].Status,
				"detail", results[i].Detail,
			)
		}
	}
	return Report{
		Status:    Aggregate(byName),
		Timestamp: p.now().UTC(),
		Checks:    byName,
	}
}

func (p *Probe) runOne(ctx context.Context, c Check) (res Result) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusCritical, Detail: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- c.Run(ctx)
	}()

	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		return Result{Status: StatusCritical, Detail: "check timed out after " + p.timeout.String()}
	}
}
