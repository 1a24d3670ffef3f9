package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"medgate/internal/platform/config"
	"medgate/internal/ratelimit/metrics"
	"medgate/internal/ratelimit/models"
	"medgate/internal/ratelimit/ports"
	"medgate/internal/securityconfig"
	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/platform/sentinel"
)

// closedRetryCap bounds Retry-After for fail-closed denials.
const closedRetryCap = 60 * time.Second

var errCircuitOpen = fmt.Errorf("counter store circuit open: %w", sentinel.ErrUnavailable)

// defaultsOnly yields the built-in quotas and fail modes.
var defaultsOnly = &config.Config{}

// Service applies bucket quotas on top of a CounterStore. When the shared
// store fails, each bucket's fail mode decides the answer.
type Service struct {
	primary       ports.CounterStore
	fallback      ports.CounterStore
	snapshots     ports.SnapshotSource
	breaker       *circuit.Breaker
	emitter       audit.SecurityEmitter
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	probeInterval time.Duration
	lastProbe     atomic.Int64
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithFallbackStore sets the process-local store used by the local fail mode.
func WithFallbackStore(store ports.CounterStore) Option {
	return func(s *Service) {
		s.fallback = store
	}
}

// WithEmitter reports store degradation as security events.
func WithEmitter(e audit.SecurityEmitter) Option {
	return func(s *Service) {
		s.emitter = e
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		s.breaker = b
	}
}

// WithProbeInterval sets how often the shared store is retried while the
// breaker is open.
func WithProbeInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.probeInterval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the limiter service. primary is the shared counter store.
func New(primary ports.CounterStore, snapshots ports.SnapshotSource, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, errors.New("counter store is required")
	}
	if snapshots == nil {
		return nil, errors.New("security config source is required")
	}
	svc := &Service{
		primary:       primary,
		snapshots:     snapshots,
		breaker:       circuit.New("counter-store"),
		logger:        slog.Default(),
		now:           time.Now,
		probeInterval: time.Second,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CheckAndIncrement counts one attempt for key against limit per window.
// Rejected attempts are counted too. Store failures are returned.
func (s *Service) CheckAndIncrement(ctx context.Context, key models.Key, limit int, window time.Duration) (*models.Result, error) {
	return s.checkWith(ctx, s.primary, key, limit, window)
}

func (s *Service) checkWith(ctx context.Context, store ports.CounterStore, key models.Key, limit int, window time.Duration) (*models.Result, error) {
	if limit <= 0 || window <= 0 {
		return nil, fmt.Errorf("invalid quota %d per %s: %w", limit, window, sentinel.ErrMisconfigured)
	}
	c, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}
	return models.NewResult(c, limit, window, s.now()), nil
}

// Check resolves the quota for bucket and caller, then counts the attempt.
// userID is empty for anonymous callers.
func (s *Service) Check(ctx context.Context, bucket models.Bucket, userID, ip string) (*models.Result, error) {
	snap, err := s.snapshots.Get(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "security config unavailable, using built-in quotas", "error", err)
		snap = securityconfig.FromConfig(defaultsOnly)
	}
	quota := snap.Quota(string(bucket))
	limit := quota.Limit(userID != "")
	key := models.NewKey(bucket, userID, ip)

	res, err := s.checkShared(ctx, key, limit, quota.Window)
	if err == nil {
		s.metrics.ObserveDecision(string(bucket), res.Allowed)
		return res, nil
	}
	if errors.Is(err, sentinel.ErrMisconfigured) {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	mode := models.FailMode(snap.FailMode(string(bucket)))
	s.metrics.IncrementDegraded(string(bucket), string(mode))
	res = s.degrade(ctx, mode, key, limit, quota.Window)
	s.metrics.ObserveDecision(string(bucket), res.Allowed)
	return res, nil
}

// checkShared calls the shared store through the breaker. While the breaker
// is open the store is only retried once per probe interval.
func (s *Service) checkShared(ctx context.Context, key models.Key, limit int, window time.Duration) (*models.Result, error) {
	if s.breaker.IsOpen() && !s.probeDue() {
		return nil, errCircuitOpen
	}

	res, err := s.checkWith(ctx, s.primary, key, limit, window)
	if err != nil {
		if errors.Is(err, sentinel.ErrMisconfigured) || ctx.Err() != nil {
			return nil, err
		}
		s.recordStoreFailure(ctx, err)
		return nil, err
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.metrics.SetBreakerOpen(false)
		s.logger.InfoContext(ctx, "counter store recovered, circuit closed", "breaker", s.breaker.Name())
	}
	return res, nil
}

func (s *Service) recordStoreFailure(ctx context.Context, err error) {
	wasOpen := s.breaker.IsOpen()
	_, change := s.breaker.RecordFailure()
	s.metrics.IncrementStoreErrors()

	switch {
	case change.Opened:
		s.lastProbe.Store(s.now().UnixNano())
		s.metrics.SetBreakerOpen(true)
		s.logger.ErrorContext(ctx, "counter store failing, circuit opened", "breaker", s.breaker.Name(), "error", err)
		s.emitDegraded(ctx, "counter store circuit opened: "+err.Error(), audit.SeverityCritical)
	case !wasOpen:
		s.logger.WarnContext(ctx, "counter store call failed", "error", err)
		s.emitDegraded(ctx, "counter store call failed: "+err.Error(), audit.SeverityWarning)
	}
}

func (s *Service) probeDue() bool {
	now := s.now().UnixNano()
	last := s.lastProbe.Load()
	if now-last < int64(s.probeInterval) {
		return false
	}
	return s.lastProbe.CompareAndSwap(last, now)
}

// degrade answers a check without the shared store.
func (s *Service) degrade(ctx context.Context, mode models.FailMode, key models.Key, limit int, window time.Duration) *models.Result {
	switch mode {
	case models.FailClosed:
		retry := window
		if retry > closedRetryCap {
			retry = closedRetryCap
		}
		return &models.Result{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			RetryAfter: retry,
			ResetAt:    s.now().Add(retry),
			Degraded:   true,
			FailMode:   mode,
		}
	case models.FailLocal:
		if s.fallback != nil {
			res, err := s.checkWith(ctx, s.fallback, key, limit, window)
			if err == nil {
				res.Degraded = true
				res.FailMode = mode
				return res
			}
			s.logger.ErrorContext(ctx, "local fallback store failed, allowing request", "error", err)
		}
	}
	return &models.Result{
		Allowed:  true,
		Limit:    limit,
		Degraded: true,
		FailMode: models.FailOpen,
	}
}

func (s *Service) emitDegraded(ctx context.Context, reason string, severity audit.Severity) {
	if s.emitter == nil {
		return
	}
	s.emitter.Emit(ctx, audit.SecurityEvent{
		Subject:  s.breaker.Name(),
		Action:   audit.ActionRateLimitStoreDegraded,
		Reason:   reason,
		Severity: severity,
	})
}

// BreakerState exposes the breaker position for health reporting.
func (s *Service) BreakerState() circuit.State {
	return s.breaker.State()
}
