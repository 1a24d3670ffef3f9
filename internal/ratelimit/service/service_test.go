package service

//go:generate mockgen -source=../ports/ports.go -destination=mocks/mocks.go -package=mocks CounterStore,SnapshotSource

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"medgate/internal/platform/config"
	"medgate/internal/ratelimit/models"
	"medgate/internal/ratelimit/service/mocks"
	"medgate/internal/ratelimit/store/counter"
	"medgate/internal/securityconfig"
	"medgate/pkg/platform/audit"
	"medgate/pkg/platform/circuit"
	"medgate/pkg/platform/sentinel"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.SecurityEvent
}

func (e *recordingEmitter) Emit(_ context.Context, event audit.SecurityEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

var errStoreDown = errors.New("dial tcp 10.0.0.9:6379: connect: connection refused")

// =============================================================================
// Quota enforcement against a working store
// =============================================================================

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *fakeClock
	store   *counter.MemoryStore
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.store = counter.NewMemoryStore(counter.WithClock(s.clock.Now))
	snapshots := securityconfig.New(securityconfig.StaticSource(&config.Config{}), nil)

	svc, err := New(s.store, snapshots,
		WithClock(s.clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, securityconfig.New(securityconfig.StaticSource(&config.Config{}), nil))
		s.ErrorContains(err, "counter store is required")
	})

	s.Run("nil snapshot source returns error", func() {
		_, err := New(counter.NewMemoryStore(), nil)
		s.ErrorContains(err, "security config source is required")
	})
}

func (s *ServiceSuite) TestAnonymousAPIQuota() {
	var res *models.Result
	var err error
	for i := 1; i <= 100; i++ {
		res, err = s.service.Check(s.ctx, models.BucketAPI, "", "203.0.113.7")
		s.Require().NoError(err)
		s.Require().True(res.Allowed, "call %d", i)
		s.Equal(100-i, res.Remaining)
	}

	s.clock.Advance(15 * time.Second)
	res, err = s.service.Check(s.ctx, models.BucketAPI, "", "203.0.113.7")

	s.Require().NoError(err)
	s.False(res.Allowed)
	s.Equal(100, res.Limit)
	s.Equal(0, res.Remaining)
	s.Equal(45*time.Second, res.RetryAfter)
	s.GreaterOrEqual(res.RetryAfterSeconds(), 1)
	s.LessOrEqual(res.RetryAfterSeconds(), 60)
	s.False(res.Degraded)
}

func (s *ServiceSuite) TestRejectedCallsStillCount() {
	for range 4 {
		_, err := s.service.Check(s.ctx, models.BucketRegister, "", "198.51.100.2")
		s.Require().NoError(err)
	}
	res, err := s.service.Check(s.ctx, models.BucketRegister, "", "198.51.100.2")
	s.Require().NoError(err)

	s.False(res.Allowed)
	s.Equal(5, res.Count)
}

func (s *ServiceSuite) TestWindowResets() {
	for range 6 {
		_, err := s.service.Check(s.ctx, models.BucketLogin, "", "198.51.100.3")
		s.Require().NoError(err)
	}

	s.clock.Advance(15 * time.Minute)
	res, err := s.service.Check(s.ctx, models.BucketLogin, "", "198.51.100.3")

	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(4, res.Remaining)
}

func (s *ServiceSuite) TestAuthenticatedCallersGetTheirOwnCounter() {
	for range 5 {
		_, err := s.service.Check(s.ctx, models.BucketSensitive, "", "192.0.2.10")
		s.Require().NoError(err)
	}
	anon, err := s.service.Check(s.ctx, models.BucketSensitive, "", "192.0.2.10")
	s.Require().NoError(err)
	user, err := s.service.Check(s.ctx, models.BucketSensitive, "u-1", "192.0.2.10")
	s.Require().NoError(err)

	s.False(anon.Allowed)
	s.True(user.Allowed)
	s.Equal(20, user.Limit)
	s.Equal(19, user.Remaining)
}

func (s *ServiceSuite) TestDelimiterInUserIDCannotHitAnotherKey() {
	s.Equal(models.Key("api:user_admin:10.0.0.1"), models.NewKey(models.BucketAPI, "user:admin", "10.0.0.1"))
	s.Equal(models.Key("api:10.0.0.1"), models.NewKey(models.BucketAPI, "", "10.0.0.1"))
	s.Equal(models.Key("api:__1"), models.NewKey(models.BucketAPI, "", "::1"))
}

func (s *ServiceSuite) TestCheckAndIncrementRejectsInvalidQuota() {
	_, err := s.service.CheckAndIncrement(s.ctx, "api:x", 0, time.Minute)
	s.ErrorIs(err, sentinel.ErrMisconfigured)
}

func (s *ServiceSuite) TestConcurrentChecksNeverOverAdmit() {
	const goroutines = 150
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.service.Check(s.ctx, models.BucketAPI, "", "203.0.113.50")
			s.NoError(err)
			if res != nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(100, allowed)
}

// =============================================================================
// Store failures, fail modes and the circuit breaker
// =============================================================================

type DegradedSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	primary  *mocks.MockCounterStore
	clock    *fakeClock
	emitter  *recordingEmitter
	fallback *counter.MemoryStore
	service  *Service
}

func TestDegradedSuite(t *testing.T) {
	suite.Run(t, new(DegradedSuite))
}

func (s *DegradedSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.primary = mocks.NewMockCounterStore(s.ctrl)
	s.clock = &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.emitter = &recordingEmitter{}
	s.fallback = counter.NewMemoryStore(counter.WithClock(s.clock.Now))

	svc, err := New(s.primary, securityconfig.New(securityconfig.StaticSource(&config.Config{}), nil),
		WithClock(s.clock.Now),
		WithFallbackStore(s.fallback),
		WithEmitter(s.emitter),
		WithBreaker(circuit.New("counter-store")),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *DegradedSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *DegradedSuite) TestFailClosedDeniesWithBoundedRetry() {
	s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, errStoreDown)

	res, err := s.service.Check(s.ctx, models.BucketLogin, "", "10.1.1.1")

	s.Require().NoError(err)
	s.False(res.Allowed)
	s.True(res.Degraded)
	s.Equal(models.FailClosed, res.FailMode)
	s.Equal(60, res.RetryAfterSeconds())
	s.Equal(1, s.emitter.count())
	s.Equal(audit.ActionRateLimitStoreDegraded, s.emitter.events[0].Action)
}

func (s *DegradedSuite) TestFailOpenAllowsAndMarksDegraded() {
	s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, errStoreDown)

	res, err := s.service.Check(s.ctx, models.BucketAPI, "u-1", "10.1.1.1")

	s.Require().NoError(err)
	s.True(res.Allowed)
	s.True(res.Degraded)
	s.Equal(models.FailOpen, res.FailMode)
	s.Equal(1000, res.Limit)
}

func (s *DegradedSuite) TestFailLocalCountsInProcess() {
	s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, errStoreDown).Times(3)

	var res *models.Result
	var err error
	for range 3 {
		res, err = s.service.Check(s.ctx, models.BucketUploads, "", "10.1.1.2")
		s.Require().NoError(err)
	}

	s.True(res.Allowed)
	s.True(res.Degraded)
	s.Equal(models.FailLocal, res.FailMode)
	s.Equal(3, res.Count)
	s.Equal(7, res.Remaining)
}

func (s *DegradedSuite) TestBreakerOpensAndStopsCallingStore() {
	s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, errStoreDown).Times(5)

	for range 20 {
		res, err := s.service.Check(s.ctx, models.BucketAPI, "", "10.1.1.3")
		s.Require().NoError(err)
		s.True(res.Degraded)
	}

	s.Equal(circuit.StateOpen, s.service.BreakerState())
	s.Equal(5, s.emitter.count(), "four failures plus the open transition, nothing per request while open")
	s.Equal(audit.SeverityCritical, s.emitter.events[4].Severity)
}

func (s *DegradedSuite) TestOpenBreakerProbesOncePerIntervalAndRecovers() {
	gomock.InOrder(
		s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, errStoreDown).Times(5),
		s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{Count: 1, TTL: time.Minute}, nil).Times(3),
	)
	for range 5 {
		_, err := s.service.Check(s.ctx, models.BucketAPI, "", "10.1.1.4")
		s.Require().NoError(err)
	}
	s.Require().Equal(circuit.StateOpen, s.service.BreakerState())

	for i := range 3 {
		s.clock.Advance(time.Second)
		res, err := s.service.Check(s.ctx, models.BucketAPI, "", "10.1.1.4")
		s.Require().NoError(err)
		s.False(res.Degraded)

		if i < 2 {
			// Inside the interval the store is not called again.
			res, err = s.service.Check(s.ctx, models.BucketAPI, "", "10.1.1.4")
			s.Require().NoError(err)
			s.True(res.Degraded)
		}
	}

	s.Equal(circuit.StateClosed, s.service.BreakerState())
}

func (s *DegradedSuite) TestCancelledContextIsNotAStoreFailure() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.primary.EXPECT().Increment(gomock.Any(), gomock.Any(), gomock.Any()).Return(models.Counter{}, context.Canceled)

	_, err := s.service.Check(ctx, models.BucketAPI, "", "10.1.1.5")

	s.ErrorIs(err, context.Canceled)
	s.Equal(circuit.StateClosed, s.service.BreakerState())
	s.Equal(0, s.emitter.count())
}

func (s *DegradedSuite) TestSnapshotFailureFallsBackToBuiltInQuotas() {
	snapshots := mocks.NewMockSnapshotSource(s.ctrl)
	snapshots.EXPECT().Get(gomock.Any()).Return(nil, errors.New("config unreadable"))
	s.primary.EXPECT().Increment(gomock.Any(), models.Key("login:10.1.1.6"), 15*time.Minute).Return(models.Counter{Count: 1, TTL: 15 * time.Minute}, nil)

	svc, err := New(s.primary, snapshots, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	res, err := svc.Check(s.ctx, models.BucketLogin, "", "10.1.1.6")
	s.Require().NoError(err)
	s.Equal(5, res.Limit)
	s.Equal(4, res.Remaining)
}
