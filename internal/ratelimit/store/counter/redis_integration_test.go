//go:build integration

package counter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"medgate/internal/ratelimit/models"
	"medgate/internal/ratelimit/store/counter"
	"medgate/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *counter.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = counter.NewRedisStore(s.redis.Client, "rltest")
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestIncrementStartsWindowOnFirstHit() {
	ctx := context.Background()

	first, err := s.store.Increment(ctx, "login:10.0.0.1", time.Minute)
	s.Require().NoError(err)
	second, err := s.store.Increment(ctx, "login:10.0.0.1", time.Minute)
	s.Require().NoError(err)

	s.Equal(1, first.Count)
	s.Equal(2, second.Count)
	s.LessOrEqual(second.TTL, time.Minute)
	s.Greater(second.TTL, 50*time.Second)

	ttl, err := s.redis.Client.PTTL(ctx, "rltest:login:10.0.0.1").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisStoreSuite) TestWindowExpires() {
	ctx := context.Background()
	key := models.Key("api:10.0.0.2")

	for range 3 {
		_, err := s.store.Increment(ctx, key, 200*time.Millisecond)
		s.Require().NoError(err)
	}
	time.Sleep(300 * time.Millisecond)

	c, err := s.store.Increment(ctx, key, 200*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(1, c.Count)
}

func (s *RedisStoreSuite) TestRepairsKeyWithoutExpiry() {
	ctx := context.Background()
	s.Require().NoError(s.redis.Client.Set(ctx, "rltest:api:stuck", 7, 0).Err())

	c, err := s.store.Increment(ctx, "api:stuck", time.Minute)
	s.Require().NoError(err)
	s.Equal(8, c.Count)
	s.Equal(time.Minute, c.TTL)

	ttl, err := s.redis.Client.PTTL(ctx, "rltest:api:stuck").Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))
}

func (s *RedisStoreSuite) TestConcurrentIncrementsAreAtomic() {
	ctx := context.Background()
	const goroutines = 40

	var wg sync.WaitGroup
	seen := make(chan int, goroutines)
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.store.Increment(ctx, "api:race", time.Minute)
			s.NoError(err)
			seen <- c.Count
		}()
	}
	wg.Wait()
	close(seen)

	counts := make(map[int]bool, goroutines)
	for n := range seen {
		s.False(counts[n], "count %d returned twice", n)
		counts[n] = true
	}
	s.Len(counts, goroutines)
}
