package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any, headers map[string]string) error
	GetLastResponseStatus() int
	GetLastHeader(name string) string
	Expand(path string) string
}

// RegisterSteps registers quota exhaustion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I send (\d+) (GET|DELETE) requests to "([^"]*)"$`, steps.sendN)
	ctx.Step(`^every one of them should have been allowed past the limiter$`, steps.allAllowed)
	ctx.Step(`^the remaining quota should be (\d+)$`, steps.remainingShouldBe)
	ctx.Step(`^the response should advertise a retry delay of at most (\d+) seconds$`, steps.retryAtMost)
}

type ratelimitSteps struct {
	tc       TestContext
	statuses []int
}

func (s *ratelimitSteps) sendN(ctx context.Context, n int, method, path string) error {
	s.statuses = s.statuses[:0]
	for i := 0; i < n; i++ {
		if err := s.tc.Do(method, s.tc.Expand(path), nil, nil); err != nil {
			return err
		}
		s.statuses = append(s.statuses, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) allAllowed(ctx context.Context) error {
	for i, status := range s.statuses {
		if status == http.StatusTooManyRequests {
			return fmt.Errorf("request %d was rate limited", i+1)
		}
	}
	return nil
}

func (s *ratelimitSteps) remainingShouldBe(ctx context.Context, expected int) error {
	got := s.tc.GetLastHeader("X-RateLimit-Remaining")
	if got != strconv.Itoa(expected) {
		return fmt.Errorf("expected X-RateLimit-Remaining %d, got %q", expected, got)
	}
	return nil
}

func (s *ratelimitSteps) retryAtMost(ctx context.Context, seconds int) error {
	raw := s.tc.GetLastHeader("Retry-After")
	retry, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("retry-after header %q is not a number", raw)
	}
	if retry < 1 || retry > seconds {
		return fmt.Errorf("retry-after %d outside 1..%d", retry, seconds)
	}
	return nil
}
