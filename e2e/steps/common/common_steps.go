package common

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastHeader(name string) string
	Expand(path string) string
}

// RegisterSteps registers request and response assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the gateway is running$`, steps.gatewayIsRunning)
	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^I GET "([^"]*)" accepting "([^"]*)"$`, steps.getAccepting)
	ctx.Step(`^I (POST|PUT|PATCH) "([^"]*)" with body:$`, steps.sendWithBody)
	ctx.Step(`^I DELETE "([^"]*)"$`, steps.delete)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, steps.headerShouldBe)
	ctx.Step(`^the response header "([^"]*)" should be present$`, steps.headerShouldBePresent)
	ctx.Step(`^the error code should be "([^"]*)"$`, steps.errorCodeShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBe)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) gatewayIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/health/ping", nil); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != http.StatusOK {
		return fmt.Errorf("gateway not reachable: ping returned %d", s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(s.tc.Expand(path), nil)
}

func (s *commonSteps) getAccepting(ctx context.Context, path, accept string) error {
	return s.tc.GET(s.tc.Expand(path), map[string]string{"Accept": accept})
}

func (s *commonSteps) sendWithBody(ctx context.Context, method, path string, body *godog.DocString) error {
	return s.tc.Do(method, s.tc.Expand(path), body.Content, nil)
}

func (s *commonSteps) delete(ctx context.Context, path string) error {
	return s.tc.Do(http.MethodDelete, s.tc.Expand(path), nil, nil)
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d", expected, got)
	}
	return nil
}

func (s *commonSteps) headerShouldBe(ctx context.Context, name, expected string) error {
	if got := s.tc.GetLastHeader(name); got != expected {
		return fmt.Errorf("expected header %s=%q, got %q", name, expected, got)
	}
	return nil
}

func (s *commonSteps) headerShouldBePresent(ctx context.Context, name string) error {
	if s.tc.GetLastHeader(name) == "" {
		return fmt.Errorf("expected header %s to be set", name)
	}
	return nil
}

func (s *commonSteps) errorCodeShouldBe(ctx context.Context, expected string) error {
	return s.fieldShouldBe(ctx, "error.code", expected)
}

func (s *commonSteps) fieldShouldBe(ctx context.Context, field, expected string) error {
	got, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(got) != expected {
		return fmt.Errorf("expected %s=%q, got %v", field, expected, got)
	}
	return nil
}
