package e2e

import (
	"github.com/cucumber/godog"

	"medgate/e2e/steps/common"
	"medgate/e2e/steps/ratelimit"
	"medgate/e2e/steps/records"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic requests and response assertions
	common.RegisterSteps(ctx, tc)

	// Signed-in clinical record access
	records.RegisterSteps(ctx, tc)

	// Quota exhaustion
	ratelimit.RegisterSteps(ctx, tc)
}
