package records

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	SignIn(userID, role string) error
	SignOut()
	SetAccessToken(token string)
	GetResponseField(field string) (any, error)
	SaveID(name, value string)
}

// RegisterSteps registers sign-in and record bookkeeping steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &recordsSteps{tc: tc}

	ctx.Step(`^I am signed in as "([^"]*)" with role "([^"]*)"$`, steps.signedInAs)
	ctx.Step(`^I am not signed in$`, steps.notSignedIn)
	ctx.Step(`^I present the bearer token "([^"]*)"$`, steps.presentToken)
	ctx.Step(`^I save the response field "([^"]*)" as "([^"]*)"$`, steps.saveField)
}

type recordsSteps struct {
	tc TestContext
}

func (s *recordsSteps) signedInAs(ctx context.Context, userID, role string) error {
	return s.tc.SignIn(userID, role)
}

func (s *recordsSteps) notSignedIn(ctx context.Context) error {
	s.tc.SignOut()
	return nil
}

func (s *recordsSteps) presentToken(ctx context.Context, token string) error {
	s.tc.SetAccessToken(token)
	return nil
}

func (s *recordsSteps) saveField(ctx context.Context, field, name string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	s.tc.SaveID(name, fmt.Sprint(v))
	return nil
}
