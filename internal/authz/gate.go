package authz

import (
	"context"
	"log/slog"

	"medgate/internal/gateway"
	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
)

// MatrixSource yields the current permission matrix.
type MatrixSource interface {
	Matrix(ctx context.Context) (*Matrix, error)
}

// Authorize checks principal against required. An empty required permission
// admits any authenticated caller.
func Authorize(m *Matrix, principal *id.Principal, required Permission) error {
	if principal == nil {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if required == "" {
		return nil
	}
	if m.Allows(principal.Roles, required) {
		return nil
	}
	return dErrors.New(dErrors.CodeForbidden, "insufficient permissions").
		WithDetail("missing_permission", string(required))
}

// Gate is the permission gateway stage.
type Gate struct {
	source MatrixSource
	logger *slog.Logger
}

func NewGate(source MatrixSource, logger *slog.Logger) *Gate {
	return &Gate{source: source, logger: logger}
}

func (g *Gate) Name() string { return "permission" }

func (g *Gate) Handle(rc *gateway.RequestContext) gateway.Outcome {
	if rc.Route.Public {
		return gateway.Continue()
	}
	ctx := rc.Context()
	m, err := g.source.Matrix(ctx)
	if err != nil {
		g.logger.ErrorContext(ctx, "permission matrix unavailable", "error", err, "request_id", rc.RequestID)
		return gateway.Reject(dErrors.Wrap(err, dErrors.CodeInternal, "authorization unavailable"))
	}
	if err := Authorize(m, rc.Principal, Permission(rc.Route.Permission)); err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			g.logger.InfoContext(ctx, "permission denied",
				"user_id", rc.Principal.UserID,
				"route", rc.Route.Name,
				"permission", rc.Route.Permission,
				"request_id", rc.RequestID,
			)
		}
		return gateway.Reject(err)
	}
	return gateway.Continue()
}
