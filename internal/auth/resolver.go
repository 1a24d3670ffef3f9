package auth

import (
	"net/http"
	"strings"

	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
)

const bearerPrefix = "Bearer "

// Validator verifies a raw bearer token.
type Validator interface {
	Validate(tokenString string) (*Claims, error)
}

// Resolver reads the Authorization header. A request without one is
// anonymous; a malformed or unverifiable one is an error.
type Resolver struct {
	validator Validator
}

func NewResolver(v Validator) *Resolver {
	return &Resolver{validator: v}
}

func (r *Resolver) Resolve(req *http.Request) (*id.Principal, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || strings.TrimSpace(token) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header")
	}

	claims, err := r.validator.Validate(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}
	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid token subject")
	}
	return &id.Principal{
		UserID: userID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}
