// Package auth verifies bearer tokens and turns them into principals for the
// gateway.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "medgate/pkg/domain"
	dErrors "medgate/pkg/domain-errors"
)

// Claims are the access-token claims. The subject carries the user id.
type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 access tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	now        func() time.Time
}

type TokenOption func(*TokenService)

func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

func NewTokenService(signingKey, issuer string, opts ...TokenOption) *TokenService {
	s := &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs an access token for principal valid for ttl.
func (s *TokenService) Issue(principal id.Principal, ttl time.Duration) (string, error) {
	if principal.UserID.IsNil() {
		return "", dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: principal.Email,
		Roles: principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate verifies signature, issuer and expiry.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	if claims.Subject == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "token has no subject")
	}
	return claims, nil
}
