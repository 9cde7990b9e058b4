// Package staffauth issues and validates HS256 bearer tokens for operators
// using the administrative API.
package staffauth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "patron/pkg/domain-errors"
	"patron/pkg/requestcontext"
)

// RoleStaff is required to assert staff_override on merges.
const RoleStaff = "staff"

// Claims is the token body.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Service signs and validates staff tokens.
type Service struct {
	signingKey []byte
	issuer     string
}

func New(signingKey, issuer string) *Service {
	return &Service{signingKey: []byte(signingKey), issuer: issuer}
}

// Issue signs a token for subject with the given roles.
func (s *Service) Issue(subject string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// Validate parses the token and returns the operator it names.
func (s *Service) Validate(tokenString string) (requestcontext.Staff, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return requestcontext.Staff{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return requestcontext.Staff{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return requestcontext.Staff{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return requestcontext.Staff{Subject: claims.Subject, Roles: claims.Roles}, nil
}
