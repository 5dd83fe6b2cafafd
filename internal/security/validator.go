package security

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"vassist/internal/domain"
)

var (
	ErrTokenMissing    = errors.New("bearer token missing")
	ErrCallerNotListed = errors.New("caller app id not in whitelist")
)

// Validator authenticates inbound skill-channel connections. A connection
// presents `Authorization: Bearer <token>` on connect; the derived identity
// is fixed for the connection's lifetime.
type Validator struct {
	secret    []byte
	whitelist map[string]bool // caller app ids allowed to invoke this skill
	anonymous bool            // skip validation entirely (local development)
}

// NewValidator builds a validator for the given shared secret and caller
// whitelist. An empty whitelist admits any caller with a valid signature.
func NewValidator(password string, allowedCallers []string) *Validator {
	wl := make(map[string]bool, len(allowedCallers))
	for _, id := range allowedCallers {
		wl[id] = true
	}
	return &Validator{secret: []byte(password), whitelist: wl}
}

// NewAnonymousValidator admits every connection with an anonymous identity.
func NewAnonymousValidator() *Validator {
	return &Validator{anonymous: true}
}

// Authenticate validates the Authorization header and derives the claims
// identity stamped onto every activity processed through the connection.
func (v *Validator) Authenticate(authHeader string) (*domain.ClaimsIdentity, error) {
	if v.anonymous {
		return &domain.ClaimsIdentity{AuthType: domain.AuthTypeAnonymous}, nil
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return nil, ErrTokenMissing
	}
	raw := strings.TrimPrefix(authHeader, prefix)

	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired(), jwt.WithAudience(audience))
	if err != nil {
		return nil, fmt.Errorf("validate bearer token: %w", err)
	}

	claims := token.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer == "" {
		return nil, fmt.Errorf("bearer token missing issuer app id")
	}
	if len(v.whitelist) > 0 && !v.whitelist[claims.Issuer] {
		return nil, fmt.Errorf("%w: %s", ErrCallerNotListed, claims.Issuer)
	}

	return &domain.ClaimsIdentity{AppID: claims.Issuer, AuthType: "Bearer"}, nil
}
