// Package security mints and validates the bearer tokens exchanged between
// the host bot and skills. Tokens are HS256 JWTs carrying the calling app id;
// validation happens once per inbound connection, never per frame.
package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenLifetime     = 10 * time.Minute
	tokenRefreshSlack = 1 * time.Minute
	audience          = "vassist-skill"
)

// AppCredentials supplies bearer tokens for outbound bot-to-bot calls.
// Minted tokens are cached and refreshed shortly before expiry; callers may
// request a token on every forward without paying for a signature each time.
type AppCredentials struct {
	appID  string
	secret []byte

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppCredentials builds a credential provider for the given app identity.
func NewAppCredentials(appID, password string) *AppCredentials {
	return &AppCredentials{appID: appID, secret: []byte(password)}
}

// AppID returns the app identity the tokens assert.
func (c *AppCredentials) AppID() string { return c.appID }

// Token returns a cached bearer token, minting a fresh one when the cache
// is empty or close to expiry.
func (c *AppCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expires.Add(-tokenRefreshSlack)) {
		return c.token, nil
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.appID,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign app token: %w", err)
	}

	c.token = signed
	c.expires = now.Add(tokenLifetime)
	return signed, nil
}
