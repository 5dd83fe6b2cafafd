package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vassist/internal/domain"
)

func TestMintAndValidate(t *testing.T) {
	creds := NewAppCredentials("host-app", "s3cret")
	token, err := creds.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}

	v := NewValidator("s3cret", nil)
	id, err := v.Authenticate("Bearer " + token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.AppID != "host-app" || id.AuthType != "Bearer" {
		t.Errorf("identity = %+v", id)
	}
}

func TestToken_Cached(t *testing.T) {
	creds := NewAppCredentials("host-app", "s3cret")
	first, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	second, err := creds.Token(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected cached token to be reused")
	}
}

func TestAuthenticate_WrongSecret(t *testing.T) {
	creds := NewAppCredentials("host-app", "s3cret")
	token, _ := creds.Token(context.Background())

	v := NewValidator("different", nil)
	if _, err := v.Authenticate("Bearer " + token); err == nil {
		t.Error("expected signature validation failure")
	}
}

func TestAuthenticate_Whitelist(t *testing.T) {
	creds := NewAppCredentials("host-app", "s3cret")
	token, _ := creds.Token(context.Background())

	allowed := NewValidator("s3cret", []string{"host-app", "other-app"})
	if _, err := allowed.Authenticate("Bearer " + token); err != nil {
		t.Errorf("whitelisted caller rejected: %v", err)
	}

	denied := NewValidator("s3cret", []string{"other-app"})
	_, err := denied.Authenticate("Bearer " + token)
	if !errors.Is(err, ErrCallerNotListed) {
		t.Errorf("err = %v, want ErrCallerNotListed", err)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	v := NewValidator("s3cret", nil)
	for _, header := range []string{"", "Basic abc", "bearer lowercase"} {
		if _, err := v.Authenticate(header); !errors.Is(err, ErrTokenMissing) {
			t.Errorf("Authenticate(%q) err = %v, want ErrTokenMissing", header, err)
		}
	}
}

func TestAuthenticate_RejectsExpired(t *testing.T) {
	now := time.Now().Add(-time.Hour)
	claims := jwt.RegisteredClaims{
		Issuer:    "host-app",
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}

	v := NewValidator("s3cret", nil)
	if _, err := v.Authenticate("Bearer " + token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestAuthenticate_RejectsMissingIssuer(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{audience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
	if err != nil {
		t.Fatal(err)
	}

	v := NewValidator("s3cret", nil)
	if _, err := v.Authenticate("Bearer " + token); err == nil {
		t.Error("expected token without issuer to be rejected")
	}
}

func TestAnonymousValidator(t *testing.T) {
	v := NewAnonymousValidator()
	id, err := v.Authenticate("")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.AuthType != domain.AuthTypeAnonymous || id.AppID != "" {
		t.Errorf("identity = %+v", id)
	}
}
