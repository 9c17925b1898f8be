package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func userToken(t *testing.T, sub, email string) string {
	t.Helper()
	return signToken(t, testSecret, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"aud":   "api://board",
		"iss":   "https://issuer/",
		"exp":   time.Now().Add(5 * time.Minute).Unix(),
		"nbf":   time.Now().Add(-time.Minute).Unix(),
		"iat":   time.Now().Add(-time.Minute).Unix(),
	})
}

func newTestAuth() *Auth {
	return NewAuth(nil, AuthConfig{Audience: "api://board", Issuer: "https://issuer/", TestSecret: testSecret})
}

func TestBearerTokenFromString(t *testing.T) {
	token, err := bearerTokenFromString("  Bearer header.payload.signature ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", string(token))
	}
	if _, err := bearerTokenFromString(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Basic abc.def.ghi"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Bearer " + strings.Repeat(".", 1000)); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestIdentifyHS256(t *testing.T) {
	auth := newTestAuth()
	id, err := auth.Identify("Bearer " + userToken(t, "user-123", "ada@example.com"))
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if id.UserID != "user-123" || id.Email != "ada@example.com" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestIdentifyRejects(t *testing.T) {
	auth := newTestAuth()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "user-1",
			"aud": "api://board",
			"iss": "https://issuer/",
			"exp": time.Now().Add(5 * time.Minute).Unix(),
		}
	}
	expired := base()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := base()
	wrongAud["aud"] = "api://other"
	noSub := base()
	delete(noSub, "sub")

	cases := map[string]string{
		"wrong secret":   signToken(t, []byte("other"), base()),
		"expired":        signToken(t, testSecret, expired),
		"wrong audience": signToken(t, testSecret, wrongAud),
		"missing sub":    signToken(t, testSecret, noSub),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := auth.Identify("Bearer " + token); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestSharedTokenMatches(t *testing.T) {
	if !sharedTokenMatches("Bearer s3cret", "s3cret") {
		t.Fatalf("expected match")
	}
	if sharedTokenMatches("Bearer s3cret", "") {
		t.Fatalf("empty configured token must never match")
	}
	if sharedTokenMatches("s3cret", "s3cret") {
		t.Fatalf("missing scheme must not match")
	}
}
