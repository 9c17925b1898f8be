// Package testutil signs tokens for servers running with a local shared
// secret instead of a JWKS endpoint.
package testutil

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Secret returns the shared secret test tokens are signed with.
func Secret() string {
	if s := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); s != "" {
		return s
	}
	return os.Getenv("TEST_JWT_SECRET")
}

// TestToken returns a signed HS256 JWT for userID. email is optional.
func TestToken(userID, email string) (string, error) {
	secret := Secret()
	if secret == "" {
		return "", errors.New("LOCAL_AUTH_SHARED_SECRET or TEST_JWT_SECRET must be set")
	}
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	if aud := os.Getenv("AUTH0_AUDIENCE"); aud != "" {
		claims["aud"] = aud
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
