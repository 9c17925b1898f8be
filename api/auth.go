package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/puneet2715/taskmanager-sub000/gateway"
)

const DefaultJWKSCacheTTL = 15 * time.Minute

// AuthConfig selects how tokens are verified. A non-empty TestSecret
// switches to HS256 verification, used for local runs and tests.
type AuthConfig struct {
	Audience    string
	Issuer      string
	TestSecret  []byte
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance. jwks may be nil in test mode.
func NewAuth(jwks *keyfunc.JWKS, cfg AuthConfig) *Auth {
	a := &Auth{
		JWKS:        jwks,
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer,
		keyCacheTTL: cfg.KeyCacheTTL,
	}
	if a.keyCacheTTL == 0 {
		a.keyCacheTTL = DefaultJWKSCacheTTL
	}
	if len(cfg.TestSecret) > 0 {
		a.TestMode = true
		a.TestSecret = cfg.TestSecret
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	}
	return a
}

// Identify extracts the caller from an Authorization header value.
func (a *Auth) Identify(header string) (gateway.Identity, error) {
	if header == "" {
		return gateway.Identity{}, errMissingAuthorization
	}
	token, err := bearerTokenFromString(header)
	if err != nil {
		return gateway.Identity{}, err
	}
	return a.IdentityFromBearer(token)
}

// IdentityFromBearer verifies a raw bearer token and returns its subject and
// email claims.
func (a *Auth) IdentityFromBearer(token []byte) (gateway.Identity, error) {
	if len(token) == 0 {
		return gateway.Identity{}, errBadAuthorization
	}

	tokenStr := readOnlyString(token)
	var parsedToken *jwt.Token
	var err error
	if a.TestMode {
		parsedToken, err = a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
	} else {
		parsedToken, err = a.parser.Parse(tokenStr, a.keyForToken)
	}
	if err != nil {
		return gateway.Identity{}, err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return gateway.Identity{}, errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return gateway.Identity{}, errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return gateway.Identity{}, errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return gateway.Identity{}, errors.New("token used before issued")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return gateway.Identity{}, errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return gateway.Identity{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return gateway.Identity{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	return gateway.Identity{UserID: sub, Email: email}, nil
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
