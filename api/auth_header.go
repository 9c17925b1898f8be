package api

import (
	"crypto/subtle"
	"errors"
	"strings"
	"unsafe"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// authorizationFromRequest returns the Authorization header, falling back to
// the token query parameter browsers use for WebSocket handshakes.
func authorizationFromRequest(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if token := c.QueryParam("token"); token != "" {
		return bearerPrefix + token
	}
	return ""
}

func bearerTokenFromString(raw string) ([]byte, error) {
	trimmed := strings.Trim(raw, " ")
	if trimmed == "" {
		return nil, errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.HasPrefix(trimmed, bearerPrefix) {
		return nil, errBadAuthorization
	}
	tokenBytes := readOnlyBytes(trimmed[len(bearerPrefix):])
	if countByte(tokenBytes, '.') != 2 {
		return nil, errBadAuthorization
	}
	return tokenBytes, nil
}

// sharedTokenMatches compares a bearer header with a static service token in
// constant time.
func sharedTokenMatches(header, want string) bool {
	if want == "" || !strings.HasPrefix(header, bearerPrefix) {
		return false
	}
	got := header[len(bearerPrefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func countByte(buf []byte, target byte) int {
	count := 0
	for _, b := range buf {
		if b == target {
			count++
		}
	}
	return count
}

func readOnlyBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

func readOnlyString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
