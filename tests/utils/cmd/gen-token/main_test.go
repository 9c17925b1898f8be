package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v4"
)

func TestGenerateTokensNumbersUsers(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "s3cret")
	t.Setenv("AUTH0_AUDIENCE", "")

	tokens, err := generateTokens(3, "load-user", 5, "example.com", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for i, want := range []string{"load-user-5", "load-user-6", "load-user-7"} {
		claims := jwt.MapClaims{}
		if _, err := jwt.ParseWithClaims(tokens[i], claims, func(*jwt.Token) (any, error) { return []byte("s3cret"), nil }); err != nil {
			t.Fatalf("parse token %d: %v", i, err)
		}
		if claims["sub"] != want || claims["email"] != want+"@example.com" {
			t.Fatalf("token %d: unexpected claims %v", i, claims)
		}
	}
}

func TestWriteTokensCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "tokens.json")
	if err := writeTokens(path, []string{"a", "b"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got []string
	if err := sonic.Unmarshal(data, &got); err != nil || len(got) != 2 {
		t.Fatalf("unexpected file contents %q: %v", data, err)
	}
}
