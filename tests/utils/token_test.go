package testutil

import (
	"testing"

	"github.com/puneet2715/taskmanager-sub000/api"
)

func TestTokenAcceptedByLocalAuth(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "s3cret")
	t.Setenv("AUTH0_AUDIENCE", "api://board")

	tok, err := TestToken("alice", "alice@example.com")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	auth := api.NewAuth(nil, api.AuthConfig{Audience: "api://board", TestSecret: []byte("s3cret")})
	id, err := auth.Identify("Bearer " + tok)
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if id.UserID != "alice" || id.Email != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv("LOCAL_AUTH_SHARED_SECRET", "")
	t.Setenv("TEST_JWT_SECRET", "")
	if _, err := TestToken("alice", ""); err == nil {
		t.Fatalf("expected error without a secret")
	}
}
