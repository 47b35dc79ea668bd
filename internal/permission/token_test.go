package permission

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret []byte, subject string, perms []string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Permissions: perms,
		Username:    subject,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func TestTokenValidatorAuthenticateCredentials(t *testing.T) {
	secret := []byte("test-secret")
	tv := NewTokenValidator(secret)
	token := signTestToken(t, secret, "alice", []string{"join_session"}, false)

	user, err := tv.AuthenticateCredentials(context.Background(), token, nil)
	if err != nil {
		t.Fatalf("AuthenticateCredentials: %v", err)
	}
	if user.UserID != "alice" {
		t.Fatalf("expected subject alice, got %q", user.UserID)
	}
	if !user.HasPermission("join_session") {
		t.Fatalf("expected join_session permission from claims")
	}
}

func TestTokenValidatorRejectsWrongSecret(t *testing.T) {
	tv := NewTokenValidator([]byte("real-secret"))
	token := signTestToken(t, []byte("wrong-secret"), "alice", nil, false)

	if _, err := tv.AuthenticateCredentials(context.Background(), token, nil); err == nil {
		t.Fatalf("expected an error for a token signed with the wrong secret")
	}
}

func TestTokenValidatorRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	tv := NewTokenValidator(secret)
	token := signTestToken(t, secret, "alice", nil, true)

	if _, err := tv.AuthenticateCredentials(context.Background(), token, nil); err == nil {
		t.Fatalf("expected an error for an expired token")
	}
}

func TestTokenValidatorAuthenticateConnectionFromHeader(t *testing.T) {
	secret := []byte("test-secret")
	tv := NewTokenValidator(secret)
	token := signTestToken(t, secret, "alice", []string{"admin"}, false)

	user, err := tv.AuthenticateConnection(context.Background(), ConnectionMetadata{
		AuthorizationHeader: "Bearer " + token,
	})
	if err != nil {
		t.Fatalf("AuthenticateConnection: %v", err)
	}
	if user.UserID != "alice" {
		t.Fatalf("expected subject alice, got %q", user.UserID)
	}
}

func TestTokenValidatorAuthenticateConnectionNoToken(t *testing.T) {
	tv := NewTokenValidator([]byte("secret"))
	if _, err := tv.AuthenticateConnection(context.Background(), ConnectionMetadata{}); err == nil {
		t.Fatalf("expected an error when no token is presented")
	}
}

func TestTokenValidatorCheckPermission(t *testing.T) {
	tv := NewTokenValidator([]byte("secret"))
	user := &User{Permissions: []string{"spawn_session"}}
	if d := tv.CheckPermission(context.Background(), user, OpSpawnSession, Resource{}); !d.Allow {
		t.Fatalf("expected spawn_session to be allowed, got %+v", d)
	}
	if d := tv.CheckPermission(context.Background(), user, OpCloseSession, Resource{}); d.Allow {
		t.Fatalf("did not expect close_session to be allowed")
	}
}
