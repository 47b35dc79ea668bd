// Signed-token validation policy: decode a bearer token against a shared
// secret, extract user id and permissions from its claims. Built on
// github.com/golang-jwt/jwt/v5, already present in control-plane's
// dependency graph (pulled in indirectly by its WebAuthn stack) and
// promoted here to a direct, exercised dependency.
package permission

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the expected shape of the JWT payload.
type tokenClaims struct {
	jwt.RegisteredClaims
	Permissions []string               `json:"permissions"`
	Username    string                 `json:"username,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TokenValidator authenticates bearer tokens signed with a shared HMAC
// secret, the "signed-token validation" policy.
type TokenValidator struct {
	secret []byte
}

// NewTokenValidator builds a validator for tokens signed with secret.
func NewTokenValidator(secret []byte) *TokenValidator {
	return &TokenValidator{secret: secret}
}

// AuthenticateConnection extracts a bearer token from meta (Authorization
// header or query token) and validates it.
func (tv *TokenValidator) AuthenticateConnection(ctx context.Context, meta ConnectionMetadata) (*User, error) {
	token := bearerFrom(meta.AuthorizationHeader)
	if token == "" {
		token = meta.QueryToken
	}
	if token == "" {
		return nil, fmt.Errorf("permission: no bearer token presented")
	}
	return tv.AuthenticateCredentials(ctx, token, nil)
}

// AuthenticateCredentials validates an explicit token presented via an
// "auth" frame.
func (tv *TokenValidator) AuthenticateCredentials(_ context.Context, token string, _ map[string]interface{}) (*User, error) {
	if token == "" {
		return nil, fmt.Errorf("permission: empty token")
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tv.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("permission: invalid token: %w", err)
	}

	return &User{
		UserID:      claims.Subject,
		Username:    claims.Username,
		Permissions: claims.Permissions,
		Metadata:    claims.Metadata,
	}, nil
}

// CheckPermission grants whatever the token's claims said the user has;
// the validator itself holds no separate policy table.
func (tv *TokenValidator) CheckPermission(_ context.Context, user *User, op Operation, _ Resource) Decision {
	if user.HasPermission(string(op)) {
		return Allow()
	}
	return Deny(fmt.Sprintf("token does not grant %q", op))
}

func bearerFrom(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

var (
	_ Gate                    = (*TokenValidator)(nil)
	_ ConnectAuthenticator    = (*TokenValidator)(nil)
	_ CredentialAuthenticator = (*TokenValidator)(nil)
)
