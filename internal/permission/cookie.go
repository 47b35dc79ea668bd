// Session-cookie lookup policy, adapted from control-plane's
// middleware.RequireAuth: a cookie names an opaque session token, the
// token resolves to a user id in an in-memory store, and permissions
// follow from that user's assigned roles.
package permission

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// SessionCookieName is the cookie carrying the opaque session token,
// mirroring auth.SessionCookie.
const SessionCookieName = "x_shell_session"

// SessionStore maps opaque session tokens to user ids, the same shape as
// auth.SessionStore but held in memory only (no Non-goal exclusion against
// it, since it never touches disk).
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]string // token -> user id
}

// NewSessionStore builds an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]string)}
}

// Put records that token resolves to userID.
func (s *SessionStore) Put(token, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = userID
}

// Get resolves token to a user id.
func (s *SessionStore) Get(token string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.sessions[token]
	return userID, ok
}

// Delete invalidates token.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// CookieAuthenticator authenticates a connection by resolving its session
// cookie through a SessionStore, then looking up permissions in a
// RoleTable.
type CookieAuthenticator struct {
	store *SessionStore
	roles *RoleTable
}

// NewCookieAuthenticator pairs a session store with a role table.
func NewCookieAuthenticator(store *SessionStore, roles *RoleTable) *CookieAuthenticator {
	return &CookieAuthenticator{store: store, roles: roles}
}

// AuthenticateConnection parses meta.CookieHeader for the session cookie
// and resolves it to a user.
func (ca *CookieAuthenticator) AuthenticateConnection(_ context.Context, meta ConnectionMetadata) (*User, error) {
	token := cookieValue(meta.CookieHeader, SessionCookieName)
	if token == "" {
		return nil, fmt.Errorf("permission: no session cookie presented")
	}
	userID, ok := ca.store.Get(token)
	if !ok {
		return nil, fmt.Errorf("permission: unknown or expired session")
	}
	return &User{
		UserID:      userID,
		Permissions: ca.roles.PermissionsFor(userID),
	}, nil
}

// CheckPermission delegates to the paired role table.
func (ca *CookieAuthenticator) CheckPermission(ctx context.Context, user *User, op Operation, resource Resource) Decision {
	return ca.roles.CheckPermission(ctx, user, op, resource)
}

// OnDisconnect invalidates the session token so a closed connection can't
// be replayed against a later reconnect without re-authenticating.
// Requires the caller to have stashed the token in the user's metadata
// under "session_token" at authentication time.
func (ca *CookieAuthenticator) OnDisconnect(user *User) {
	if user == nil || user.Metadata == nil {
		return
	}
	if token, ok := user.Metadata["session_token"].(string); ok {
		ca.store.Delete(token)
	}
}

// cookieValue extracts the named cookie's value from a raw Cookie header
// using the standard library's own cookie parser, avoiding a hand-rolled
// reimplementation of RFC 6265 splitting rules.
func cookieValue(header, name string) string {
	if header == "" {
		return ""
	}
	req := &http.Request{Header: http.Header{"Cookie": []string{header}}}
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

var (
	_ Gate                 = (*CookieAuthenticator)(nil)
	_ ConnectAuthenticator = (*CookieAuthenticator)(nil)
	_ DisconnectHook       = (*CookieAuthenticator)(nil)
)
