// Package permission implements the Permission Gate (C4): a single
// check(user, operation, resource) -> allow|deny(reason) call consulted
// for every inbound operation except auth itself. The gate is pluggable;
// concrete policies are composed the way control-plane's auth stack layers
// RequireAuth/RequireAdmin, generalized from "one global admin cookie" to
// a capability interface any number of implementations can satisfy.
package permission

import "context"

// Operation is the closed set of gated client operations, drawn from the
// wire message taxonomy, plus an administrative operation that is
// strictly stronger than any other.
type Operation string

const (
	OpSpawnSession    Operation = "spawn_session"
	OpWriteSession    Operation = "write_session"
	OpResizeSession   Operation = "resize_session"
	OpCloseSession    Operation = "close_session"
	OpJoinSession     Operation = "join_session"
	OpLeaveSession    Operation = "leave_session"
	OpListSessions    Operation = "list_sessions"
	OpListContainers  Operation = "list_containers"
	OpExportRecording Operation = "export_recording"
	OpAdmin           Operation = "admin"
)

// User is the identity and capability set attached to a connection once
// authenticated (or, for anonymous connections, the policy's configured
// default set).
type User struct {
	UserID      string
	Username    string
	Permissions []string
	Metadata    map[string]interface{}
}

// HasPermission reports whether u carries perm, or carries OpAdmin, which
// is strictly stronger than any other permission.
func (u *User) HasPermission(perm string) bool {
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == perm || p == string(OpAdmin) {
			return true
		}
	}
	return false
}

// Decision is the result of a Check call.
type Decision struct {
	Allow  bool
	Reason string
}

// Allow is a convenience constructor for a successful decision.
func Allow() Decision { return Decision{Allow: true} }

// Deny is a convenience constructor for a rejected decision.
func Deny(reason string) Decision { return Decision{Allow: false, Reason: reason} }

// Resource carries optional context about the target of an operation
// (e.g. which session, which container) that a policy may want to inspect.
type Resource struct {
	SessionID string
	Container string
}

// Gate is the capability interface every policy implementation satisfies.
// Only CheckPermission is mandatory; the rest are optional capabilities a
// policy may or may not support.
type Gate interface {
	// CheckPermission evaluates op for user against resource.
	CheckPermission(ctx context.Context, user *User, op Operation, resource Resource) Decision
}

// ConnectAuthenticator is implemented by policies that can authenticate a
// connection from transport-level metadata (headers, query params,
// cookies) before any message is read.
type ConnectAuthenticator interface {
	AuthenticateConnection(ctx context.Context, meta ConnectionMetadata) (*User, error)
}

// CredentialAuthenticator is implemented by policies that can authenticate
// an explicit "auth" frame.
type CredentialAuthenticator interface {
	AuthenticateCredentials(ctx context.Context, token string, data map[string]interface{}) (*User, error)
}

// AnonymousDefaulter is implemented by policies that hand out a default
// permission set to unauthenticated connections when allow_anonymous is
// configured.
type AnonymousDefaulter interface {
	AnonymousUser() *User
}

// DisconnectHook is implemented by policies that want to observe
// connection teardown (e.g. to invalidate a cookie-session).
type DisconnectHook interface {
	OnDisconnect(user *User)
}

// ConnectionMetadata is the transport-level information available before
// any frame has been read: header values, a parsed query token, and raw
// cookie header text. Concrete transports populate what they can.
type ConnectionMetadata struct {
	AuthorizationHeader string
	QueryToken          string
	CookieHeader        string
}
