// Role-mapped permission table: user -> roles -> permissions, optionally
// loaded from a TOML file via github.com/pelletier/go-toml/v2, grounded on
// lnilluv-openai-accounts-cli's use of the same library for its own
// settings file.
package permission

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// RoleTableDocument is the on-disk shape of a role-mapped policy file:
//
//	[roles]
//	admin = ["admin"]
//	operator = ["spawn_session", "write_session", "resize_session", "join_session", "leave_session", "list_sessions", "list_containers"]
//	viewer = ["join_session", "list_sessions"]
//
//	[users]
//	alice = ["admin"]
//	bob = ["operator", "viewer"]
type RoleTableDocument struct {
	Roles map[string][]string `toml:"roles"`
	Users map[string][]string `toml:"users"`
}

// RoleTable grants permissions to a user id based on the union of the
// permissions of every role assigned to that user.
type RoleTable struct {
	mu    sync.RWMutex
	roles map[string][]string // role -> permissions
	users map[string][]string // user id -> roles
}

// NewRoleTable builds an empty table; use Load or the setter methods to
// populate it.
func NewRoleTable() *RoleTable {
	return &RoleTable{
		roles: make(map[string][]string),
		users: make(map[string][]string),
	}
}

// LoadRoleTableFile reads and parses a TOML role table document from path.
func LoadRoleTableFile(path string) (*RoleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("permission: read role table %s: %w", path, err)
	}
	var doc RoleTableDocument
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("permission: parse role table %s: %w", path, err)
	}
	rt := NewRoleTable()
	rt.roles = doc.Roles
	rt.users = doc.Users
	return rt, nil
}

// SetUserRoles assigns roles to a user id, replacing any previous assignment.
func (rt *RoleTable) SetUserRoles(userID string, roles []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.users[userID] = roles
}

// SetRolePermissions defines (or redefines) the permission set for a role.
func (rt *RoleTable) SetRolePermissions(role string, permissions []string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.roles[role] = permissions
}

// PermissionsFor returns the union of permissions granted to userID through
// all of its assigned roles.
func (rt *RoleTable) PermissionsFor(userID string) []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, role := range rt.users[userID] {
		for _, perm := range rt.roles[role] {
			if !seen[perm] {
				seen[perm] = true
				out = append(out, perm)
			}
		}
	}
	return out
}

// CheckPermission implements Gate by looking up the requesting user's
// permission set and testing it against op.
func (rt *RoleTable) CheckPermission(_ context.Context, user *User, op Operation, _ Resource) Decision {
	if user == nil {
		return Deny("no user context")
	}
	perms := rt.PermissionsFor(user.UserID)
	for _, p := range perms {
		if p == string(op) || p == string(OpAdmin) {
			return Allow()
		}
	}
	return Deny(fmt.Sprintf("missing permission %q", op))
}

var _ Gate = (*RoleTable)(nil)
