package permission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRoleTablePermissionsForUnionsRoles(t *testing.T) {
	rt := NewRoleTable()
	rt.SetRolePermissions("operator", []string{"spawn_session", "write_session"})
	rt.SetRolePermissions("viewer", []string{"join_session", "write_session"})
	rt.SetUserRoles("bob", []string{"operator", "viewer"})

	perms := rt.PermissionsFor("bob")
	want := map[string]bool{"spawn_session": true, "write_session": true, "join_session": true}
	if len(perms) != len(want) {
		t.Fatalf("expected %d distinct permissions, got %v", len(want), perms)
	}
	for _, p := range perms {
		if !want[p] {
			t.Fatalf("unexpected permission %q", p)
		}
	}
}

func TestRoleTableCheckPermission(t *testing.T) {
	rt := NewRoleTable()
	rt.SetRolePermissions("viewer", []string{"join_session"})
	rt.SetUserRoles("alice", []string{"viewer"})

	user := &User{UserID: "alice"}
	if d := rt.CheckPermission(context.Background(), user, OpJoinSession, Resource{}); !d.Allow {
		t.Fatalf("expected join_session to be allowed, got %+v", d)
	}
	if d := rt.CheckPermission(context.Background(), user, OpSpawnSession, Resource{}); d.Allow {
		t.Fatalf("did not expect spawn_session to be allowed")
	}
}

func TestRoleTableCheckPermissionNilUser(t *testing.T) {
	rt := NewRoleTable()
	if d := rt.CheckPermission(context.Background(), nil, OpJoinSession, Resource{}); d.Allow {
		t.Fatalf("nil user should never be allowed")
	}
}

func TestRoleTableAdminRoleGrantsEverything(t *testing.T) {
	rt := NewRoleTable()
	rt.SetRolePermissions("admin", []string{"admin"})
	rt.SetUserRoles("root", []string{"admin"})

	user := &User{UserID: "root"}
	if d := rt.CheckPermission(context.Background(), user, OpListContainers, Resource{}); !d.Allow {
		t.Fatalf("expected admin role to grant list_containers, got %+v", d)
	}
}

func TestLoadRoleTableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.toml")
	contents := `
[roles]
admin = ["admin"]
viewer = ["join_session", "list_sessions"]

[users]
alice = ["admin"]
bob = ["viewer"]
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	rt, err := LoadRoleTableFile(path)
	if err != nil {
		t.Fatalf("LoadRoleTableFile: %v", err)
	}

	if d := rt.CheckPermission(context.Background(), &User{UserID: "bob"}, OpListSessions, Resource{}); !d.Allow {
		t.Fatalf("expected bob to have list_sessions, got %+v", d)
	}
	if d := rt.CheckPermission(context.Background(), &User{UserID: "alice"}, OpSpawnSession, Resource{}); !d.Allow {
		t.Fatalf("expected alice's admin role to grant spawn_session, got %+v", d)
	}
}

func TestLoadRoleTableFileMissing(t *testing.T) {
	if _, err := LoadRoleTableFile(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
