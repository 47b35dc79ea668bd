package permission

import "testing"

func TestUserHasPermission(t *testing.T) {
	u := &User{Permissions: []string{"write_session", "join_session"}}
	if !u.HasPermission("write_session") {
		t.Fatalf("expected write_session to be granted")
	}
	if u.HasPermission("spawn_session") {
		t.Fatalf("did not expect spawn_session to be granted")
	}
}

func TestUserHasPermissionAdminGrantsEverything(t *testing.T) {
	u := &User{Permissions: []string{"admin"}}
	if !u.HasPermission("spawn_session") {
		t.Fatalf("expected admin to grant spawn_session")
	}
}

func TestNilUserHasNoPermission(t *testing.T) {
	var u *User
	if u.HasPermission("admin") {
		t.Fatalf("nil user should never be granted anything")
	}
}

func TestDecisionConstructors(t *testing.T) {
	if !Allow().Allow {
		t.Fatalf("Allow() should report Allow=true")
	}
	d := Deny("nope")
	if d.Allow || d.Reason != "nope" {
		t.Fatalf("unexpected deny decision: %+v", d)
	}
}
