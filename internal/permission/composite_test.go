package permission

import (
	"context"
	"testing"
)

func TestCompositeAuthenticateConnectionTriesInOrder(t *testing.T) {
	secret := []byte("secret")
	tv := NewTokenValidator(secret)
	store := NewSessionStore()
	store.Put("tok-1", "dana")
	roles := NewRoleTable()
	roles.SetRolePermissions("viewer", []string{"join_session"})
	roles.SetUserRoles("dana", []string{"viewer"})
	ca := NewCookieAuthenticator(store, roles)

	comp := NewComposite(tv, ca)

	user, err := comp.AuthenticateConnection(context.Background(), ConnectionMetadata{
		CookieHeader: SessionCookieName + "=tok-1",
	})
	if err != nil {
		t.Fatalf("AuthenticateConnection: %v", err)
	}
	if user.UserID != "dana" {
		t.Fatalf("expected fallback to cookie authenticator, got %q", user.UserID)
	}
}

func TestCompositeAuthenticateConnectionAllFail(t *testing.T) {
	comp := NewComposite(NewTokenValidator([]byte("s")), NewCookieAuthenticator(NewSessionStore(), NewRoleTable()))
	if _, err := comp.AuthenticateConnection(context.Background(), ConnectionMetadata{}); err == nil {
		t.Fatalf("expected an error when no policy can authenticate")
	}
}

func TestCompositeCheckPermissionAllowsOnFirstGrant(t *testing.T) {
	denyAll := denyingGate{}
	roles := NewRoleTable()
	roles.SetRolePermissions("viewer", []string{"join_session"})
	roles.SetUserRoles("erin", []string{"viewer"})

	comp := NewComposite(denyAll, roles)
	user := &User{UserID: "erin"}
	if d := comp.CheckPermission(context.Background(), user, OpJoinSession, Resource{}); !d.Allow {
		t.Fatalf("expected the second policy to grant join_session, got %+v", d)
	}
}

func TestCompositeCheckPermissionDeniesWhenNoneGrant(t *testing.T) {
	comp := NewComposite(denyingGate{}, denyingGate{})
	d := comp.CheckPermission(context.Background(), &User{UserID: "x"}, OpJoinSession, Resource{})
	if d.Allow {
		t.Fatalf("expected denial when no policy grants the operation")
	}
}

func TestCompositeOnDisconnectNotifiesAll(t *testing.T) {
	store := NewSessionStore()
	store.Put("tok-2", "frank")
	ca := NewCookieAuthenticator(store, NewRoleTable())
	comp := NewComposite(NoOp{}, ca)

	comp.OnDisconnect(&User{UserID: "frank", Metadata: map[string]interface{}{"session_token": "tok-2"}})

	if _, ok := store.Get("tok-2"); ok {
		t.Fatalf("expected disconnect hook to propagate through composite")
	}
}

type denyingGate struct{}

func (denyingGate) CheckPermission(_ context.Context, _ *User, op Operation, _ Resource) Decision {
	return Deny("always denies: " + string(op))
}
