package permission

import (
	"context"
	"fmt"
)

// Composite tries each of its sub-policies in order for every capability,
// succeeding on the first one that can answer. This is the generalized
// form of control-plane's layered RequireAuth/RequireAdmin: instead of one
// fixed chain, any number of Gate implementations can be stacked.
type Composite struct {
	policies []Gate
}

// NewComposite builds a composite trying policies in the given order.
func NewComposite(policies ...Gate) *Composite {
	return &Composite{policies: policies}
}

// AuthenticateConnection tries each policy that implements
// ConnectAuthenticator in order, returning the first successful result.
func (c *Composite) AuthenticateConnection(ctx context.Context, meta ConnectionMetadata) (*User, error) {
	var lastErr error
	for _, p := range c.policies {
		auth, ok := p.(ConnectAuthenticator)
		if !ok {
			continue
		}
		user, err := auth.AuthenticateConnection(ctx, meta)
		if err == nil {
			return user, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("permission: no policy could authenticate the connection")
	}
	return nil, lastErr
}

// AuthenticateCredentials tries each policy that implements
// CredentialAuthenticator in order.
func (c *Composite) AuthenticateCredentials(ctx context.Context, token string, data map[string]interface{}) (*User, error) {
	var lastErr error
	for _, p := range c.policies {
		auth, ok := p.(CredentialAuthenticator)
		if !ok {
			continue
		}
		user, err := auth.AuthenticateCredentials(ctx, token, data)
		if err == nil {
			return user, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("permission: no policy could authenticate the credentials")
	}
	return nil, lastErr
}

// AnonymousUser returns the first configured anonymous default, if any.
func (c *Composite) AnonymousUser() *User {
	for _, p := range c.policies {
		if d, ok := p.(AnonymousDefaulter); ok {
			if u := d.AnonymousUser(); u != nil {
				return u
			}
		}
	}
	return nil
}

// CheckPermission consults each policy in order, allowing as soon as one
// allows. A policy that denies does not veto a later policy's allow; the
// final decision is the last denial seen if none allow.
func (c *Composite) CheckPermission(ctx context.Context, user *User, op Operation, resource Resource) Decision {
	if len(c.policies) == 0 {
		return Deny("no policies configured")
	}
	decision := Deny("no policy granted this operation")
	for _, p := range c.policies {
		d := p.CheckPermission(ctx, user, op, resource)
		if d.Allow {
			return d
		}
		decision = d
	}
	return decision
}

// OnDisconnect notifies every policy implementing DisconnectHook.
func (c *Composite) OnDisconnect(user *User) {
	for _, p := range c.policies {
		if h, ok := p.(DisconnectHook); ok {
			h.OnDisconnect(user)
		}
	}
}

var (
	_ Gate                    = (*Composite)(nil)
	_ ConnectAuthenticator    = (*Composite)(nil)
	_ CredentialAuthenticator = (*Composite)(nil)
	_ AnonymousDefaulter      = (*Composite)(nil)
	_ DisconnectHook          = (*Composite)(nil)
)
