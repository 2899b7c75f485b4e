package auth

import (
	"context"
	"maps"
)

// Identity is an authenticated user session.
type Identity struct {
	UserID    string
	SessionID string
	Role      Role
	Claims    map[string]any
}

// Can reports whether the identity's role allows op.
func (i Identity) Can(op Operation) bool {
	return i.Role.Allows(op)
}

// Clone returns a copy with its own claims map.
func (i Identity) Clone() Identity {
	i.Claims = maps.Clone(i.Claims)
	return i
}

// TokenValidator turns a raw bearer token into an Identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

type contextKey int

const identityKey contextKey = iota

// ContextWithIdentity attaches identity to ctx.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the identity set by [HTTPMiddleware].
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}
