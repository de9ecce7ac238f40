package context

import (
	"context"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// IdentityKey is the context key for the authenticated identity
	IdentityKey ContextKey = "identity"
)

// Identity is the authenticated caller attached to a request by the auth middleware
type Identity struct {
	UserID int64
	Email  string
	Name   string
	Role   string
	Region string
}

// WithIdentity returns a copy of ctx carrying the identity
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// ExtractIdentity extracts the authenticated identity from the request context
func ExtractIdentity(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// ExtractUserID extracts the user ID from the request context
func ExtractUserID(ctx context.Context) (int64, bool) {
	identity, ok := ExtractIdentity(ctx)
	if !ok {
		return 0, false
	}
	return identity.UserID, true
}
