// ABOUTME: Identity context for tracking the caller through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating the user ID via context

package auth

import (
	"context"
)

// How an identity was established.
const (
	MethodJWT     = "jwt"
	MethodHeader  = "header"
	MethodDefault = "default"
)

// Identity is the caller a request acts for. Sessions are scoped to UserID.
type Identity struct {
	UserID string
	Method string
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// UserID returns the caller's user ID, or "" if the request is unauthenticated.
func UserID(ctx context.Context) string {
	if id := FromContext(ctx); id != nil {
		return id.UserID
	}
	return ""
}
