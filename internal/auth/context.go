// Package auth provides authentication context helpers.
//
// It exists so that both the middleware and handler packages can read
// the signed-in provider user from a request context without importing
// each other.
package auth

import (
	"context"

	"github.com/visionplus/visionplus/internal/provider"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey contextKey = "user"

// GetUser retrieves the signed-in provider user from the context.
// Returns nil for unauthenticated requests.
func GetUser(ctx context.Context) *provider.User {
	user, ok := ctx.Value(userContextKey).(*provider.User)
	if !ok {
		return nil
	}
	return user
}

// SetUser stores a provider user in the context. Called by the session
// middleware after resolving the token cookies.
func SetUser(ctx context.Context, user *provider.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
