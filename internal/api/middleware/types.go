// Package middleware holds the HTTP middleware chain: request IDs,
// API-key authentication, logging and metrics.
package middleware

import "context"

type contextKey string

const (
	// RequestIDContextKey carries the request ID.
	RequestIDContextKey contextKey = "request_id"

	// UserContextKey carries the authenticated principal.
	UserContextKey contextKey = "user"
)

// HTTP header names.
const (
	RequestIDHeader     = "X-Request-ID"
	AuthorizationHeader = "Authorization"
)

// User is the authenticated owner principal. Only the ID matters: it scopes
// document ownership and subscription routing.
type User struct {
	ID     string
	APIKey string
}

// UserFrom extracts the authenticated user from the request context.
func UserFrom(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(UserContextKey).(*User)
	return u, ok
}

// RequestIDFrom extracts the request ID, empty when absent.
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDContextKey).(string); ok {
		return id
	}
	return ""
}
