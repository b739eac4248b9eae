// Package auth carries the authenticated caller through a request context.
package auth

import "context"

type contextKey struct{}

// Caller is the identity an API key resolved to.
type Caller struct {
	UserID string
	Email  string
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

func UserID(ctx context.Context) string {
	c, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return c.UserID
}

func Email(ctx context.Context) string {
	c, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return c.Email
}
