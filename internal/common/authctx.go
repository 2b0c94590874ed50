package common

import "context"

type userIDKey struct{}

// WithUserID attaches the authenticated guest id to the context after the
// access token has been verified.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID reads the authenticated guest id; ok is false on unauthenticated
// requests.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok
}
