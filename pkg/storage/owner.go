package storage

import "context"

type ownerKey struct{}

// SetOwner scopes storage operations in ctx to the given user.
func SetOwner(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, userID)
}

// GetOwner returns the user set by SetOwner. An empty string means the
// operation is unscoped, as for the code agent persisting a run result.
func GetOwner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
