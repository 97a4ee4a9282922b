package auth

import "context"

type userContextKey struct{}

type userInfo struct {
	id   int64
	role string
}

// ContextWithUser attaches the authenticated identity to the context.
func ContextWithUser(ctx context.Context, userID int64, role string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userInfo{id: userID, role: role})
}

// UserIDFromContext extracts the authenticated user id if present.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	if ctx == nil {
		return 0, false
	}
	u, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok {
		return 0, false
	}
	return u.id, true
}

// RoleFromContext extracts the authenticated role if present.
func RoleFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	u, ok := ctx.Value(userContextKey{}).(userInfo)
	if !ok || u.role == "" {
		return "", false
	}
	return u.role, true
}
