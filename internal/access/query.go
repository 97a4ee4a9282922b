package access

import (
	"context"
	"errors"
	"time"
)

// Query is the single read path the presentation layer uses to decide what a
// user may see. Nothing outside this package infers access from request
// status or raw grant rows.
type Query struct {
	grants GrantStore
	roles  RoleSource
	now    func() time.Time
}

// NewQuery constructs the authorization read facade.
func NewQuery(grants GrantStore, roles RoleSource) *Query {
	return &Query{grants: grants, roles: roles, now: time.Now}
}

// CanAccess reports whether the user may act on the target. Admins and
// operators bypass grants entirely; partners need an active grant. Unknown
// users are denied.
func (q *Query) CanAccess(ctx context.Context, userID UserID, target Target) (bool, error) {
	if err := target.Validate(); err != nil {
		return false, err
	}
	role, err := q.roles.Role(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if role.Reviewer() {
		return true, nil
	}
	return q.grants.IsActive(ctx, userID, target, q.now())
}

// ListActiveForUser returns the user's active grants for display.
func (q *Query) ListActiveForUser(ctx context.Context, userID UserID) ([]AccessGrant, error) {
	return q.grants.ListActiveForUser(ctx, userID)
}
