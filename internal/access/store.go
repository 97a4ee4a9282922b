package access

import (
	"context"
	"time"
)

// PendingFilter narrows ListPending. Zero values mean "no constraint".
type PendingFilter struct {
	UserID     UserID
	TargetType string
}

// RequestStore is durable storage for access requests. The terminal-state
// invariant is enforced here: a resolved request can never be re-resolved.
type RequestStore interface {
	// Create persists a new pending request. Returns ErrDuplicatePending
	// when the same (user, target) triple already has a pending row.
	Create(ctx context.Context, userID UserID, target Target, reason string) (AccessRequest, error)

	Get(ctx context.Context, id string) (AccessRequest, error)

	// Resolve performs the single transition out of pending. Returns
	// ErrNotFound for unknown ids and ErrAlreadyResolved when the request
	// is no longer pending. The check and the update are one atomic step.
	Resolve(ctx context.Context, id string, status RequestStatus, resolvedBy UserID, notes string) (AccessRequest, error)

	// ListPending returns pending requests in FIFO review order.
	ListPending(ctx context.Context, filter PendingFilter) ([]AccessRequest, error)

	// CancelAllPendingForUser transitions every pending request owned by the
	// user to canceled. All rows transition or none do.
	CancelAllPendingForUser(ctx context.Context, userID, canceledBy UserID, note string) (int, error)
}

// GrantStore is durable storage for access grants plus the activity
// predicate. IsActive is the sole authorization primitive; callers never
// inspect grant fields to decide access.
type GrantStore interface {
	Create(ctx context.Context, userID UserID, target Target, grantedBy UserID, expiresAt *time.Time, notes string) (AccessGrant, error)

	Get(ctx context.Context, id string) (AccessGrant, error)

	// Revoke stamps revoked_at/revoked_by. Returns ErrAlreadyRevoked when the
	// grant was previously revoked; revoking an expired-but-unrevoked grant
	// succeeds, since expiry and revocation are distinct facts.
	Revoke(ctx context.Context, id string, revokedBy UserID, note string) (AccessGrant, error)

	// IsActive reports whether any grant for the triple satisfies the
	// activity invariant at asOf. Expiry is evaluated here, on read, so the
	// answer never depends on the sweep having run.
	IsActive(ctx context.Context, userID UserID, target Target, asOf time.Time) (bool, error)

	ListActiveForUser(ctx context.Context, userID UserID) ([]AccessGrant, error)

	// RevokeAllActiveForUser revokes every active grant owned by the user in
	// one step; used by the role-change cascade.
	RevokeAllActiveForUser(ctx context.Context, userID, revokedBy UserID, note string) (int, error)

	// ExpireDue stamps an expiry marker on grants whose expires_at has passed
	// and which carry neither marker nor revocation yet, and returns how many
	// rows it touched. Purely an audit aid: IsActive is correct without it.
	ExpireDue(ctx context.Context, asOf time.Time) (int, error)
}

// Store bundles both stores and supplies transactional scope for the
// operations that must commit together (approve, the role-change cascade).
type Store interface {
	Requests() RequestStore
	Grants() GrantStore

	// WithinTx runs fn against a transaction-scoped view of the store.
	// fn returning an error rolls everything back.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
