package access

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"adgate.org/internal/audit"
	"adgate.org/internal/obs"
)

// DefaultGrantTTL is applied when a reviewer approves without an explicit
// expiry.
const DefaultGrantTTL = 30 * 24 * time.Hour

// CascadeNote is stamped on grants and requests swept away by a promotion.
const CascadeNote = "automatic revocation on promotion to admin"

// RoleSource answers the current role of a user. Implemented by
// roles.Registry; a small interface keeps the engine testable without it.
type RoleSource interface {
	Role(ctx context.Context, userID UserID) (Role, error)
}

// Engine orchestrates the request/approval workflow, grant lifecycle and the
// role-change cascade. All multi-row operations run in one store transaction
// so a request can never end up approved without its grant.
type Engine struct {
	store     Store
	roles     RoleSource
	now       func() time.Time
	onCascade CascadeFunc
}

// CascadeFunc observes the effects of a promotion cascade after it commits.
type CascadeFunc func(ctx context.Context, userID UserID, grantsRevoked, requestsCanceled int)

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithCascadeObserver registers a callback invoked after a promotion cascade
// commits, with the number of grants revoked and requests canceled.
func WithCascadeObserver(fn CascadeFunc) EngineOption {
	return func(e *Engine) {
		e.onCascade = fn
	}
}

// NewEngine constructs an Engine over the given store and role source.
func NewEngine(store Store, roles RoleSource, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if roles == nil {
		return nil, fmt.Errorf("%w: role source is required", ErrInvalidInput)
	}
	e := &Engine{store: store, roles: roles, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RequestAccess files a new pending request on behalf of a partner. Admins
// and operators are granted directly and must not queue requests.
func (e *Engine) RequestAccess(ctx context.Context, userID UserID, target Target, reason string) (AccessRequest, error) {
	if err := target.Validate(); err != nil {
		return AccessRequest{}, err
	}
	role, err := e.roles.Role(ctx, userID)
	if err != nil {
		return AccessRequest{}, err
	}
	if role != RolePartner {
		return AccessRequest{}, fmt.Errorf("%w: %s may not request access", ErrRoleConflict, role)
	}
	req, err := e.store.Requests().Create(ctx, userID, target, reason)
	if err != nil {
		return AccessRequest{}, err
	}
	obs.IncRequestCreated()
	_ = audit.LogEvent(ctx, "access.request.create", map[string]any{
		"request_id": req.ID,
		"user_id":    strconv.FormatInt(int64(userID), 10),
		"target":     target.String(),
	})
	return req, nil
}

// GrantExpiry carries a reviewer's expiry choice on approval. The zero value
// applies the default TTL; Never produces an indefinite grant. Setting both
// fields is rejected as invalid input.
type GrantExpiry struct {
	At    *time.Time
	Never bool
}

func (x GrantExpiry) resolve(now time.Time) *time.Time {
	switch {
	case x.Never:
		return nil
	case x.At != nil:
		return x.At
	default:
		def := now.Add(DefaultGrantTTL)
		return &def
	}
}

// Approve resolves the request and materializes its grant in a single
// transaction. An unset expiry defaults to now + 30 days; an explicit
// GrantExpiry.Never yields a grant with no expiry.
// Concurrent approvals of the same request race on the conditional resolve:
// exactly one wins and creates the grant, the rest get ErrAlreadyResolved.
func (e *Engine) Approve(ctx context.Context, requestID string, reviewerID UserID, expiry GrantExpiry, notes string) (AccessRequest, AccessGrant, error) {
	if expiry.Never && expiry.At != nil {
		return AccessRequest{}, AccessGrant{}, fmt.Errorf("%w: expiry cannot be both set and never", ErrInvalidInput)
	}
	if err := e.requireReviewer(ctx, reviewerID); err != nil {
		return AccessRequest{}, AccessGrant{}, err
	}
	expiresAt := expiry.resolve(e.now())

	var (
		req   AccessRequest
		grant AccessGrant
	)
	err := e.store.WithinTx(ctx, func(tx Store) error {
		var err error
		req, err = tx.Requests().Resolve(ctx, requestID, StatusApproved, reviewerID, notes)
		if err != nil {
			return err
		}
		provenance := "approved request " + req.ID
		if notes != "" {
			provenance += ": " + notes
		}
		grant, err = tx.Grants().Create(ctx, req.UserID, req.Target, reviewerID, expiresAt, provenance)
		return err
	})
	if err != nil {
		return AccessRequest{}, AccessGrant{}, err
	}
	obs.IncRequestResolved(string(StatusApproved))
	obs.IncGrantCreated()
	_ = audit.LogEvent(ctx, "access.request.approve", map[string]any{
		"request_id": req.ID,
		"grant_id":   grant.ID,
		"user_id":    strconv.FormatInt(int64(req.UserID), 10),
		"reviewer":   strconv.FormatInt(int64(reviewerID), 10),
		"target":     req.Target.String(),
	})
	return req, grant, nil
}

// Reject resolves the request as rejected. No grant is created.
func (e *Engine) Reject(ctx context.Context, requestID string, reviewerID UserID, notes string) (AccessRequest, error) {
	if err := e.requireReviewer(ctx, reviewerID); err != nil {
		return AccessRequest{}, err
	}
	req, err := e.store.Requests().Resolve(ctx, requestID, StatusRejected, reviewerID, notes)
	if err != nil {
		return AccessRequest{}, err
	}
	obs.IncRequestResolved(string(StatusRejected))
	_ = audit.LogEvent(ctx, "access.request.reject", map[string]any{
		"request_id": req.ID,
		"user_id":    strconv.FormatInt(int64(req.UserID), 10),
		"reviewer":   strconv.FormatInt(int64(reviewerID), 10),
	})
	return req, nil
}

// Grant creates an administrative grant with no backing request. A nil
// expiresAt means the grant never expires.
func (e *Engine) Grant(ctx context.Context, userID UserID, target Target, grantedBy UserID, expiresAt *time.Time, notes string) (AccessGrant, error) {
	if err := target.Validate(); err != nil {
		return AccessGrant{}, err
	}
	if err := e.requireReviewer(ctx, grantedBy); err != nil {
		return AccessGrant{}, err
	}
	grant, err := e.store.Grants().Create(ctx, userID, target, grantedBy, expiresAt, notes)
	if err != nil {
		return AccessGrant{}, err
	}
	obs.IncGrantCreated()
	_ = audit.LogEvent(ctx, "access.grant.create", map[string]any{
		"grant_id": grant.ID,
		"user_id":  strconv.FormatInt(int64(userID), 10),
		"reviewer": strconv.FormatInt(int64(grantedBy), 10),
		"target":   target.String(),
	})
	return grant, nil
}

// Revoke explicitly revokes a single grant.
func (e *Engine) Revoke(ctx context.Context, grantID string, revokedBy UserID, note string) (AccessGrant, error) {
	if err := e.requireReviewer(ctx, revokedBy); err != nil {
		return AccessGrant{}, err
	}
	grant, err := e.store.Grants().Revoke(ctx, grantID, revokedBy, note)
	if err != nil {
		return AccessGrant{}, err
	}
	obs.IncGrantRevoked("manual")
	_ = audit.LogEvent(ctx, "access.grant.revoke", map[string]any{
		"grant_id": grant.ID,
		"user_id":  strconv.FormatInt(int64(grant.UserID), 10),
		"reviewer": strconv.FormatInt(int64(revokedBy), 10),
	})
	return grant, nil
}

// OnRoleChanged reacts to a role mutation reported by the role registry.
// Promotion to admin cascades: every active grant is revoked and every
// pending request canceled, in one transaction, with the user recorded as
// the revoking actor. Demotions and lateral changes are deliberately inert.
func (e *Engine) OnRoleChanged(ctx context.Context, userID UserID, oldRole, newRole Role) error {
	if newRole != RoleAdmin || oldRole == RoleAdmin {
		return nil
	}
	var revoked, canceled int
	err := e.store.WithinTx(ctx, func(tx Store) error {
		var err error
		revoked, err = tx.Grants().RevokeAllActiveForUser(ctx, userID, userID, CascadeNote)
		if err != nil {
			return err
		}
		canceled, err = tx.Requests().CancelAllPendingForUser(ctx, userID, userID, CascadeNote)
		return err
	})
	if err != nil {
		return err
	}
	for i := 0; i < revoked; i++ {
		obs.IncGrantRevoked("cascade")
	}
	for i := 0; i < canceled; i++ {
		obs.IncRequestResolved(string(StatusCanceled))
	}
	_ = audit.LogEvent(ctx, "access.cascade.promote_admin", map[string]any{
		"user_id":           strconv.FormatInt(int64(userID), 10),
		"grants_revoked":    revoked,
		"requests_canceled": canceled,
	})
	if e.onCascade != nil {
		e.onCascade(ctx, userID, revoked, canceled)
	}
	return nil
}

// SweepExpired stamps expiry markers on overdue grants. Idempotent and safe
// to run concurrently with itself; authorization correctness never depends
// on it, since IsActive evaluates expiry on read.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	start := e.now()
	n, err := e.store.Grants().ExpireDue(ctx, start)
	if err != nil {
		return 0, err
	}
	obs.ObserveSweep(time.Since(start), n)
	if n > 0 {
		_ = audit.LogEvent(ctx, "access.grant.expire_sweep", map[string]any{
			"expired": n,
		})
	}
	return n, nil
}

func (e *Engine) requireReviewer(ctx context.Context, userID UserID) error {
	role, err := e.roles.Role(ctx, userID)
	if err != nil {
		return err
	}
	if !role.Reviewer() {
		return fmt.Errorf("%w: %s may not review access", ErrRoleConflict, role)
	}
	return nil
}
