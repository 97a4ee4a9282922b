package access

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role is a user's position in the system. Admins and operators see every
// advertising object; partners only see what they hold an active grant for.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RolePartner  Role = "partner"
)

// ParseRole normalises and validates a role string.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleOperator:
		return RoleOperator, nil
	case RolePartner:
		return RolePartner, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// Reviewer reports whether the role may approve, reject, grant or revoke.
func (r Role) Reviewer() bool { return r == RoleAdmin || r == RoleOperator }

// UserID is an opaque external identity (the messenger account id in the
// surrounding application).
type UserID int64

// Target addresses the advertising object being access-controlled. The pair
// is opaque to this engine; Type is a tag like "campaign", "account" or
// "adset" by convention.
type Target struct {
	Type string `json:"target_type"`
	ID   string `json:"target_id"`
}

func (t Target) String() string { return t.Type + ":" + t.ID }

// Validate rejects empty targets.
func (t Target) Validate() error {
	if strings.TrimSpace(t.Type) == "" || strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: target type and id are required", ErrInvalidInput)
	}
	return nil
}

// RequestStatus is the lifecycle state of an AccessRequest. Everything but
// pending is terminal.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusRejected RequestStatus = "rejected"
	StatusCanceled RequestStatus = "canceled"
)

// Terminal reports whether the status ends the request lifecycle.
func (s RequestStatus) Terminal() bool { return s != StatusPending }

// AccessRequest is a partner's durable ask for a grant. Rows are never
// deleted; a re-request after resolution is a new row.
type AccessRequest struct {
	ID              string        `json:"id"`
	UserID          UserID        `json:"user_id"`
	Target          Target        `json:"target"`
	CreatedAt       time.Time     `json:"created_at"`
	Status          RequestStatus `json:"status"`
	ResolvedAt      *time.Time    `json:"resolved_at,omitempty"`
	ResolvedBy      *UserID       `json:"resolved_by,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	ResolutionNotes string        `json:"resolution_notes,omitempty"`
}

// Pending reports whether the request still awaits review.
func (r AccessRequest) Pending() bool { return r.Status == StatusPending }

// AccessGrant authorizes a user to access a target until an optional expiry.
// Rows are never deleted; revocation and expiry only ever make a grant
// inactive, never active again.
type AccessGrant struct {
	ID        string     `json:"id"`
	UserID    UserID     `json:"user_id"`
	Target    Target     `json:"target"`
	GrantedBy UserID     `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// ExpiredAt is the sweep's audit stamp. Activity never depends on it:
	// expiry is derived from ExpiresAt at read time.
	ExpiredAt *time.Time `json:"expired_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	RevokedBy *UserID    `json:"revoked_by,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// ActiveAt evaluates the activity invariant at the given instant. Store
// implementations use it; everything else goes through GrantStore.IsActive.
func (g AccessGrant) ActiveAt(t time.Time) bool {
	if g.RevokedAt != nil {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(t)
}

var (
	ErrNotFound         = errors.New("access: not found")
	ErrAlreadyResolved  = errors.New("access: request already resolved")
	ErrAlreadyRevoked   = errors.New("access: grant already revoked")
	ErrDuplicatePending = errors.New("access: duplicate pending request")
	ErrRoleConflict     = errors.New("access: role does not permit operation")
	ErrInvalidInput     = errors.New("access: invalid input")
)
