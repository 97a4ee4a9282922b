// Package roles holds each user's current role and fans role mutations out
// to interested subsystems. The single write path is Registry.ChangeRole, so
// "role change has consequences" is an ordinary, testable call chain rather
// than ambient global state.
package roles

import (
	"context"
	"fmt"
	"sync"

	"adgate.org/internal/access"
)

// Store persists user/role rows.
type Store interface {
	// Role returns the user's current role, or access.ErrNotFound.
	Role(ctx context.Context, userID access.UserID) (access.Role, error)
	// SetRole updates the role and returns the previous one. The user must
	// exist.
	SetRole(ctx context.Context, userID access.UserID, role access.Role) (access.Role, error)
	// EnsureUser creates the user with the given role when absent; existing
	// rows keep their role.
	EnsureUser(ctx context.Context, userID access.UserID, role access.Role) error
}

// Listener is notified synchronously after every role mutation.
type Listener interface {
	OnRoleChanged(ctx context.Context, userID access.UserID, oldRole, newRole access.Role) error
}

// Registry is the authoritative role source.
type Registry struct {
	store Store

	mu        sync.RWMutex
	listeners []Listener
}

// NewRegistry constructs a Registry over the given store.
func NewRegistry(store Store) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: role store is required", access.ErrInvalidInput)
	}
	return &Registry{store: store}, nil
}

// Subscribe registers a listener for role changes.
func (r *Registry) Subscribe(l Listener) {
	if l == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Role implements access.RoleSource.
func (r *Registry) Role(ctx context.Context, userID access.UserID) (access.Role, error) {
	return r.store.Role(ctx, userID)
}

// EnsureUser creates the user when absent.
func (r *Registry) EnsureUser(ctx context.Context, userID access.UserID, role access.Role) error {
	return r.store.EnsureUser(ctx, userID, role)
}

// ChangeRole mutates the user's role and notifies listeners before
// returning, so the caller observes cascade effects as completed. A no-op
// change (same role) notifies nobody.
func (r *Registry) ChangeRole(ctx context.Context, userID access.UserID, newRole access.Role) error {
	oldRole, err := r.store.SetRole(ctx, userID, newRole)
	if err != nil {
		return err
	}
	if oldRole == newRole {
		return nil
	}
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, l := range listeners {
		if err := l.OnRoleChanged(ctx, userID, oldRole, newRole); err != nil {
			return fmt.Errorf("role change listener: %w", err)
		}
	}
	return nil
}

var _ access.RoleSource = (*Registry)(nil)
