package roles

import (
	"context"
	"sync"

	"adgate.org/internal/access"
)

// InMemory implements Store for tests and dev mode.
type InMemory struct {
	mu    sync.RWMutex
	roles map[access.UserID]access.Role
}

// NewInMemory creates an empty role store.
func NewInMemory() *InMemory {
	return &InMemory{roles: make(map[access.UserID]access.Role)}
}

func (s *InMemory) Role(ctx context.Context, userID access.UserID) (access.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.roles[userID]
	if !ok {
		return "", access.ErrNotFound
	}
	return role, nil
}

func (s *InMemory) SetRole(ctx context.Context, userID access.UserID, role access.Role) (access.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.roles[userID]
	if !ok {
		return "", access.ErrNotFound
	}
	s.roles[userID] = role
	return old, nil
}

func (s *InMemory) EnsureUser(ctx context.Context, userID access.UserID, role access.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[userID]; !ok {
		s.roles[userID] = role
	}
	return nil
}

var _ Store = (*InMemory)(nil)
