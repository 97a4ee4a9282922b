package roles

import (
	"context"
	"errors"
	"testing"

	"adgate.org/internal/access"
)

type recordedChange struct {
	userID  access.UserID
	oldRole access.Role
	newRole access.Role
}

type recordingListener struct {
	changes []recordedChange
	err     error
}

func (l *recordingListener) OnRoleChanged(ctx context.Context, userID access.UserID, oldRole, newRole access.Role) error {
	l.changes = append(l.changes, recordedChange{userID, oldRole, newRole})
	return l.err
}

func TestChangeRoleNotifiesListeners(t *testing.T) {
	store := NewInMemory()
	reg, err := NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	listener := &recordingListener{}
	reg.Subscribe(listener)
	ctx := context.Background()

	if err := reg.EnsureUser(ctx, 7, access.RolePartner); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := reg.ChangeRole(ctx, 7, access.RoleAdmin); err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}

	if len(listener.changes) != 1 {
		t.Fatalf("changes = %d, want 1", len(listener.changes))
	}
	got := listener.changes[0]
	if got.userID != 7 || got.oldRole != access.RolePartner || got.newRole != access.RoleAdmin {
		t.Fatalf("unexpected change: %+v", got)
	}

	role, err := reg.Role(ctx, 7)
	if err != nil {
		t.Fatalf("Role: %v", err)
	}
	if role != access.RoleAdmin {
		t.Fatalf("role = %q, want admin", role)
	}
}

func TestChangeRoleNoopSkipsListeners(t *testing.T) {
	store := NewInMemory()
	reg, _ := NewRegistry(store)
	listener := &recordingListener{}
	reg.Subscribe(listener)
	ctx := context.Background()

	_ = reg.EnsureUser(ctx, 7, access.RolePartner)
	if err := reg.ChangeRole(ctx, 7, access.RolePartner); err != nil {
		t.Fatalf("ChangeRole: %v", err)
	}
	if len(listener.changes) != 0 {
		t.Fatalf("no-op change notified %d listeners", len(listener.changes))
	}
}

func TestChangeRoleUnknownUser(t *testing.T) {
	store := NewInMemory()
	reg, _ := NewRegistry(store)

	err := reg.ChangeRole(context.Background(), 404, access.RoleAdmin)
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestChangeRoleListenerErrorPropagates(t *testing.T) {
	store := NewInMemory()
	reg, _ := NewRegistry(store)
	boom := errors.New("cascade failed")
	reg.Subscribe(&recordingListener{err: boom})
	ctx := context.Background()

	_ = reg.EnsureUser(ctx, 7, access.RolePartner)
	err := reg.ChangeRole(ctx, 7, access.RoleAdmin)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want listener error", err)
	}
}

func TestEnsureUserKeepsExistingRole(t *testing.T) {
	store := NewInMemory()
	reg, _ := NewRegistry(store)
	ctx := context.Background()

	_ = reg.EnsureUser(ctx, 7, access.RoleOperator)
	_ = reg.EnsureUser(ctx, 7, access.RolePartner)

	role, _ := reg.Role(ctx, 7)
	if role != access.RoleOperator {
		t.Fatalf("role = %q, want operator preserved", role)
	}
}
