package sweeper

import (
	"context"
	"testing"
	"time"

	"adgate.org/internal/access"
	"adgate.org/internal/notify"
)

type staticRoles struct{}

func (staticRoles) Role(ctx context.Context, userID access.UserID) (access.Role, error) {
	return access.RoleAdmin, nil
}

func TestStartRunsImmediateSweep(t *testing.T) {
	store := access.NewInMemory()
	engine, err := access.NewEngine(store, staticRoles{})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	grant, err := engine.Grant(ctx, 3, access.Target{Type: "campaign", ID: "c1"}, 1, &past, "")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	stream := notify.New()
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := stream.Subscribe(subCtx)

	s := New(engine, stream, time.Hour)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	got, err := store.Grants().Get(ctx, grant.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExpiredAt == nil {
		t.Fatal("immediate sweep did not stamp expiry")
	}

	select {
	case evt := <-events:
		if evt.Kind != notify.GrantsExpired || evt.Count != 1 {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no expiry event published")
	}
}

func TestNewClampsInterval(t *testing.T) {
	s := New(nil, nil, 0)
	if s.interval != DefaultInterval {
		t.Fatalf("interval = %v, want default", s.interval)
	}
	s = New(nil, nil, -time.Minute)
	if s.interval != DefaultInterval {
		t.Fatalf("interval = %v, want default", s.interval)
	}
}
