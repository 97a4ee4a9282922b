package access

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryListPendingFIFOAndFilters(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	r1, _ := store.Requests().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, "")
	r2, _ := store.Requests().Create(ctx, 11, Target{Type: "account", ID: "b"}, "")
	r3, _ := store.Requests().Create(ctx, 10, Target{Type: "campaign", ID: "c"}, "")

	all, err := store.Requests().ListPending(ctx, PendingFilter{})
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].ID != r1.ID || all[1].ID != r2.ID || all[2].ID != r3.ID {
		t.Fatal("pending queue is not FIFO")
	}

	byUser, _ := store.Requests().ListPending(ctx, PendingFilter{UserID: 10})
	if len(byUser) != 2 {
		t.Fatalf("user filter: len = %d, want 2", len(byUser))
	}
	byType, _ := store.Requests().ListPending(ctx, PendingFilter{TargetType: "account"})
	if len(byType) != 1 || byType[0].ID != r2.ID {
		t.Fatalf("target_type filter returned wrong rows")
	}

	if _, err := store.Requests().Resolve(ctx, r1.ID, StatusRejected, 1, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	rest, _ := store.Requests().ListPending(ctx, PendingFilter{})
	if len(rest) != 2 {
		t.Fatalf("resolved request still listed: len = %d", len(rest))
	}
}

func TestInMemoryResolveGuards(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	if _, err := store.Requests().Resolve(ctx, "missing", StatusApproved, 1, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	req, _ := store.Requests().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, "")
	if _, err := store.Requests().Resolve(ctx, req.ID, StatusPending, 1, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("resolving to pending: err = %v, want ErrInvalidInput", err)
	}
}

func TestInMemoryWithinTxRollsBackOnError(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	req, _ := store.Requests().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, "")

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.Requests().Resolve(ctx, req.ID, StatusApproved, 1, ""); err != nil {
			return err
		}
		if _, err := tx.Grants().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, 1, nil, ""); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	got, _ := store.Requests().Get(ctx, req.ID)
	if got.Status != StatusPending {
		t.Fatalf("status = %q, rollback failed", got.Status)
	}
	grants, _ := store.Grants().ListActiveForUser(ctx, 10)
	if len(grants) != 0 {
		t.Fatalf("grants = %d after rollback, want 0", len(grants))
	}
}

func TestInMemoryWithinTxCommits(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	req, _ := store.Requests().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, "")

	err := store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.Requests().Resolve(ctx, req.ID, StatusApproved, 1, ""); err != nil {
			return err
		}
		_, err := tx.Grants().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, 1, nil, "")
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}

	got, _ := store.Requests().Get(ctx, req.ID)
	if got.Status != StatusApproved {
		t.Fatalf("status = %q, want approved", got.Status)
	}
	grants, _ := store.Grants().ListActiveForUser(ctx, 10)
	if len(grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(grants))
	}
}

func TestInMemoryRevokeAppendsNote(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	grant, _ := store.Grants().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, 1, nil, "initial")
	revoked, err := store.Grants().Revoke(ctx, grant.ID, 2, "cleanup")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked.Notes != "initial; cleanup" {
		t.Fatalf("notes = %q", revoked.Notes)
	}
}

func TestInMemoryExpireDueSkipsRevoked(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	past := now.Add(-time.Hour)
	g1, _ := store.Grants().Create(ctx, 10, Target{Type: "campaign", ID: "a"}, 1, &past, "")
	g2, _ := store.Grants().Create(ctx, 10, Target{Type: "campaign", ID: "b"}, 1, &past, "")
	if _, err := store.Grants().Revoke(ctx, g2.ID, 1, ""); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	n, err := store.Grants().ExpireDue(ctx, now)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1 (revoked grant excluded)", n)
	}

	got, _ := store.Grants().Get(ctx, g1.ID)
	if got.ExpiredAt == nil {
		t.Fatal("expired_at not stamped")
	}
	rev, _ := store.Grants().Get(ctx, g2.ID)
	if rev.ExpiredAt != nil {
		t.Fatal("revoked grant must not receive the expiry stamp")
	}
}
