package notify

import (
	"context"
	"testing"
	"time"

	"adgate.org/internal/access"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := s.Subscribe(ctx)
	second := s.Subscribe(ctx)

	evt := Event{
		Kind:      RequestCreated,
		UserID:    access.UserID(3),
		Target:    access.Target{Type: "campaign", ID: "c1"},
		RequestID: "req-1",
	}
	s.Publish(evt)

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case got := <-ch:
			if got.Kind != RequestCreated || got.RequestID != "req-1" {
				t.Fatalf("%s subscriber got %+v", name, got)
			}
			if got.Timestamp.IsZero() {
				t.Fatalf("%s subscriber: timestamp not stamped", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber received nothing", name)
		}
	}
}

func TestCancelClosesSubscription(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after the subscriber left must not panic.
	s.Publish(Event{Kind: GrantsExpired, Count: 1})
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s.Publish(Event{Kind: GrantCreated, GrantID: "g"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestPublishCascadeEmitsPerEffectEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)

	s.PublishCascade(access.UserID(7), 2, 1)

	got := make(map[Kind]Event)
	for len(ch) > 0 {
		evt := <-ch
		got[evt.Kind] = evt
	}
	revoked, ok := got[GrantRevoked]
	if !ok {
		t.Fatal("missing grant.revoked event")
	}
	if revoked.UserID != 7 || revoked.Actor != 7 || revoked.Count != 2 {
		t.Fatalf("grant.revoked = %+v", revoked)
	}
	canceled, ok := got[RequestCanceled]
	if !ok {
		t.Fatal("missing request.canceled event")
	}
	if canceled.Count != 1 {
		t.Fatalf("request.canceled = %+v", canceled)
	}

	// Zero counts publish nothing.
	s.PublishCascade(access.UserID(7), 0, 0)
	if len(ch) != 0 {
		t.Fatalf("zero-effect cascade published %d events", len(ch))
	}
}
