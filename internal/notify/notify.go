// Package notify fans access lifecycle events out to subscribed reviewer
// dashboards. Delivery is best-effort: a slow subscriber drops events rather
// than blocking the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"adgate.org/internal/access"
)

// Kind classifies an event.
type Kind string

const (
	RequestCreated  Kind = "request.created"
	RequestApproved Kind = "request.approved"
	RequestRejected Kind = "request.rejected"
	RequestCanceled Kind = "request.canceled"
	GrantCreated    Kind = "grant.created"
	GrantRevoked    Kind = "grant.revoked"
	GrantsExpired   Kind = "grants.expired"
)

// Event describes one access state transition for the reviewer feed.
type Event struct {
	Kind      Kind          `json:"kind"`
	UserID    access.UserID `json:"user_id,omitempty"`
	Target    access.Target `json:"target,omitzero"`
	RequestID string        `json:"request_id,omitempty"`
	GrantID   string        `json:"grant_id,omitempty"`
	Actor     access.UserID `json:"actor,omitempty"`
	Count     int           `json:"count,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// PublishCascade reports the effects of a promotion cascade to the feed: one
// grant.revoked and one request.canceled event carrying the affected counts.
// The promoted user is both subject and actor.
func (s *Stream) PublishCascade(userID access.UserID, grantsRevoked, requestsCanceled int) {
	if grantsRevoked > 0 {
		s.Publish(Event{Kind: GrantRevoked, UserID: userID, Actor: userID, Count: grantsRevoked})
	}
	if requestsCanceled > 0 {
		s.Publish(Event{Kind: RequestCanceled, UserID: userID, Actor: userID, Count: requestsCanceled})
	}
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
