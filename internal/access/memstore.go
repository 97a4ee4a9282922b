package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"adgate.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and by the API's dev mode when no DSN is configured.
type InMemory struct {
	mu  sync.Mutex
	st  *memState
	now func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{st: newMemState(), now: time.Now}
}

// Requests implements Store.
func (s *InMemory) Requests() RequestStore { return memRequests{s} }

// Grants implements Store.
func (s *InMemory) Grants() GrantStore { return memGrants{s} }

// WithinTx runs fn against a copy of the state and commits it only when fn
// succeeds, which gives the same all-or-nothing behavior as a database
// transaction.
func (s *InMemory) WithinTx(ctx context.Context, fn func(Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&memTx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// memTx is the transaction-scoped view handed to WithinTx callbacks. The
// outer mutex is already held, so it operates on the working copy directly.
type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) Requests() RequestStore { return txRequests{t} }
func (t *memTx) Grants() GrantStore     { return txGrants{t} }
func (t *memTx) WithinTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

type memState struct {
	requests map[string]*AccessRequest
	reqOrder []string
	grants   map[string]*AccessGrant
}

func newMemState() *memState {
	return &memState{
		requests: make(map[string]*AccessRequest),
		grants:   make(map[string]*AccessGrant),
	}
}

func (st *memState) clone() *memState {
	out := newMemState()
	for id, r := range st.requests {
		cp := *r
		out.requests[id] = &cp
	}
	out.reqOrder = append(out.reqOrder, st.reqOrder...)
	for id, g := range st.grants {
		cp := *g
		out.grants[id] = &cp
	}
	return out
}

func (st *memState) createRequest(userID UserID, target Target, reason string, now time.Time) (AccessRequest, error) {
	if err := target.Validate(); err != nil {
		return AccessRequest{}, err
	}
	for _, id := range st.reqOrder {
		r := st.requests[id]
		if r.Pending() && r.UserID == userID && r.Target == target {
			return AccessRequest{}, ErrDuplicatePending
		}
	}
	req := &AccessRequest{
		ID:        ids.New(),
		UserID:    userID,
		Target:    target,
		CreatedAt: now.UTC(),
		Status:    StatusPending,
		Reason:    reason,
	}
	st.requests[req.ID] = req
	st.reqOrder = append(st.reqOrder, req.ID)
	return *req, nil
}

func (st *memState) resolveRequest(id string, status RequestStatus, by UserID, notes string, now time.Time) (AccessRequest, error) {
	if !status.Terminal() {
		return AccessRequest{}, ErrInvalidInput
	}
	req, ok := st.requests[id]
	if !ok {
		return AccessRequest{}, ErrNotFound
	}
	if !req.Pending() {
		return AccessRequest{}, ErrAlreadyResolved
	}
	ts := now.UTC()
	req.Status = status
	req.ResolvedAt = &ts
	req.ResolvedBy = &by
	req.ResolutionNotes = notes
	return *req, nil
}

func (st *memState) listPending(filter PendingFilter) []AccessRequest {
	var out []AccessRequest
	for _, id := range st.reqOrder {
		r := st.requests[id]
		if !r.Pending() {
			continue
		}
		if filter.UserID != 0 && r.UserID != filter.UserID {
			continue
		}
		if filter.TargetType != "" && r.Target.Type != filter.TargetType {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (st *memState) cancelAllPending(userID, by UserID, note string, now time.Time) int {
	n := 0
	ts := now.UTC()
	for _, r := range st.requests {
		if r.Pending() && r.UserID == userID {
			r.Status = StatusCanceled
			r.ResolvedAt = &ts
			r.ResolvedBy = &by
			r.ResolutionNotes = note
			n++
		}
	}
	return n
}

func (st *memState) createGrant(userID UserID, target Target, grantedBy UserID, expiresAt *time.Time, notes string, now time.Time) (AccessGrant, error) {
	if err := target.Validate(); err != nil {
		return AccessGrant{}, err
	}
	g := &AccessGrant{
		ID:        ids.New(),
		UserID:    userID,
		Target:    target,
		GrantedBy: grantedBy,
		GrantedAt: now.UTC(),
		Notes:     notes,
	}
	if expiresAt != nil {
		exp := expiresAt.UTC()
		g.ExpiresAt = &exp
	}
	st.grants[g.ID] = g
	return *g, nil
}

func (st *memState) revokeGrant(id string, by UserID, note string, now time.Time) (AccessGrant, error) {
	g, ok := st.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	if g.RevokedAt != nil {
		return AccessGrant{}, ErrAlreadyRevoked
	}
	ts := now.UTC()
	g.RevokedAt = &ts
	g.RevokedBy = &by
	if note != "" {
		if g.Notes != "" {
			g.Notes += "; "
		}
		g.Notes += note
	}
	return *g, nil
}

func (st *memState) isActive(userID UserID, target Target, asOf time.Time) bool {
	for _, g := range st.grants {
		if g.UserID == userID && g.Target == target && g.ActiveAt(asOf) {
			return true
		}
	}
	return false
}

func (st *memState) listActiveForUser(userID UserID, asOf time.Time) []AccessGrant {
	var out []AccessGrant
	for _, g := range st.grants {
		if g.UserID == userID && g.ActiveAt(asOf) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (st *memState) revokeAllActive(userID, by UserID, note string, now time.Time) int {
	n := 0
	ts := now.UTC()
	for _, g := range st.grants {
		if g.UserID == userID && g.ActiveAt(now) {
			g.RevokedAt = &ts
			g.RevokedBy = &by
			if note != "" {
				if g.Notes != "" {
					g.Notes += "; "
				}
				g.Notes += note
			}
			n++
		}
	}
	return n
}

func (st *memState) expireDue(asOf time.Time) int {
	n := 0
	for _, g := range st.grants {
		if g.RevokedAt != nil || g.ExpiredAt != nil {
			continue
		}
		if g.ExpiresAt != nil && !g.ExpiresAt.After(asOf) {
			exp := *g.ExpiresAt
			g.ExpiredAt = &exp
			n++
		}
	}
	return n
}

// --- locking adapters ---

type memRequests struct{ m *InMemory }

func (r memRequests) Create(ctx context.Context, userID UserID, target Target, reason string) (AccessRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.st.createRequest(userID, target, reason, r.m.now())
}

func (r memRequests) Get(ctx context.Context, id string) (AccessRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	req, ok := r.m.st.requests[id]
	if !ok {
		return AccessRequest{}, ErrNotFound
	}
	return *req, nil
}

func (r memRequests) Resolve(ctx context.Context, id string, status RequestStatus, by UserID, notes string) (AccessRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.st.resolveRequest(id, status, by, notes, r.m.now())
}

func (r memRequests) ListPending(ctx context.Context, filter PendingFilter) ([]AccessRequest, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.st.listPending(filter), nil
}

func (r memRequests) CancelAllPendingForUser(ctx context.Context, userID, by UserID, note string) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.m.st.cancelAllPending(userID, by, note, r.m.now()), nil
}

type memGrants struct{ m *InMemory }

func (g memGrants) Create(ctx context.Context, userID UserID, target Target, grantedBy UserID, expiresAt *time.Time, notes string) (AccessGrant, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.createGrant(userID, target, grantedBy, expiresAt, notes, g.m.now())
}

func (g memGrants) Get(ctx context.Context, id string) (AccessGrant, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	grant, ok := g.m.st.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	return *grant, nil
}

func (g memGrants) Revoke(ctx context.Context, id string, by UserID, note string) (AccessGrant, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.revokeGrant(id, by, note, g.m.now())
}

func (g memGrants) IsActive(ctx context.Context, userID UserID, target Target, asOf time.Time) (bool, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.isActive(userID, target, asOf), nil
}

func (g memGrants) ListActiveForUser(ctx context.Context, userID UserID) ([]AccessGrant, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.listActiveForUser(userID, g.m.now()), nil
}

func (g memGrants) RevokeAllActiveForUser(ctx context.Context, userID, by UserID, note string) (int, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.revokeAllActive(userID, by, note, g.m.now()), nil
}

func (g memGrants) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	g.m.mu.Lock()
	defer g.m.mu.Unlock()
	return g.m.st.expireDue(asOf), nil
}

// --- transaction-scoped adapters (mutex already held) ---

type txRequests struct{ t *memTx }

func (r txRequests) Create(ctx context.Context, userID UserID, target Target, reason string) (AccessRequest, error) {
	return r.t.st.createRequest(userID, target, reason, r.t.now())
}

func (r txRequests) Get(ctx context.Context, id string) (AccessRequest, error) {
	req, ok := r.t.st.requests[id]
	if !ok {
		return AccessRequest{}, ErrNotFound
	}
	return *req, nil
}

func (r txRequests) Resolve(ctx context.Context, id string, status RequestStatus, by UserID, notes string) (AccessRequest, error) {
	return r.t.st.resolveRequest(id, status, by, notes, r.t.now())
}

func (r txRequests) ListPending(ctx context.Context, filter PendingFilter) ([]AccessRequest, error) {
	return r.t.st.listPending(filter), nil
}

func (r txRequests) CancelAllPendingForUser(ctx context.Context, userID, by UserID, note string) (int, error) {
	return r.t.st.cancelAllPending(userID, by, note, r.t.now()), nil
}

type txGrants struct{ t *memTx }

func (g txGrants) Create(ctx context.Context, userID UserID, target Target, grantedBy UserID, expiresAt *time.Time, notes string) (AccessGrant, error) {
	return g.t.st.createGrant(userID, target, grantedBy, expiresAt, notes, g.t.now())
}

func (g txGrants) Get(ctx context.Context, id string) (AccessGrant, error) {
	grant, ok := g.t.st.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	return *grant, nil
}

func (g txGrants) Revoke(ctx context.Context, id string, by UserID, note string) (AccessGrant, error) {
	return g.t.st.revokeGrant(id, by, note, g.t.now())
}

func (g txGrants) IsActive(ctx context.Context, userID UserID, target Target, asOf time.Time) (bool, error) {
	return g.t.st.isActive(userID, target, asOf), nil
}

func (g txGrants) ListActiveForUser(ctx context.Context, userID UserID) ([]AccessGrant, error) {
	return g.t.st.listActiveForUser(userID, g.t.now()), nil
}

func (g txGrants) RevokeAllActiveForUser(ctx context.Context, userID, by UserID, note string) (int, error) {
	return g.t.st.revokeAllActive(userID, by, note, g.t.now()), nil
}

func (g txGrants) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	return g.t.st.expireDue(asOf), nil
}

var (
	_ Store = (*InMemory)(nil)
	_ Store = (*memTx)(nil)
)
