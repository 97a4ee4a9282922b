package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"adgate.org/internal/access"
	"adgate.org/internal/notify"
)

type createRequestBody struct {
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason"`
}

// resolveBody keeps expires_at raw: an absent key falls back to the default
// TTL, while an explicit null asks for an indefinite grant.
type resolveBody struct {
	ExpiresAt json.RawMessage `json:"expires_at,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

func parseExpiry(raw json.RawMessage) (access.GrantExpiry, error) {
	if len(raw) == 0 {
		return access.GrantExpiry{}, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return access.GrantExpiry{Never: true}, nil
	}
	var at time.Time
	if err := json.Unmarshal(raw, &at); err != nil {
		return access.GrantExpiry{}, errors.New("expires_at must be an RFC 3339 timestamp or null")
	}
	return access.GrantExpiry{At: &at}, nil
}

type createGrantBody struct {
	UserID     int64      `json:"user_id"`
	TargetType string     `json:"target_type"`
	TargetID   string     `json:"target_id"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

type revokeBody struct {
	Note string `json:"note,omitempty"`
}

type listRequestsResponse struct {
	Items []access.AccessRequest `json:"items"`
	AsOf  time.Time              `json:"as_of"`
}

type listGrantsResponse struct {
	Items []access.AccessGrant `json:"items"`
	AsOf  time.Time            `json:"as_of"`
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createRequest(w, r)
	case http.MethodGet:
		a.listPendingRequests(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleRequestResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/access/requests/")
	switch {
	case strings.HasSuffix(path, "/approve"):
		a.resolveRequest(w, r, strings.TrimSuffix(path, "/approve"), true)
	case strings.HasSuffix(path, "/reject"):
		a.resolveRequest(w, r, strings.TrimSuffix(path, "/reject"), false)
	case path != "" && !strings.Contains(path, "/"):
		a.getRequest(w, r, path)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleGrantsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createGrant(w, r)
	case http.MethodGet:
		a.listGrants(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleGrantResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/access/grants/")
	switch {
	case strings.HasSuffix(path, "/revoke"):
		a.revokeGrant(w, r, strings.TrimSuffix(path, "/revoke"))
	case path != "" && !strings.Contains(path, "/"):
		a.getGrant(w, r, path)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) createRequest(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := access.Target{Type: strings.TrimSpace(body.TargetType), ID: strings.TrimSpace(body.TargetID)}

	req, err := a.engine.RequestAccess(r.Context(), actor, target, body.Reason)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}

	a.publish(notify.Event{
		Kind:      notify.RequestCreated,
		UserID:    req.UserID,
		Target:    req.Target,
		RequestID: req.ID,
	})
	w.Header().Set("Location", "/v1/access/requests/"+req.ID)
	writeJSON(w, http.StatusCreated, req)
}

func (a *API) listPendingRequests(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireReviewer(w, r); !ok {
		return
	}
	var filter access.PendingFilter
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := parseUserID(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.UserID = id
	}
	filter.TargetType = strings.TrimSpace(r.URL.Query().Get("target_type"))

	items, err := a.store.Requests().ListPending(r.Context(), filter)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRequestsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) getRequest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	req, err := a.store.Requests().Get(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if req.UserID != actor {
		if _, ok := a.requireReviewer(w, r); !ok {
			return
		}
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) resolveRequest(w http.ResponseWriter, r *http.Request, id string, approve bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	var body resolveBody
	if err := decodeJSONAllowEmpty(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if !approve {
		req, err := a.engine.Reject(r.Context(), id, actor, body.Notes)
		if err != nil {
			handleAccessError(w, r, err)
			return
		}
		a.publish(notify.Event{
			Kind:      notify.RequestRejected,
			UserID:    req.UserID,
			Target:    req.Target,
			RequestID: req.ID,
			Actor:     actor,
		})
		writeJSON(w, http.StatusOK, req)
		return
	}

	expiry, err := parseExpiry(body.ExpiresAt)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req, grant, err := a.engine.Approve(r.Context(), id, actor, expiry, body.Notes)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.publish(notify.Event{
		Kind:      notify.RequestApproved,
		UserID:    req.UserID,
		Target:    req.Target,
		RequestID: req.ID,
		GrantID:   grant.ID,
		Actor:     actor,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"request": req,
		"grant":   grant,
	})
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	var body createGrantBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if body.UserID <= 0 {
		writeError(w, r, http.StatusBadRequest, "user_id must be a positive integer")
		return
	}
	target := access.Target{Type: strings.TrimSpace(body.TargetType), ID: strings.TrimSpace(body.TargetID)}

	grant, err := a.engine.Grant(r.Context(), access.UserID(body.UserID), target, actor, body.ExpiresAt, body.Notes)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.publish(notify.Event{
		Kind:    notify.GrantCreated,
		UserID:  grant.UserID,
		Target:  grant.Target,
		GrantID: grant.ID,
		Actor:   actor,
	})
	w.Header().Set("Location", "/v1/access/grants/"+grant.ID)
	writeJSON(w, http.StatusCreated, grant)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	userID, err := parseUserID(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if userID != actor {
		if _, ok := a.requireReviewer(w, r); !ok {
			return
		}
	}
	items, err := a.query.ListActiveForUser(r.Context(), userID)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listGrantsResponse{Items: items, AsOf: time.Now().UTC()})
}

func (a *API) getGrant(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	grant, err := a.store.Grants().Get(r.Context(), id)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	if grant.UserID != actor {
		if _, ok := a.requireReviewer(w, r); !ok {
			return
		}
	}
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	actor, ok := a.requireReviewer(w, r)
	if !ok {
		return
	}
	var body revokeBody
	if err := decodeJSONAllowEmpty(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	grant, err := a.engine.Revoke(r.Context(), id, actor, body.Note)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	a.publish(notify.Event{
		Kind:    notify.GrantRevoked,
		UserID:  grant.UserID,
		Target:  grant.Target,
		GrantID: grant.ID,
		Actor:   actor,
	})
	writeJSON(w, http.StatusOK, grant)
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := callerID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	userID, err := parseUserID(q.Get("user_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	target := access.Target{
		Type: strings.TrimSpace(q.Get("target_type")),
		ID:   strings.TrimSpace(q.Get("target_id")),
	}
	if err := target.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if userID != actor {
		if _, ok := a.requireReviewer(w, r); !ok {
			return
		}
	}

	allowed, err := a.query.CanAccess(r.Context(), userID, target)
	if err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"target":  target,
		"allowed": allowed,
		"as_of":   time.Now().UTC(),
	})
}

type changeRoleBody struct {
	Role string `json:"role"`
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	if !strings.HasSuffix(path, "/role") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	actor, ok := a.requireAdmin(w, r)
	if !ok {
		return
	}
	userID, err := parseUserID(strings.TrimSuffix(path, "/role"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var body changeRoleBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := access.ParseRole(body.Role)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.registry.ChangeRole(r.Context(), userID, role); err != nil {
		handleAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"role":       role,
		"changed_by": actor,
	})
}

func (a *API) publish(evt notify.Event) {
	if a.stream == nil {
		return
	}
	a.stream.Publish(evt)
}
