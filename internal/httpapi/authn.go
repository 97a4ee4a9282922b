package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"adgate.org/internal/access"
	"adgate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token subject")
			return
		}

		ctx := auth.ContextWithUser(r.Context(), userID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerID returns the authenticated user, writing 401 on absence.
func callerID(w http.ResponseWriter, r *http.Request) (access.UserID, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return 0, false
	}
	return access.UserID(id), true
}

// requireReviewer gates a handler to admins and operators using the live
// registry role, not the token claim, so demotions take effect immediately.
func (a *API) requireReviewer(w http.ResponseWriter, r *http.Request) (access.UserID, bool) {
	id, ok := callerID(w, r)
	if !ok {
		return 0, false
	}
	role, err := a.registry.Role(r.Context(), id)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusForbidden, "unknown user")
			return 0, false
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return 0, false
	}
	if !role.Reviewer() {
		writeError(w, r, http.StatusForbidden, "reviewer role required")
		return 0, false
	}
	return id, true
}

func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (access.UserID, bool) {
	id, ok := callerID(w, r)
	if !ok {
		return 0, false
	}
	role, err := a.registry.Role(r.Context(), id)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, r, http.StatusForbidden, "unknown user")
			return 0, false
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return 0, false
	}
	if role != access.RoleAdmin {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return 0, false
	}
	return id, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
