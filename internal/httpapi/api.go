// Package httpapi exposes the access engine over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"adgate.org/internal/access"
	"adgate.org/internal/notify"
	"adgate.org/internal/obs"
	"adgate.org/internal/roles"
)

// ReadyProbe reports readiness, pinging the database when one is wired.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the engine, query and role registry.
type API struct {
	mux        *http.ServeMux
	engine     *access.Engine
	query      *access.Query
	registry   *roles.Registry
	store      access.Store
	stream     *notify.Stream
	readyProbe ReadyProbe
	version    string
}

// New wires all routes. stream may be nil to disable the event feed.
func New(engine *access.Engine, query *access.Query, registry *roles.Registry, store access.Store, stream *notify.Stream, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		engine:     engine,
		query:      query,
		registry:   registry,
		store:      store,
		stream:     stream,
		readyProbe: rp,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	a.mux.HandleFunc("/v1/access/requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/access/requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/access/grants", a.handleGrantsCollection)
	a.mux.HandleFunc("/v1/access/grants/", a.handleGrantResource)
	a.mux.HandleFunc("/v1/access/check", a.handleCheck)
	a.mux.HandleFunc("/v1/access/events", a.Events)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, 20, 10)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}
