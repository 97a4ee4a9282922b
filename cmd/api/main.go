package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"adgate.org/internal/access"
	"adgate.org/internal/httpapi"
	"adgate.org/internal/notify"
	"adgate.org/internal/obs"
	"adgate.org/internal/roles"
	"adgate.org/internal/store/pg"
	"adgate.org/internal/sweeper"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ADGATE_COMMIT"))

	var (
		store      access.Store
		roleStore  roles.Store
		db         *sql.DB
		memoryMode bool
	)
	if dsn := os.Getenv("ADGATE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		roleStore = pgStore
		db = pgStore.DB()
	} else {
		log.Printf("ADGATE_PG_DSN not set, using in-memory stores")
		store = access.NewInMemory()
		roleStore = roles.NewInMemory()
		memoryMode = true
	}

	registry, err := roles.NewRegistry(roleStore)
	if err != nil {
		log.Fatalf("role registry: %v", err)
	}
	if memoryMode {
		if err := seedDevAdmin(context.Background(), registry); err != nil {
			log.Fatalf("seed dev admin: %v", err)
		}
		log.Printf("seeded user %d as admin", initialAdminID)
	}

	stream := notify.New()

	engine, err := access.NewEngine(store, registry,
		access.WithCascadeObserver(func(_ context.Context, userID access.UserID, revoked, canceled int) {
			stream.PublishCascade(userID, revoked, canceled)
		}))
	if err != nil {
		log.Fatalf("access engine: %v", err)
	}
	registry.Subscribe(engine)

	query := access.NewQuery(store.Grants(), registry)

	ctx, cancelSweep := context.WithCancel(context.Background())
	sw := sweeper.New(engine, stream, sweepInterval())
	if err := sw.Start(ctx); err != nil {
		log.Fatalf("sweeper: %v", err)
	}

	api := httpapi.New(engine, query, registry, store, stream, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              listenAddr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting adgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	cancelSweep()
	sw.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// initialAdminID mirrors the 0001_initial_admin seed, so the in-memory dev
// server can issue a token for at least one reviewer.
const initialAdminID access.UserID = 1

func seedDevAdmin(ctx context.Context, registry *roles.Registry) error {
	return registry.EnsureUser(ctx, initialAdminID, access.RoleAdmin)
}

func listenAddr() string {
	if addr := os.Getenv("ADGATE_LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8080"
}

func sweepInterval() time.Duration {
	raw := os.Getenv("ADGATE_SWEEP_INTERVAL")
	if raw == "" {
		return sweeper.DefaultInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("invalid ADGATE_SWEEP_INTERVAL %q, using default", raw)
		return sweeper.DefaultInterval
	}
	return d
}
