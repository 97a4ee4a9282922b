// Package pg implements the durable access and role stores on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"adgate.org/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same statements
// serve plain calls and WithinTx scopes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store holds the connection pool and implements access.Store plus the role
// store used by the registry.
type Store struct {
	db *sql.DB
	q  querier
}

var _ access.Store = (*Store)(nil)

// Open connects to PostgreSQL with pool defaults tuned for short
// transactions.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing pool; used by tests.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Requests implements access.Store.
func (s *Store) Requests() access.RequestStore { return &requestStore{q: s.q} }

// Grants implements access.Store.
func (s *Store) Grants() access.GrantStore { return &grantStore{q: s.q} }

// WithinTx runs fn against a transaction-scoped store. Read-committed with
// conditional updates is sufficient for the resolve/cascade races: a pending
// request can be claimed by exactly one writer.
func (s *Store) WithinTx(ctx context.Context, fn func(access.Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		// Already inside a transaction.
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}

func userIDPtr(v sql.NullInt64) *access.UserID {
	if !v.Valid {
		return nil
	}
	id := access.UserID(v.Int64)
	return &id
}
