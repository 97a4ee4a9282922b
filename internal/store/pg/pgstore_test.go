package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"adgate.org/internal/access"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func requestRows(id string, userID int64, status string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "target_id", "target_type", "created_at",
		"status", "resolved_at", "resolved_by", "reason", "resolution_notes",
	})
	var resolvedAt any
	var resolvedBy any
	if status != "pending" {
		resolvedAt = time.Now().UTC()
		resolvedBy = int64(1)
	}
	rows.AddRow(id, userID, "c1", "campaign", time.Now().UTC(), status, resolvedAt, resolvedBy, "reason", nil)
	return rows
}

func grantRows(id string, userID int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "target_id", "target_type", "granted_by", "granted_at",
		"expires_at", "expired_at", "revoked_at", "revoked_by", "notes",
	}).AddRow(id, userID, "c1", "campaign", int64(1), time.Now().UTC(), nil, nil, nil, nil, "")
}

func TestRequestCreateMapsDuplicatePending(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into access_request").
		WithArgs(sqlmock.AnyArg(), int64(3), "c1", "campaign", "why").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.Requests().Create(context.Background(), 3, access.Target{Type: "campaign", ID: "c1"}, "why")
	if !errors.Is(err, access.ErrDuplicatePending) {
		t.Fatalf("err = %v, want ErrDuplicatePending", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRequestCreateMapsUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("insert into access_request").
		WithArgs(sqlmock.AnyArg(), int64(3), "c1", "campaign", "").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := store.Requests().Create(context.Background(), 3, access.Target{Type: "campaign", ID: "c1"}, "")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestResolveSuccess(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update access_request").
		WithArgs("approved", int64(2), "ok", "req-1").
		WillReturnRows(requestRows("req-1", 3, "approved"))

	req, err := store.Requests().Resolve(context.Background(), "req-1", access.StatusApproved, 2, "ok")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Status != access.StatusApproved {
		t.Fatalf("status = %q", req.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRequestResolveAlreadyResolved(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update access_request").
		WithArgs("rejected", int64(2), "", "req-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select 1 from access_request").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := store.Requests().Resolve(context.Background(), "req-1", access.StatusRejected, 2, "")
	if !errors.Is(err, access.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestRequestResolveNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update access_request").
		WithArgs("approved", int64(2), "", "ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select 1 from access_request").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Requests().Resolve(context.Background(), "ghost", access.StatusApproved, 2, "")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequestResolveRejectsNonTerminalStatus(t *testing.T) {
	store, _ := newMockStore(t)

	_, err := store.Requests().Resolve(context.Background(), "req-1", access.StatusPending, 2, "")
	if !errors.Is(err, access.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestCancelAllPendingForUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update access_request").
		WithArgs(int64(3), "note", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Requests().CancelAllPendingForUser(context.Background(), 3, 3, "note")
	if err != nil {
		t.Fatalf("CancelAllPendingForUser: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestGrantRevokeAlreadyRevoked(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update access_grant").
		WithArgs(int64(2), "bye", "g-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select 1 from access_grant").
		WithArgs("g-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	_, err := store.Grants().Revoke(context.Background(), "g-1", 2, "bye")
	if !errors.Is(err, access.ErrAlreadyRevoked) {
		t.Fatalf("err = %v, want ErrAlreadyRevoked", err)
	}
}

func TestGrantIsActive(t *testing.T) {
	store, mock := newMockStore(t)
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("select exists").
		WithArgs(int64(3), "c1", "campaign", asOf).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	active, err := store.Grants().IsActive(context.Background(), 3, access.Target{Type: "campaign", ID: "c1"}, asOf)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Fatal("expected active")
	}
}

func TestGrantExpireDue(t *testing.T) {
	store, mock := newMockStore(t)
	asOf := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("update access_grant").
		WithArgs(asOf).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.Grants().ExpireDue(context.Background(), asOf)
	if err != nil {
		t.Fatalf("ExpireDue: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
}

func TestWithinTxCommitsApproveFlow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update access_request").
		WithArgs("approved", int64(2), "", "req-1").
		WillReturnRows(requestRows("req-1", 3, "approved"))
	mock.ExpectQuery("insert into access_grant").
		WithArgs(sqlmock.AnyArg(), int64(3), "c1", "campaign", int64(2), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(grantRows("g-1", 3))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), func(tx access.Store) error {
		req, err := tx.Requests().Resolve(context.Background(), "req-1", access.StatusApproved, 2, "")
		if err != nil {
			return err
		}
		_, err = tx.Grants().Create(context.Background(), req.UserID, req.Target, 2, nil, "")
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("update access_request").
		WithArgs("approved", int64(2), "", "req-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select 1 from access_request").
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(tx access.Store) error {
		_, err := tx.Requests().Resolve(context.Background(), "req-1", access.StatusApproved, 2, "")
		return err
	})
	if !errors.Is(err, access.ErrAlreadyResolved) {
		t.Fatalf("err = %v, want ErrAlreadyResolved", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRoleStoreSetRole(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select role from users").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("partner"))
	mock.ExpectExec("update users").
		WithArgs("admin", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prev, err := store.SetRole(context.Background(), 7, access.RoleAdmin)
	if err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if prev != access.RolePartner {
		t.Fatalf("previous role = %q, want partner", prev)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRoleStoreUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select role from users").
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Role(context.Background(), 404)
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
