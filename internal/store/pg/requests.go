package pg

import (
	"context"
	"database/sql"
	"errors"

	"adgate.org/internal/access"
	"adgate.org/internal/ids"
)

type requestStore struct {
	q querier
}

var _ access.RequestStore = (*requestStore)(nil)

const requestColumns = `id, user_id, target_id, target_type, created_at, status, resolved_at, resolved_by, reason, resolution_notes`

const requestInsertColumns = `id, user_id, target_id, target_type, reason`

func (s *requestStore) Create(ctx context.Context, userID access.UserID, target access.Target, reason string) (access.AccessRequest, error) {
	if err := target.Validate(); err != nil {
		return access.AccessRequest{}, err
	}
	row := s.q.QueryRowContext(ctx, `
		insert into access_request (`+requestInsertColumns+`)
		values ($1, $2, $3, $4, $5)
		returning `+requestColumns+`
	`, ids.New(), int64(userID), target.ID, target.Type, reason)
	req, err := scanRequest(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				// Partial unique index over pending rows.
				return access.AccessRequest{}, access.ErrDuplicatePending
			case pgErrForeignKeyViolation:
				return access.AccessRequest{}, access.ErrNotFound
			}
		}
		return access.AccessRequest{}, err
	}
	return req, nil
}

func (s *requestStore) Get(ctx context.Context, id string) (access.AccessRequest, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+requestColumns+`
		from access_request
		where id = $1
	`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessRequest{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessRequest{}, err
	}
	return req, nil
}

// Resolve claims the pending row with a conditional update so concurrent
// resolvers cannot both succeed.
func (s *requestStore) Resolve(ctx context.Context, id string, status access.RequestStatus, resolvedBy access.UserID, notes string) (access.AccessRequest, error) {
	if !status.Terminal() {
		return access.AccessRequest{}, access.ErrInvalidInput
	}
	row := s.q.QueryRowContext(ctx, `
		update access_request
		set status = $1, resolved_at = now(), resolved_by = $2, resolution_notes = $3
		where id = $4 and status = 'pending'
		returning `+requestColumns+`
	`, string(status), int64(resolvedBy), notes, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		probe := s.q.QueryRowContext(ctx, `select 1 from access_request where id = $1`, id).Scan(&exists)
		if errors.Is(probe, sql.ErrNoRows) {
			return access.AccessRequest{}, access.ErrNotFound
		}
		if probe != nil {
			return access.AccessRequest{}, probe
		}
		return access.AccessRequest{}, access.ErrAlreadyResolved
	}
	if err != nil {
		return access.AccessRequest{}, err
	}
	return req, nil
}

func (s *requestStore) ListPending(ctx context.Context, filter access.PendingFilter) ([]access.AccessRequest, error) {
	query := `
		select ` + requestColumns + `
		from access_request
		where status = 'pending'`
	var args []any
	if filter.UserID != 0 {
		args = append(args, int64(filter.UserID))
		query += ` and user_id = $1`
	}
	if filter.TargetType != "" {
		args = append(args, filter.TargetType)
		if len(args) == 1 {
			query += ` and target_type = $1`
		} else {
			query += ` and target_type = $2`
		}
	}
	query += ` order by created_at asc`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.AccessRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *requestStore) CancelAllPendingForUser(ctx context.Context, userID, canceledBy access.UserID, note string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		update access_request
		set status = 'canceled', resolved_at = now(), resolved_by = $1, resolution_notes = $2
		where user_id = $3 and status = 'pending'
	`, int64(canceledBy), note, int64(userID))
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (access.AccessRequest, error) {
	var (
		req        access.AccessRequest
		userID     int64
		status     string
		resolvedAt sql.NullTime
		resolvedBy sql.NullInt64
		reason     sql.NullString
		notes      sql.NullString
	)
	err := row.Scan(
		&req.ID, &userID, &req.Target.ID, &req.Target.Type,
		&req.CreatedAt, &status, &resolvedAt, &resolvedBy, &reason, &notes,
	)
	if err != nil {
		return access.AccessRequest{}, err
	}
	req.UserID = access.UserID(userID)
	req.Status = access.RequestStatus(status)
	req.CreatedAt = req.CreatedAt.UTC()
	req.ResolvedAt = timePtr(resolvedAt)
	req.ResolvedBy = userIDPtr(resolvedBy)
	if reason.Valid {
		req.Reason = reason.String
	}
	if notes.Valid {
		req.ResolutionNotes = notes.String
	}
	return req, nil
}
