package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"adgate.org/internal/access"
	"adgate.org/internal/ids"
)

type grantStore struct {
	q querier
}

var _ access.GrantStore = (*grantStore)(nil)

const grantColumns = `id, user_id, target_id, target_type, granted_by, granted_at, expires_at, expired_at, revoked_at, revoked_by, notes`

const grantInsertColumns = `id, user_id, target_id, target_type, granted_by, expires_at, notes`

func (s *grantStore) Create(ctx context.Context, userID access.UserID, target access.Target, grantedBy access.UserID, expiresAt *time.Time, notes string) (access.AccessGrant, error) {
	if err := target.Validate(); err != nil {
		return access.AccessGrant{}, err
	}
	row := s.q.QueryRowContext(ctx, `
		insert into access_grant (`+grantInsertColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+grantColumns+`
	`, ids.New(), int64(userID), target.ID, target.Type, int64(grantedBy), nullTime(expiresAt), notes)
	grant, err := scanGrant(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return access.AccessGrant{}, access.ErrNotFound
		}
		return access.AccessGrant{}, err
	}
	return grant, nil
}

func (s *grantStore) Get(ctx context.Context, id string) (access.AccessGrant, error) {
	row := s.q.QueryRowContext(ctx, `
		select `+grantColumns+`
		from access_grant
		where id = $1
	`, id)
	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, access.ErrNotFound
	}
	if err != nil {
		return access.AccessGrant{}, err
	}
	return grant, nil
}

func (s *grantStore) Revoke(ctx context.Context, id string, revokedBy access.UserID, note string) (access.AccessGrant, error) {
	row := s.q.QueryRowContext(ctx, `
		update access_grant
		set revoked_at = now(), revoked_by = $1,
		    notes = case when $2 = '' then notes
		                 when notes = '' then $2
		                 else notes || '; ' || $2 end
		where id = $3 and revoked_at is null
		returning `+grantColumns+`
	`, int64(revokedBy), note, id)
	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		probe := s.q.QueryRowContext(ctx, `select 1 from access_grant where id = $1`, id).Scan(&exists)
		if errors.Is(probe, sql.ErrNoRows) {
			return access.AccessGrant{}, access.ErrNotFound
		}
		if probe != nil {
			return access.AccessGrant{}, probe
		}
		return access.AccessGrant{}, access.ErrAlreadyRevoked
	}
	if err != nil {
		return access.AccessGrant{}, err
	}
	return grant, nil
}

// IsActive evaluates the activity invariant in SQL at asOf, so correctness
// never depends on the expiry sweep.
func (s *grantStore) IsActive(ctx context.Context, userID access.UserID, target access.Target, asOf time.Time) (bool, error) {
	var active bool
	err := s.q.QueryRowContext(ctx, `
		select exists (
			select 1 from access_grant
			where user_id = $1 and target_id = $2 and target_type = $3
			  and revoked_at is null
			  and (expires_at is null or expires_at > $4)
		)
	`, int64(userID), target.ID, target.Type, asOf.UTC()).Scan(&active)
	if err != nil {
		return false, err
	}
	return active, nil
}

func (s *grantStore) ListActiveForUser(ctx context.Context, userID access.UserID) ([]access.AccessGrant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+grantColumns+`
		from access_grant
		where user_id = $1
		  and revoked_at is null
		  and (expires_at is null or expires_at > now())
		order by granted_at asc
	`, int64(userID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.AccessGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *grantStore) RevokeAllActiveForUser(ctx context.Context, userID, revokedBy access.UserID, note string) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		update access_grant
		set revoked_at = now(), revoked_by = $1,
		    notes = case when $2 = '' then notes
		                 when notes = '' then $2
		                 else notes || '; ' || $2 end
		where user_id = $3
		  and revoked_at is null
		  and (expires_at is null or expires_at > now())
	`, int64(revokedBy), note, int64(userID))
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

// ExpireDue stamps the audit marker on overdue rows. Revoked rows are left
// alone: revocation already terminated them.
func (s *grantStore) ExpireDue(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		update access_grant
		set expired_at = expires_at
		where expires_at is not null
		  and expires_at <= $1
		  and expired_at is null
		  and revoked_at is null
	`, asOf.UTC())
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}

func scanGrant(row rowScanner) (access.AccessGrant, error) {
	var (
		grant     access.AccessGrant
		userID    int64
		grantedBy int64
		expiresAt sql.NullTime
		expiredAt sql.NullTime
		revokedAt sql.NullTime
		revokedBy sql.NullInt64
		notes     sql.NullString
	)
	err := row.Scan(
		&grant.ID, &userID, &grant.Target.ID, &grant.Target.Type,
		&grantedBy, &grant.GrantedAt, &expiresAt, &expiredAt, &revokedAt, &revokedBy, &notes,
	)
	if err != nil {
		return access.AccessGrant{}, err
	}
	grant.UserID = access.UserID(userID)
	grant.GrantedBy = access.UserID(grantedBy)
	grant.GrantedAt = grant.GrantedAt.UTC()
	grant.ExpiresAt = timePtr(expiresAt)
	grant.ExpiredAt = timePtr(expiredAt)
	grant.RevokedAt = timePtr(revokedAt)
	grant.RevokedBy = userIDPtr(revokedBy)
	if notes.Valid {
		grant.Notes = notes.String
	}
	return grant, nil
}
