package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"stocknest.org/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, session *auth.Session) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, refresh_token_hash, user_agent, ip, expires_at, last_activity_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.RefreshTokenHash, session.UserAgent, session.IP,
		session.ExpiresAt, session.LastActivityAt, session.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

const sessionColumns = `id, user_id, refresh_token_hash, user_agent, ip, expires_at, last_activity_at, created_at`

func scanSession(row interface{ Scan(...any) error }) (auth.Session, error) {
	var sess auth.Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.UserAgent, &sess.IP,
		&sess.ExpiresAt, &sess.LastActivityAt, &sess.CreatedAt)
	return sess, err
}

func (s *Store) FindLiveSessionByTokenHash(ctx context.Context, tokenHash string, now time.Time) (auth.Session, error) {
	if s.db == nil {
		return auth.Session{}, errors.New("database connection unavailable")
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where refresh_token_hash = $1 and expires_at > $2
	`, tokenHash, now))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Session{}, auth.ErrNotFound
	}
	return sess, err
}

// RotateSession swaps the refresh token hash only when the stored hash still
// matches oldHash. RowsAffected 0 means another refresh won the race (or the
// session is gone); both cases surface as ErrNotFound.
func (s *Store) RotateSession(ctx context.Context, sessionID, oldHash, newHash string, expiresAt, now time.Time) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `
		update sessions
		set refresh_token_hash = $3, expires_at = $4, last_activity_at = $5
		where id = $1 and refresh_token_hash = $2
	`, sessionID, oldHash, newHash, expiresAt, now)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) ListSessions(ctx context.Context, userID string, now time.Time) ([]auth.Session, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+sessionColumns+`
		from sessions
		where user_id = $1 and expires_at > $2
		order by last_activity_at desc
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) RevokeSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where refresh_token_hash = $1`, tokenHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions prunes rows past their expiry. Run periodically; the
// read path already ignores expired rows so this is housekeeping only.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	if s.db == nil {
		return 0, errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
