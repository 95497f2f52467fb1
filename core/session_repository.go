package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PgSessionStore implements SessionStore using the sessions table.
// Expired rows are removed lazily by SessionManager.Resolve and in bulk by DeleteExpired.
type PgSessionStore struct {
	db pgxPool
}

func NewPgSessionStore(db pgxPool) *PgSessionStore {
	return &PgSessionStore{db: db}
}

func (s *PgSessionStore) Put(ctx context.Context, sess *Session, _ time.Duration) error {
	const q = `INSERT INTO sessions (token_hash, id, user_id, username, established_at, expires_at)
VALUES ($1,$2,$3,$4,$5,$6)`
	expires := pgtype.Timestamptz{Time: sess.ExpiresAt, Valid: !sess.ExpiresAt.IsZero()}
	if _, err := s.db.Exec(ctx, q, sess.TokenHash, sess.ID.String(), sess.UserID, sess.Username, sess.EstablishedAt, expires); err != nil {
		return oops.Code("SESSION_PUT_FAILED").
			With("session_id", sess.ID.String()).
			With("user_id", sess.UserID).
			Wrap(err)
	}
	return nil
}

func (s *PgSessionStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	const q = `SELECT id, user_id, username, established_at, expires_at FROM sessions WHERE token_hash=$1`
	var (
		id      string
		expires pgtype.Timestamptz
		sess    = Session{TokenHash: tokenHash}
	)
	err := s.db.QueryRow(ctx, q, tokenHash).Scan(&id, &sess.UserID, &sess.Username, &sess.EstablishedAt, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").With("session_id", id).Wrap(err)
	}
	sess.ID = parsed
	if expires.Valid {
		sess.ExpiresAt = expires.Time
	}
	return &sess, nil
}

func (s *PgSessionStore) Delete(ctx context.Context, tokenHash string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	return nil
}

// DeleteExpired removes all sessions expired at now and returns the row count.
func (s *PgSessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, oops.Code("SESSION_REAP_FAILED").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
