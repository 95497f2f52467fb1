package core

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgSessionStore_Put(t *testing.T) {
	mock := newMockPool(t)
	sess := &Session{
		ID:            ulid.Make(),
		UserID:        4,
		Username:      "dave",
		TokenHash:     "abc",
		EstablishedAt: testEpoch,
		ExpiresAt:     testEpoch.Add(time.Hour),
	}
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sessions`)).
		WithArgs("abc", sess.ID.String(), int64(4), "dave", testEpoch, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgSessionStore(mock).Put(context.Background(), sess, time.Hour))
}

func TestPgSessionStore_Get(t *testing.T) {
	q := regexp.QuoteMeta(`SELECT id, user_id, username, established_at, expires_at FROM sessions WHERE token_hash=$1`)
	id := ulid.Make()
	cols := []string{"id", "user_id", "username", "established_at", "expires_at"}

	t.Run("with expiry", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(q).WithArgs("abc").WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id.String(), int64(4), "dave", testEpoch, testEpoch.Add(time.Hour)))

		got, err := NewPgSessionStore(mock).Get(context.Background(), "abc")
		require.NoError(t, err)
		assert.Equal(t, &Session{
			ID:            id,
			UserID:        4,
			Username:      "dave",
			TokenHash:     "abc",
			EstablishedAt: testEpoch,
			ExpiresAt:     testEpoch.Add(time.Hour),
		}, got)
	})

	t.Run("without expiry", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(q).WithArgs("abc").WillReturnRows(pgxmock.NewRows(cols).
			AddRow(id.String(), int64(4), "dave", testEpoch, nil))

		got, err := NewPgSessionStore(mock).Get(context.Background(), "abc")
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.IsZero())
	})

	t.Run("missing", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(q).WithArgs("abc").WillReturnError(pgx.ErrNoRows)

		_, err := NewPgSessionStore(mock).Get(context.Background(), "abc")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock := newMockPool(t)
		mock.ExpectQuery(q).WithArgs("abc").WillReturnRows(pgxmock.NewRows(cols).
			AddRow("not-a-ulid", int64(4), "dave", testEpoch, nil))

		_, err := NewPgSessionStore(mock).Get(context.Background(), "abc")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestPgSessionStore_DeleteAndReap(t *testing.T) {
	mock := newMockPool(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE token_hash=$1`)).
		WithArgs("abc").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= $1`)).
		WithArgs(testEpoch).WillReturnResult(pgxmock.NewResult("DELETE", 3))

	store := NewPgSessionStore(mock)
	require.NoError(t, store.Delete(context.Background(), "abc"))
	n, err := store.DeleteExpired(context.Background(), testEpoch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
