//go:build integration

package core

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startPostgres runs a migrated postgres container for the test and returns a pool on it.
func startPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("demobank_test"),
		postgres.WithUsername("demobank"),
		postgres.WithPassword("demobank"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, RunMigrations(dsn))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, dsn
}

func TestPostgres_Migrations(t *testing.T) {
	_, dsn := startPostgres(t)

	m, err := NewMigrator(dsn)
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	// Applying again is a no-op.
	require.NoError(t, m.Up())
}

func TestPostgres_UserRepository(t *testing.T) {
	pool, _ := startPostgres(t)
	ctx := context.Background()
	repo := NewPgUserRepository(pool)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	created, err := repo.Create(ctx, "testuser", "$2a$04$hash")
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	_, err = repo.Create(ctx, "testuser", "$2a$04$other")
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	other, err := repo.Create(ctx, "TestUser", "$2a$04$other")
	require.NoError(t, err, "usernames are case-sensitive")
	assert.NotEqual(t, created.ID, other.ID)

	found, err := repo.FindByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "$2a$04$hash", found.PasswordHash)

	require.NoError(t, repo.UpdatePasswordHash(ctx, created.ID, "$argon2id$new"))
	found, err = repo.FindByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.Equal(t, "$argon2id$new", found.PasswordHash)
	assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, 999999, "x"), ErrUserNotFound)

	_, err = repo.FindByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	n, err = repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgres_SessionStore(t *testing.T) {
	pool, _ := startPostgres(t)
	ctx := context.Background()

	rec, err := NewPgUserRepository(pool).Create(ctx, "contract", "$2a$04$hash")
	require.NoError(t, err)
	user := rec.User()

	store := NewPgSessionStore(pool)
	testSessionStoreContract(t, store, user)

	m := NewSessionManager(store, time.Hour, nil, nil)
	live, _, err := m.Establish(ctx, user)
	require.NoError(t, err)
	forever, _, err := NewSessionManager(store, 0, nil, nil).Establish(ctx, user)
	require.NoError(t, err)

	n, err := store.DeleteExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.Get(ctx, live.TokenHash)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	got, err := store.Get(ctx, forever.TokenHash)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestPostgres_EndToEndAuth(t *testing.T) {
	pool, _ := startPostgres(t)
	ctx := context.Background()

	hasher, err := NewPasswordHasher(testHasherConfig(HasherBcrypt))
	require.NoError(t, err)
	sessions := NewSessionManager(NewPgSessionStore(pool), time.Hour, nil, nil)
	svc := NewRepositoryAuthService(AuthDeps{
		Users:             NewPgUserRepository(pool),
		Hasher:            hasher,
		Sessions:          sessions,
		PasswordMinLength: 8,
	})

	_, err = svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "testuser", "testpassword")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	sess, token, err := svc.Login(ctx, "testuser", "testpassword", "")
	require.NoError(t, err)
	resolved, err := sessions.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, resolved.ID)

	require.NoError(t, svc.Logout(ctx, token))
	_, err = sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
