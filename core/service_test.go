package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type authFixture struct {
	svc      *RepositoryAuthService
	users    *MemoryUserRepository
	sessions *SessionManager
	store    *MemorySessionStore
	metrics  *Metrics
	registry *prometheus.Registry
	clock    *clockwork.FakeClock
}

func newAuthFixture(t *testing.T, scheme string) *authFixture {
	t.Helper()
	hasher, err := NewPasswordHasher(testHasherConfig(scheme))
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(testEpoch)
	registry := prometheus.NewRegistry()
	f := &authFixture{
		users:    NewMemoryUserRepository(clock),
		store:    NewMemorySessionStore(),
		metrics:  NewMetrics(registry),
		registry: registry,
		clock:    clock,
	}
	f.sessions = NewSessionManager(f.store, time.Hour, clock, f.metrics)
	f.svc = NewRepositoryAuthService(AuthDeps{
		Users:             f.users,
		Hasher:            hasher,
		Sessions:          f.sessions,
		Metrics:           f.metrics,
		Logger:            slog.New(slog.DiscardHandler),
		PasswordMinLength: 8,
	})
	return f
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)

	user, err := f.svc.Register(ctx, "  testuser  ", "testpassword")
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username, "surrounding whitespace trimmed")
	assert.NotZero(t, user.ID)

	rec, err := f.users.FindByUsername(ctx, "testuser")
	require.NoError(t, err)
	assert.NotEqual(t, "testpassword", rec.PasswordHash)
	assert.True(t, strings.HasPrefix(rec.PasswordHash, "$2a$"))

	assert.Equal(t, 0, f.store.Len(), "registration does not log in")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.registrations.WithLabelValues(ResultSuccess)))
}

func TestRegister_Duplicate(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)

	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "testuser", "otherpassword")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// Different case is a different user.
	_, err = f.svc.Register(ctx, "TestUser", "otherpassword")
	assert.NoError(t, err)
}

func TestRegister_Validation(t *testing.T) {
	f := newAuthFixture(t, HasherBcrypt)
	tests := []struct {
		name, username, password, field string
	}{
		{"empty username", "   ", "testpassword", "username"},
		{"long username", strings.Repeat("a", 65), "testpassword", "username"},
		{"control char", "bad\x00name", "testpassword", "username"},
		{"empty password", "user", "", "password"},
		{"short password", "user", "short", "password"},
		{"long password", "user", strings.Repeat("p", 73), "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.username, tt.password)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.NotEmpty(t, verr.Message)
		})
	}
	n, err := f.users.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)

	user, err := f.svc.Authenticate(ctx, "testuser", "testpassword")
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username)

	for _, tc := range [][2]string{
		{"testuser", "wrongpassword"},
		{"nobody", "testpassword"},
		{"TESTUSER", "testpassword"},
	} {
		_, err := f.svc.Authenticate(ctx, tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidCredentials, "%q/%q", tc[0], tc[1])
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.loginAttempts.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.loginAttempts.WithLabelValues(ResultFailure)))
}

func TestAuthenticate_MalformedInputIsValidationError(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)

	tests := []struct {
		name      string
		username  string
		password  string
		wantField string
	}{
		{"empty username", "", "testpassword", "username"},
		{"blank username", "   ", "testpassword", "username"},
		{"empty password", "testuser", "", "password"},
		{"oversized password", "testuser", strings.Repeat("p", maxPasswordBytes+1), "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Authenticate(ctx, tt.username, tt.password)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Equal(t, MsgInvalidCredentials, verr.Message)
			assert.ErrorIs(t, err, ErrInvalidCredentials)
		})
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.loginAttempts.WithLabelValues(ResultInvalid)))
	assert.Zero(t, testutil.ToFloat64(f.metrics.loginAttempts.WithLabelValues(ResultFailure)))
}

func TestAuthenticate_MalformedStoredHash(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.users.Create(ctx, "broken", "garbage")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "broken", "whatever1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate_UpgradesLegacyHash(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherArgon2id)
	legacy, err := bcrypt.GenerateFromPassword([]byte("testpassword"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = f.users.Create(ctx, "legacy", string(legacy))
	require.NoError(t, err)

	_, err = f.svc.Authenticate(ctx, "legacy", "testpassword")
	require.NoError(t, err)

	rec, err := f.users.FindByUsername(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rec.PasswordHash, argon2Prefix))

	_, err = f.svc.Authenticate(ctx, "legacy", "testpassword")
	assert.NoError(t, err, "upgraded hash still verifies")
}

func TestLogin_EstablishesAndRotates(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)

	first, token1, err := f.svc.Login(ctx, "testuser", "testpassword", "")
	require.NoError(t, err)
	assert.Equal(t, "testuser", first.Username)

	resolved, err := f.sessions.Resolve(ctx, token1)
	require.NoError(t, err)
	assert.Equal(t, first.ID, resolved.ID)

	_, token2, err := f.svc.Login(ctx, "testuser", "testpassword", token1)
	require.NoError(t, err)
	assert.NotEqual(t, token1, token2)

	_, err = f.sessions.Resolve(ctx, token1)
	assert.ErrorIs(t, err, ErrUnauthenticated, "previous session is invalidated")
	_, err = f.sessions.Resolve(ctx, token2)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.store.Len())
}

func TestLogin_FailureEstablishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)

	_, token, err := f.svc.Login(ctx, "testuser", "wrongpassword", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, token)
	assert.Equal(t, 0, f.store.Len())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t, HasherBcrypt)
	_, err := f.svc.Register(ctx, "testuser", "testpassword")
	require.NoError(t, err)
	_, token, err := f.svc.Login(ctx, "testuser", "testpassword", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, token))
	_, err = f.sessions.Resolve(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.NoError(t, f.svc.Logout(ctx, token), "second logout is a no-op")
	assert.NoError(t, f.svc.Logout(ctx, ""))
}

type failingUserRepo struct {
	*MemoryUserRepository
	err error
}

func (r failingUserRepo) FindByUsername(context.Context, string) (*UserRecord, error) {
	return nil, r.err
}

func TestAuthService_StoreFailure(t *testing.T) {
	boom := errors.New("db down")
	f := newAuthFixture(t, HasherBcrypt)
	f.svc.users = failingUserRepo{MemoryUserRepository: f.users, err: boom}

	_, err := f.svc.Register(context.Background(), "testuser", "testpassword")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.Authenticate(context.Background(), "testuser", "testpassword")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}
