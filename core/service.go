package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
)

// authTimeout bounds a single register or login including hashing and store calls.
const authTimeout = 3 * time.Second

// dummyPassword is hashed once and verified against for unknown usernames so
// that an unknown user costs the same as a wrong password.
const dummyPassword = "demobank-dummy-password"

type rehasher interface {
	NeedsRehash(hash string) bool
}

// AuthDeps are the collaborators of RepositoryAuthService.
type AuthDeps struct {
	Users             UserRepository
	Hasher            PasswordHasher
	Sessions          *SessionManager
	Metrics           *Metrics
	Logger            *slog.Logger
	PasswordMinLength int
}

// RepositoryAuthService implements AuthService over a UserRepository,
// a PasswordHasher and a SessionManager.
type RepositoryAuthService struct {
	users     UserRepository
	hasher    PasswordHasher
	sessions  *SessionManager
	metrics   *Metrics
	logger    *slog.Logger
	minLength int

	dummyOnce sync.Once
	dummyHash string
}

func NewRepositoryAuthService(deps AuthDeps) *RepositoryAuthService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryAuthService{
		users:     deps.Users,
		hasher:    deps.Hasher,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		logger:    logger,
		minLength: deps.PasswordMinLength,
	}
}

// Register validates input, hashes the password and creates the user.
// It does not log the user in.
func (s *RepositoryAuthService) Register(ctx context.Context, username, password string) (User, error) {
	username = normalizeUsername(username)
	if err := validateUsername(username); err != nil {
		s.metrics.registration(ResultInvalid)
		return User{}, err
	}
	if err := validatePassword(password, s.minLength); err != nil {
		s.metrics.registration(ResultInvalid)
		return User{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	// Fast path; Create below is what actually guarantees uniqueness.
	if _, err := s.users.FindByUsername(ctx, username); err == nil {
		s.metrics.registration(ResultDuplicate)
		return User{}, oops.Code("USERNAME_TAKEN").With("username", username).Wrap(ErrUsernameTaken)
	} else if !errors.Is(err, ErrUserNotFound) {
		s.metrics.registration(ResultError)
		return User{}, oops.Code("USER_STORE_FAILED").With("operation", "register").Wrap(err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.registration(ResultError)
		return User{}, err
	}
	rec, err := s.users.Create(ctx, username, hash)
	if err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			s.metrics.registration(ResultDuplicate)
			return User{}, oops.Code("USERNAME_TAKEN").With("username", username).Wrap(ErrUsernameTaken)
		}
		s.metrics.registration(ResultError)
		return User{}, oops.Code("USER_STORE_FAILED").With("operation", "register").Wrap(err)
	}
	s.metrics.registration(ResultSuccess)
	s.logger.InfoContext(ctx, "user registered", "user_id", rec.ID, "username", rec.Username)
	return rec.User(), nil
}

// Authenticate checks username and password. Unknown user and wrong password
// both yield ErrInvalidCredentials; empty or oversized input is a
// *ValidationError that also matches ErrInvalidCredentials.
func (s *RepositoryAuthService) Authenticate(ctx context.Context, username, password string) (User, error) {
	username = normalizeUsername(username)
	switch {
	case username == "":
		s.metrics.loginAttempt(ResultInvalid)
		return User{}, loginInputError("username")
	case password == "" || len(password) > maxPasswordBytes:
		s.metrics.loginAttempt(ResultInvalid)
		return User{}, loginInputError("password")
	}

	ctx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	rec, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.burnDummyVerify(password)
			s.metrics.loginAttempt(ResultFailure)
			return User{}, ErrInvalidCredentials
		}
		s.metrics.loginAttempt(ResultError)
		return User{}, oops.Code("USER_STORE_FAILED").With("operation", "authenticate").Wrap(err)
	}

	ok, err := s.hasher.Verify(password, rec.PasswordHash)
	if err != nil {
		LogErrorContext(ctx, s.logger, "stored password hash is unusable", oops.With("user_id", rec.ID).Wrap(err))
		s.metrics.loginAttempt(ResultFailure)
		return User{}, oops.Code("INVALID_CREDENTIALS").With("user_id", rec.ID).Wrap(ErrInvalidCredentials)
	}
	if !ok {
		s.metrics.loginAttempt(ResultFailure)
		return User{}, ErrInvalidCredentials
	}

	s.maybeRehash(ctx, rec, password)
	s.metrics.loginAttempt(ResultSuccess)
	return rec.User(), nil
}

// Login authenticates and establishes a fresh session. A previously held
// token is invalidated first so every login rotates the session.
func (s *RepositoryAuthService) Login(ctx context.Context, username, password, previousToken string) (*Session, string, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, "", err
	}
	if previousToken != "" {
		if err := s.sessions.Invalidate(ctx, previousToken); err != nil {
			LogErrorContext(ctx, s.logger, "failed to invalidate previous session", err)
		}
	}
	sess, token, err := s.sessions.Establish(ctx, user)
	if err != nil {
		return nil, "", err
	}
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID, "session_id", sess.ID.String())
	return sess, token, nil
}

// Logout invalidates token. Logging out without a session is not an error.
func (s *RepositoryAuthService) Logout(ctx context.Context, token string) error {
	return s.sessions.Invalidate(ctx, token)
}

func (s *RepositoryAuthService) burnDummyVerify(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			LogError(s.logger, "failed to prepare dummy hash", err)
			return
		}
		s.dummyHash = hash
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

// maybeRehash upgrades a hash made by a non-primary scheme. Failures are logged only.
func (s *RepositoryAuthService) maybeRehash(ctx context.Context, rec *UserRecord, password string) {
	rh, ok := s.hasher.(rehasher)
	if !ok || !rh.NeedsRehash(rec.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		LogErrorContext(ctx, s.logger, "password rehash failed", err)
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, rec.ID, hash); err != nil {
		LogErrorContext(ctx, s.logger, "password rehash failed", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", rec.ID)
}
