package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// sessionTokenBytes is the entropy of a client-held token (64 hex chars).
const sessionTokenBytes = 32

// ErrSessionNotFound is returned by a SessionStore when no session matches.
var ErrSessionNotFound = errors.New("session not found")

// Session is the server-held proof that a client authenticated.
// It references a user but does not own the user record.
type Session struct {
	ID            ulid.ULID `json:"id"`
	UserID        int64     `json:"user_id"`
	Username      string    `json:"username"`
	TokenHash     string    `json:"token_hash"`
	EstablishedAt time.Time `json:"established_at"`
	ExpiresAt     time.Time `json:"expires_at"` // zero means no expiry
}

// ExpiredAt reports whether the session is no longer valid at t.
func (s *Session) ExpiredAt(t time.Time) bool {
	return !s.ExpiresAt.IsZero() && !t.Before(s.ExpiresAt)
}

// User returns the authenticated principal this session refers to.
func (s *Session) User() User {
	return User{ID: s.UserID, Username: s.Username}
}

// SessionStore persists sessions keyed by token hash.
type SessionStore interface {
	// Put stores s; ttl <= 0 means the store keeps it until deleted.
	Put(ctx context.Context, s *Session, ttl time.Duration) error
	Get(ctx context.Context, tokenHash string) (*Session, error)
	// Delete is idempotent: deleting a missing session is not an error.
	Delete(ctx context.Context, tokenHash string) error
}

// ExpiredSessionReaper is implemented by stores without native expiry.
type ExpiredSessionReaper interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager issues, resolves and revokes sessions.
// It is created once at process start and shared by the auth service and the access guard.
type SessionManager struct {
	store   SessionStore
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *Metrics
}

// NewSessionManager wires a manager over store. ttl <= 0 disables expiry.
func NewSessionManager(store SessionStore, ttl time.Duration, clock clockwork.Clock, metrics *Metrics) *SessionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionManager{store: store, ttl: ttl, clock: clock, metrics: metrics}
}

// TTL returns the configured session lifetime.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Establish creates a session for user and returns it with the plaintext token.
// The store write completes before Establish returns, so the token resolves on the next request.
func (m *SessionManager) Establish(ctx context.Context, user User) (*Session, string, error) {
	token, tokenHash, err := newSessionToken()
	if err != nil {
		return nil, "", err
	}
	now := m.clock.Now().UTC()
	s := &Session{
		ID:            ulid.MustNew(ulid.Timestamp(now), rand.Reader),
		UserID:        user.ID,
		Username:      user.Username,
		TokenHash:     tokenHash,
		EstablishedAt: now,
	}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}
	if err := m.store.Put(ctx, s, m.ttl); err != nil {
		return nil, "", oops.Code("SESSION_STORE_FAILED").
			With("operation", "establish").
			With("user_id", user.ID).
			Wrap(err)
	}
	m.metrics.sessionEstablished()
	return s, token, nil
}

// Resolve returns the active session for token, or ErrUnauthenticated when the
// token is empty, unknown or expired. Other errors are storage faults.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	tokenHash := hashSessionToken(token)
	s, err := m.store.Get(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, oops.Code("SESSION_STORE_FAILED").With("operation", "resolve").Wrap(err)
	}
	if s.ExpiredAt(m.clock.Now()) {
		// Lazy expiry; a failed delete is reaped later.
		_ = m.store.Delete(ctx, tokenHash)
		return nil, ErrUnauthenticated
	}
	return s, nil
}

// Invalidate removes the session for token. Unknown or empty tokens are not an error.
func (m *SessionManager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, hashSessionToken(token)); err != nil {
		return oops.Code("SESSION_STORE_FAILED").With("operation", "invalidate").Wrap(err)
	}
	m.metrics.sessionInvalidated()
	return nil
}

// newSessionToken returns a random token and the hash under which it is stored.
func newSessionToken() (token, tokenHash string, err error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", oops.Code("SESSION_TOKEN_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(b)
	return token, hashSessionToken(token), nil
}

func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
