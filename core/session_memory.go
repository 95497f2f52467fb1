package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemorySessionStore keeps sessions in process memory. Sessions do not survive
// a restart and are not shared between replicas.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Put ignores ttl; expiry is driven by Session.ExpiresAt and DeleteExpired.
func (s *MemorySessionStore) Put(_ context.Context, sess *Session, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.TokenHash] = *sess
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, tokenHash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

// DeleteExpired drops every session expired at now and returns how many were removed.
func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, sess := range s.sessions {
		if sess.ExpiredAt(now) {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired or not.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// RunSessionReaper calls reaper.DeleteExpired every interval until ctx is done.
func RunSessionReaper(ctx context.Context, reaper ExpiredSessionReaper, clock clockwork.Clock, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			n, err := reaper.DeleteExpired(ctx, clock.Now())
			if err != nil {
				LogError(logger, "session reaper failed", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}
