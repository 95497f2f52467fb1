package core

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryUserRepository is an in-process UserRepository used for demos and tests.
// A single mutex makes check-and-insert in Create atomic.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	byName map[string]*UserRecord
	nextID int64
	clock  clockwork.Clock
}

func NewMemoryUserRepository(clock clockwork.Clock) *MemoryUserRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryUserRepository{byName: make(map[string]*UserRecord), clock: clock}
}

func (r *MemoryUserRepository) FindByUsername(_ context.Context, username string) (*UserRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byName[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) Create(_ context.Context, username, passwordHash string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[username]; exists {
		return nil, ErrDuplicateUsername
	}
	r.nextID++
	u := &UserRecord{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    r.clock.Now().UTC().Truncate(time.Microsecond),
	}
	r.byName[username] = u
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepository) UpdatePasswordHash(_ context.Context, id int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byName {
		if u.ID == id {
			u.PasswordHash = passwordHash
			return nil
		}
	}
	return ErrUserNotFound
}

func (r *MemoryUserRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName), nil
}
