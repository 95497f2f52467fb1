package core

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// Backends holds the stores selected by USER_STORE and SESSION_STORE and the
// connections behind them.
type Backends struct {
	DB       *pgxpool.Pool // nil unless a postgres store is configured
	Redis    *redis.Client // nil unless the redis session store is configured
	Users    UserRepository
	Sessions SessionStore
	Pingers  map[string]Pinger
}

// OpenBackends connects what cfg needs and builds the stores.
func OpenBackends(ctx context.Context, cfg Config, clock clockwork.Clock) (*Backends, error) {
	b := &Backends{Pingers: map[string]Pinger{}}

	if cfg.UsesPostgres() {
		db, err := Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
		b.Pingers["postgres"] = db.Ping
	}

	switch cfg.UserStore {
	case StorePostgres:
		b.Users = NewPgUserRepository(b.DB)
	case StoreMemory:
		b.Users = NewMemoryUserRepository(clock)
	default:
		b.Close()
		return nil, oops.Code("CONFIG_INVALID").With("user_store", cfg.UserStore).Errorf("unsupported user store")
	}

	switch cfg.SessionStore {
	case StoreMemory:
		b.Sessions = NewMemorySessionStore()
	case StorePostgres:
		b.Sessions = NewPgSessionStore(b.DB)
	case StoreRedis:
		client, err := NewRedisClient(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, oops.Code("REDIS_CONNECT_FAILED").Wrap(err)
		}
		b.Redis = client
		b.Sessions = NewRedisSessionStore(client)
		b.Pingers["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	default:
		b.Close()
		return nil, oops.Code("CONFIG_INVALID").With("session_store", cfg.SessionStore).Errorf("unsupported session store")
	}
	return b, nil
}

// Close releases the connections opened by OpenBackends.
func (b *Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.DB != nil {
		b.DB.Close()
	}
}
