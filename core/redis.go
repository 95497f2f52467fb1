package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// sessionKeyPrefix namespaces session keys in a shared Redis.
const sessionKeyPrefix = "demobank:session:"

// RedisClientRaw exposes the subset of go-redis used by the session store.
type RedisClientRaw interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// RedisSessionStore implements SessionStore on Redis strings with native TTL,
// so expired sessions disappear without a reaper.
type RedisSessionStore struct {
	client RedisClientRaw
}

func NewRedisSessionStore(client RedisClientRaw) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) Put(ctx context.Context, sess *Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+sess.TokenHash, payload, ttl).Err(); err != nil {
		return oops.Code("SESSION_PUT_FAILED").With("session_id", sess.ID.String()).Wrap(err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, tokenHash string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKeyPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").Wrap(err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, sessionKeyPrefix+tokenHash).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").Wrap(err)
	}
	return nil
}
