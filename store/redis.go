package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/peerwallet-project/walletbridge/types"
)

// redisHashKey is the single hash holding all session projections,
// field = session key URI, value = JSON projection.
const redisHashKey = "walletbridge:sessions"

// RedisStore is a Redis-backed SessionStore.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client; used by tests.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// LoadAll returns every persisted session.
func (r *RedisStore) LoadAll(ctx context.Context) ([]types.PersistedSession, error) {
	values, err := r.client.HGetAll(ctx, redisHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}

	out := make([]types.PersistedSession, 0, len(values))
	for field, raw := range values {
		var s types.PersistedSession
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("parse session %s: %w", field, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// Save writes one session projection.
func (r *RedisStore) Save(ctx context.Context, s types.PersistedSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.HSet(ctx, redisHashKey, s.Key.String(), data).Err(); err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

// Remove deletes the projection for a key.
func (r *RedisStore) Remove(ctx context.Context, key types.SessionKey) error {
	if err := r.client.HDel(ctx, redisHashKey, key.String()).Err(); err != nil {
		return fmt.Errorf("redis remove: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

var _ SessionStore = (*RedisStore)(nil)
