package cache

import (
	"context"
	"fmt"
	"time"

	"social-publisher/infrastructure/logger"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements repository.IKVStore on a shared redis instance so
// rate windows and cached responses are consistent across replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings; an unreachable redis is surfaced to the
// caller so it can fall back to the in-memory store.
func NewRedisStore(ctx context.Context, addr, username, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.GetLogger().WithField("addr", addr).Info("Redis client initialized successfully")
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Incr increments the counter, attaching the window TTL only when the key was
// just created. Expiry of the key is what resets the window.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}
