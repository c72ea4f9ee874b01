package cache

import (
	"context"
	"time"

	"social-publisher/domain/repository"
)

// ResponseCache stores parsed upstream response bodies for idempotent read
// calls. Publish paths never touch it.
type ResponseCache struct {
	store repository.IKVStore
}

func NewResponseCache(store repository.IKVStore) *ResponseCache {
	return &ResponseCache{store: store}
}

func (c *ResponseCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return []byte(v), true, nil
}

func (c *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.store.Set(ctx, key, string(value), ttl)
}
