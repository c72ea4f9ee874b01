package repository

import (
	"context"
	"io"
	"time"

	"social-publisher/domain/model"
)

// IStorage resolves video and thumbnail paths to seekable byte streams.
// Implementations signal a missing file with storage.ErrFileNotFound so the
// caller can distinguish it from I/O errors.
type IStorage interface {
	Open(path string) (io.ReadSeekCloser, int64, error)
}

// IClock abstracts time so polling loops are testable without real delays.
// Sleep returns early with the context error when ctx is cancelled.
type IClock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IRateLimiter gates outbound calls per platform with a fixed window.
// CanMakeRequest never resets the window; counter expiry is the reset.
type IRateLimiter interface {
	CanMakeRequest(ctx context.Context, platform model.Platform) (bool, error)
	Increment(ctx context.Context, platform model.Platform) error
}

// IResponseCache is the optional short-TTL cache for idempotent reads.
type IResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// IKVStore is the minimal key/value surface backing the rate limiter and the
// response cache. Incr creates the key with ttl on first increment and leaves
// the existing expiry untouched afterwards.
type IKVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
