package ratelimit

import (
	"context"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/infrastructure/cache"
	"social-publisher/infrastructure/configuration"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterFixedWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStoreWithNow(func() time.Time { return now })
	limiter := NewLimiter(store, configuration.RateLimit{Enabled: true, Limit: 2, WindowSeconds: 60})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.CanMakeRequest(ctx, model.PlatformTikTok)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, limiter.Increment(ctx, model.PlatformTikTok))
	}

	ok, err := limiter.CanMakeRequest(ctx, model.PlatformTikTok)
	require.NoError(t, err)
	assert.False(t, ok, "window full")

	// Other platforms keep their own bucket.
	ok, err = limiter.CanMakeRequest(ctx, model.PlatformThreads)
	require.NoError(t, err)
	assert.True(t, ok)

	// TTL expiry is the reset mechanism.
	now = now.Add(61 * time.Second)
	ok, err = limiter.CanMakeRequest(ctx, model.PlatformTikTok)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(cache.NewMemoryStore(), configuration.RateLimit{Enabled: false, Limit: 1, WindowSeconds: 60})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ok, err := limiter.CanMakeRequest(ctx, model.PlatformYouTube)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, limiter.Increment(ctx, model.PlatformYouTube))
	}
}
