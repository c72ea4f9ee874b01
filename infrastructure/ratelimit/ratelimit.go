package ratelimit

import (
	"context"
	"fmt"
	"strconv"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
)

// Limiter is a fixed-window counter keyed by platform. All accounts on one
// platform share one bucket. CanMakeRequest only reads the counter; the TTL
// on the counter key is the reset mechanism, there is no manual reset.
type Limiter struct {
	store   repository.IKVStore
	enabled bool
	limit   int64
	window  configuration.RateLimit
}

func NewLimiter(store repository.IKVStore, cfg configuration.RateLimit) *Limiter {
	return &Limiter{
		store:   store,
		enabled: cfg.Enabled,
		limit:   int64(cfg.Limit),
		window:  cfg,
	}
}

func (l *Limiter) key(platform model.Platform) string {
	return fmt.Sprintf("ratelimit:%s", platform)
}

func (l *Limiter) CanMakeRequest(ctx context.Context, platform model.Platform) (bool, error) {
	if !l.enabled {
		return true, nil
	}
	v, ok, err := l.store.Get(ctx, l.key(platform))
	if err != nil {
		return false, fmt.Errorf("rate window read: %w", err)
	}
	if !ok {
		return true, nil
	}
	count, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		count = 0
	}
	return count < l.limit, nil
}

func (l *Limiter) Increment(ctx context.Context, platform model.Platform) error {
	if !l.enabled {
		return nil
	}
	if _, err := l.store.Incr(ctx, l.key(platform), l.window.Window()); err != nil {
		return fmt.Errorf("rate window increment: %w", err)
	}
	return nil
}
