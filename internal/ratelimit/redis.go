package ratelimit

import (
	"context"
	"time"
)

// WindowStore is the atomic sliding-window primitive, provided by redisclient
type WindowStore interface {
	SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time, error)
}

// RedisLimiter shares counters between replicas
type RedisLimiter struct {
	store WindowStore
	rules Rules
}

func NewRedisLimiter(store WindowStore, rules Rules) *RedisLimiter {
	return &RedisLimiter{store: store, rules: rules}
}

func (r *RedisLimiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	rule, ok := r.rules[class]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	allowed, remaining, resetAt, err := r.store.SlidingWindow(ctx, "ratelimit:"+windowKey(class, key), rule.Limit, rule.Window)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Limit: rule.Limit, Remaining: remaining, ResetAt: resetAt}, nil
}
