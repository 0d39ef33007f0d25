package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter is a fixed-window counter in Redis, shared by every
// replica pointing at the same instance
type RedisRateLimiter struct {
	client *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewRedisRateLimiter creates a RedisRateLimiter; keys are stored under prefix
func NewRedisRateLimiter(client *redis.Client, config *RateLimitConfig, prefix string) *RedisRateLimiter {
	if config == nil {
		config = AdminRateLimitConfig(0)
	}
	if prefix == "" {
		prefix = "pms:ratelimit"
	}
	return &RedisRateLimiter{client: client, config: config, prefix: prefix}
}

// Take increments the caller's counter for the current window
func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + ":" + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	window := ttl.Val()
	if window < 0 {
		// first hit of a new window
		if err := l.client.PExpire(ctx, k, l.config.WindowDuration).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit window: %w", err)
		}
		window = l.config.WindowDuration
	}

	limit := l.config.RequestsPerWindow
	used := int(incr.Val())
	d := Decision{Limit: limit, Allowed: used <= limit}
	if used < limit {
		d.Remaining = limit - used
	}
	if !d.Allowed {
		d.RetryAfter = window
	}
	return d, nil
}
