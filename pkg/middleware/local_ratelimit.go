package middleware

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const maxTrackedCallers = 10000

// LocalRateLimiter is an in-process token bucket per key, used when Redis is
// not configured. Idle buckets expire after two windows.
type LocalRateLimiter struct {
	config  *RateLimitConfig
	every   rate.Limit
	burst   int
	mu      sync.Mutex
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewLocalRateLimiter creates a LocalRateLimiter for config
func NewLocalRateLimiter(config *RateLimitConfig) *LocalRateLimiter {
	if config == nil {
		config = AdminRateLimitConfig(0)
	}
	return &LocalRateLimiter{
		config:  config,
		every:   rate.Every(config.WindowDuration / time.Duration(config.RequestsPerWindow)),
		burst:   config.RequestsPerWindow + config.BurstSize,
		buckets: lru.NewLRU[string, *rate.Limiter](maxTrackedCallers, nil, 2*config.WindowDuration),
	}
}

func (l *LocalRateLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.buckets.Add(key, b)
	}
	return b
}

// Take consumes one token for key. It never returns an error.
func (l *LocalRateLimiter) Take(_ context.Context, key string) (Decision, error) {
	b := l.bucket(key)
	now := time.Now()
	d := Decision{Limit: l.config.RequestsPerWindow, Allowed: b.AllowN(now, 1)}

	tokens := b.TokensAt(now)
	if tokens > 0 {
		d.Remaining = int(tokens)
	}
	if !d.Allowed {
		d.RetryAfter = time.Duration((1 - tokens) / float64(l.every) * float64(time.Second))
	}
	return d, nil
}

// Tracked reports how many callers currently hold a bucket
func (l *LocalRateLimiter) Tracked() int {
	return l.buckets.Len()
}
