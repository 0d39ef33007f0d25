package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/auth"
	"github.com/platinummonkey/pms/pkg/observability"
)

func TestLocalRateLimiter_Take(t *testing.T) {
	limiter := NewLocalRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Hour,
		BurstSize:         2,
	})
	ctx := context.Background()

	allowed := 0
	var last Decision
	for i := 0; i < 20; i++ {
		d, err := limiter.Take(ctx, "user:u1")
		require.NoError(t, err)
		if d.Allowed {
			allowed++
		}
		last = d
	}
	assert.Equal(t, 12, allowed)
	assert.False(t, last.Allowed)
	assert.Equal(t, 10, last.Limit)
	assert.Equal(t, 0, last.Remaining)
	assert.Greater(t, last.RetryAfter, 5*time.Minute)

	d, err := limiter.Take(ctx, "user:u2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 11, d.Remaining)
	assert.Equal(t, 2, limiter.Tracked())
}

func TestLocalRateLimiter_IdleBucketsExpire(t *testing.T) {
	limiter := NewLocalRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 5 * time.Millisecond})
	_, err := limiter.Take(context.Background(), "k")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return limiter.Tracked() == 0 }, time.Second, 5*time.Millisecond)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisRateLimiter_Take(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewRedisRateLimiter(client, AdminRateLimitConfig(3), "test")
	ctx := context.Background()

	for i := 2; i >= 0; i-- {
		d, err := limiter.Take(ctx, "user:u1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Remaining)
	}
	d, err := limiter.Take(ctx, "user:u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.True(t, mr.Exists("test:user:u1"))

	mr.FastForward(2 * time.Minute)
	d, err = limiter.Take(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRedisRateLimiter_Unavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisRateLimiter(client, nil, "").Take(context.Background(), "user:u1")
	assert.Error(t, err)
}

func TestRateLimitMiddleware_Distributed(t *testing.T) {
	_, client := newRedis(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	limiter := NewRedisRateLimiter(client, AdminRateLimitConfig(2), "pms:ratelimit:admin")
	mw := NewRateLimitMiddleware(limiter, "admin", metrics, nil)
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func() *httptest.ResponseRecorder {
		req := withAuth(httptest.NewRequest("PUT", "/admin/templates/PMC", nil), &auth.AuthContext{User: &auth.User{ID: "admin-1", IsAdmin: true}})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := do()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusOK, do().Code)

	rec = do()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitRejectionsTotal.WithLabelValues("admin")))
}

type failingLimiter struct{}

func (failingLimiter) Take(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestRateLimitMiddleware_LimiterFailure(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := NewRateLimitMiddleware(failingLimiter{}, "admin", nil, nil)

	rec := httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mw.SetFailOpen(false)
	rec = httptest.NewRecorder()
	mw.Handler(next).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1", callerKey(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "ip:10.0.0.2", callerKey(req))

	req.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "ip:10.0.0.3", callerKey(req))

	req = withAuth(req, &auth.AuthContext{User: &auth.User{ID: "u-7"}})
	assert.Equal(t, "user:u-7", callerKey(req))
}
