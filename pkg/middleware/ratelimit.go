package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/pms/pkg/httputil"
	"github.com/platinummonkey/pms/pkg/observability"
)

// RateLimitConfig is a request quota per caller
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
	// BurstSize is extra headroom above RequestsPerWindow; only the local
	// limiter honours it
	BurstSize int
}

// AdminRateLimitConfig limits permission administration to requestsPerMinute
// per caller, defaulting to 60
func AdminRateLimitConfig(requestsPerMinute int) *RateLimitConfig {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimitConfig{
		RequestsPerWindow: requestsPerMinute,
		WindowDuration:    time.Minute,
	}
}

// Decision is the outcome of charging one request against a caller's quota
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter charges requests against a per-key quota
type Limiter interface {
	Take(ctx context.Context, key string) (Decision, error)
}

// RateLimitMiddleware applies a Limiter per authenticated user, or per client
// address for anonymous callers
type RateLimitMiddleware struct {
	limiter  Limiter
	name     string
	failOpen bool
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// NewRateLimitMiddleware wraps limiter; name labels the rejection metric and logs
func NewRateLimitMiddleware(limiter Limiter, name string, metrics *observability.Metrics, logger *observability.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RateLimitMiddleware{
		limiter:  limiter,
		name:     name,
		failOpen: true,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetFailOpen chooses between passing requests through (true, the default)
// and answering 503 when the limiter backend errors
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler enforces the quota on next
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := m.limiter.Take(r.Context(), callerKey(r))
		if err != nil {
			m.logger.WithError(err).WithField("limiter", m.name).Warn("rate limiter unavailable")
			if !m.failOpen {
				httputil.WriteServiceUnavailable(w, "rate limiter unavailable")
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			m.metrics.ObserveRateLimitRejection(m.name)
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			h.Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerKey(r *http.Request) string {
	if id := GetAuthContext(r).UserID(); id != "" {
		return "user:" + id
	}
	return "ip:" + clientAddr(r)
}

// clientAddr prefers proxy headers over the socket peer
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
