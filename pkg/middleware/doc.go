// Package middleware provides HTTP middleware for authentication, admin
// gating and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware validates "Authorization: Bearer <jwt>" and stores an
// *auth.AuthContext in the request context:
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, false)
//	router.Use(authMW.Handler)
//
// RequireAdmin rejects callers without the is_admin claim:
//
//	admin.Use(middleware.RequireAdmin)
//
// RateLimitMiddleware limits requests per user (or client IP) through a
// Limiter. RedisRateLimiter shares counters through Redis; LocalRateLimiter
// is the in-process fallback:
//
//	limiter := middleware.NewRedisRateLimiter(redisClient, middleware.AdminRateLimitConfig(60), "pms:ratelimit:admin")
//	admin.Use(middleware.NewRateLimitMiddleware(limiter, "admin", metrics, logger).Handler)
//
// Limiter errors fail open by default; SetFailOpen(false) turns them into 503.
package middleware
