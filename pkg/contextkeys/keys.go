// Package contextkeys defines every request context key in one place so
// producers and consumers agree on names and value types.
//
//	ctx = contextkeys.WithAuth(ctx, authCtx)
//	authCtx, ok := contextkeys.Value[*auth.AuthContext](ctx, contextkeys.AuthKey)
package contextkeys

import (
	"context"
	"time"
)

// Key identifies a request scoped value
type Key int

const (
	// AuthKey holds *auth.AuthContext, set by middleware.AuthMiddleware
	AuthKey Key = iota + 1

	// EffectivePermissionsKey holds *permissions.EffectivePermissions, set by
	// permissions.PermissionMiddleware once a route guard has passed
	EffectivePermissionsKey

	// RequestIDKey holds the request ID string
	RequestIDKey

	// UserIDKey holds the authenticated user ID string
	UserIDKey

	// LoggerKey holds *observability.Logger
	LoggerKey

	// RequestStartKey holds the time.Time the request entered the server
	RequestStartKey
)

var keyNames = map[Key]string{
	AuthKey:                 "auth_context",
	EffectivePermissionsKey: "effective_permissions",
	RequestIDKey:            "request_id",
	UserIDKey:               "user_id",
	LoggerKey:               "logger",
	RequestStartKey:         "request_start",
}

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return "unknown"
}

// Value returns the value stored under key if it has type T
func Value[T any](ctx context.Context, key Key) (T, bool) {
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithAuth stores the caller's authentication context
func WithAuth(ctx context.Context, authCtx interface{}) context.Context {
	return context.WithValue(ctx, AuthKey, authCtx)
}

// WithEffectivePermissions stores a resolved permission matrix
func WithEffectivePermissions(ctx context.Context, perms interface{}) context.Context {
	return context.WithValue(ctx, EffectivePermissionsKey, perms)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStart records when the request entered the server
func WithRequestStart(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartKey, start)
}

// GetRequestID returns the request ID or ""
func GetRequestID(ctx context.Context) string {
	id, _ := Value[string](ctx, RequestIDKey)
	return id
}

// GetUserID returns the authenticated user ID or ""
func GetUserID(ctx context.Context) string {
	id, _ := Value[string](ctx, UserIDKey)
	return id
}

// RequestStart returns when the request entered the server
func RequestStart(ctx context.Context) (time.Time, bool) {
	return Value[time.Time](ctx, RequestStartKey)
}
