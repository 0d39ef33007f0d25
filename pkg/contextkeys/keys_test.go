package contextkeys

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetUserID(ctx))
	_, ok := RequestStart(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "user-1")
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))

	now := time.Now()
	ctx = WithRequestStart(ctx, now)
	start, ok := RequestStart(ctx)
	assert.True(t, ok)
	assert.Equal(t, now, start)
}

func TestValue(t *testing.T) {
	ctx := WithAuth(context.Background(), "auth")

	v, ok := Value[string](ctx, AuthKey)
	assert.True(t, ok)
	assert.Equal(t, "auth", v)

	_, ok = Value[int](ctx, AuthKey)
	assert.False(t, ok, "wrong type")

	_, ok = Value[string](ctx, EffectivePermissionsKey)
	assert.False(t, ok, "missing key")
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "auth_context", AuthKey.String())
	assert.Equal(t, "effective_permissions", EffectivePermissionsKey.String())
	assert.Equal(t, "unknown", Key(0).String())
}
