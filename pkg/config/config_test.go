package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/observability"
)

func setRequired(t *testing.T) {
	t.Setenv("PMS_DATABASE_URL", "postgres://localhost/pms?sslmode=disable")
	t.Setenv("PMS_JWT_SECRET", "0123456789abcdef")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, "pms", cfg.Auth.JWTIssuer)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Zero(t, cfg.Permissions.TemplateCacheTTL)
	assert.Equal(t, 60, cfg.Permissions.AdminRateLimit)
	assert.True(t, cfg.Permissions.SeedTemplates)
	assert.True(t, cfg.Database.RunMigrations)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.OTelEnabled)
	assert.Equal(t, 90*24*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, "0 3 * * *", cfg.Audit.PurgeSchedule)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PMS_PORT", "8181")
	t.Setenv("PMS_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("PMS_TEMPLATE_CACHE_TTL", "2m")
	t.Setenv("PMS_ADMIN_RATE_LIMIT", "5")
	t.Setenv("PMS_LOG_LEVEL", "debug")
	t.Setenv("PMS_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("PMS_SEED_TEMPLATES", "false")
	t.Setenv("PMS_CATALOG_PATH", "/etc/pms/catalog.yaml")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2*time.Minute, cfg.Permissions.TemplateCacheTTL)
	assert.Equal(t, 5, cfg.Permissions.AdminRateLimit)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.False(t, cfg.Permissions.SeedTemplates)
	assert.Equal(t, "/etc/pms/catalog.yaml", cfg.Permissions.CatalogPath)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"PMS_DATABASE_URL": "", "PMS_JWT_SECRET": "0123456789abcdef"}},
		{"missing secret", map[string]string{"PMS_DATABASE_URL": "postgres://x", "PMS_JWT_SECRET": ""}},
		{"short secret", map[string]string{"PMS_DATABASE_URL": "postgres://x", "PMS_JWT_SECRET": "short"}},
		{"same ports", map[string]string{"PMS_DATABASE_URL": "postgres://x", "PMS_JWT_SECRET": "0123456789abcdef", "PMS_PORT": "9090"}},
		{"bad rate limit", map[string]string{"PMS_DATABASE_URL": "postgres://x", "PMS_JWT_SECRET": "0123456789abcdef", "PMS_ADMIN_RATE_LIMIT": "0"}},
		{"negative retention", map[string]string{"PMS_DATABASE_URL": "postgres://x", "PMS_JWT_SECRET": "0123456789abcdef", "PMS_AUDIT_RETENTION": "-1h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, parseLogLevel("DEBUG"))
	assert.Equal(t, observability.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, observability.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, parseLogLevel("nonsense"))
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PMS_TEST_INT", "abc")
	assert.Equal(t, 7, getEnvInt("PMS_TEST_INT", 7))

	t.Setenv("PMS_TEST_BOOL", "1")
	assert.True(t, getEnvBool("PMS_TEST_BOOL", false))

	t.Setenv("PMS_TEST_DURATION", "bogus")
	assert.Equal(t, time.Second, getEnvDuration("PMS_TEST_DURATION", time.Second))

	assert.Equal(t, []string{"x"}, getEnvList("PMS_TEST_UNSET_LIST", []string{"x"}))
}
