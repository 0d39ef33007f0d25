package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/pms/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	Permissions   PermissionsConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	CORSOrigins     []string

	// Health/metrics server (separate port for k8s liveness and readiness checks)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	RunMigrations   bool
}

// RedisConfig holds Redis settings. An empty URL disables Redis and the
// admin rate limiter falls back to an in-process limiter.
type RedisConfig struct {
	URL string
}

// AuthConfig holds access token settings
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration
}

// PermissionsConfig holds permission resolution settings
type PermissionsConfig struct {
	CatalogPath       string
	TemplateCacheTTL  time.Duration
	TemplateCacheSize int
	AdminRateLimit    int
	SeedTemplates     bool
}

// AuditConfig holds audit trail retention settings. A zero Retention keeps
// events forever.
type AuditConfig struct {
	Retention     time.Duration
	PurgeSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("PMS_HOST", "0.0.0.0"),
			Port:            getEnv("PMS_PORT", "8080"),
			ReadTimeout:     getEnvDuration("PMS_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("PMS_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("PMS_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("PMS_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    getEnvInt64("PMS_MAX_BODY_BYTES", 1<<20),
			CORSOrigins:     getEnvList("PMS_CORS_ORIGINS", nil),
			HealthPort:      getEnv("PMS_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("PMS_DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("PMS_DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("PMS_DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("PMS_DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			RunMigrations:   getEnvBool("PMS_RUN_MIGRATIONS", true),
		},
		Redis: RedisConfig{
			URL: getEnv("PMS_REDIS_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("PMS_JWT_SECRET", ""),
			JWTIssuer: getEnv("PMS_JWT_ISSUER", "pms"),
			TokenTTL:  getEnvDuration("PMS_JWT_TTL", time.Hour),
		},
		Permissions: PermissionsConfig{
			CatalogPath:       getEnv("PMS_CATALOG_PATH", ""),
			TemplateCacheTTL:  getEnvDuration("PMS_TEMPLATE_CACHE_TTL", 0),
			TemplateCacheSize: getEnvInt("PMS_TEMPLATE_CACHE_SIZE", 64),
			AdminRateLimit:    getEnvInt("PMS_ADMIN_RATE_LIMIT", 60),
			SeedTemplates:     getEnvBool("PMS_SEED_TEMPLATES", true),
		},
		Audit: AuditConfig{
			Retention:     getEnvDuration("PMS_AUDIT_RETENTION", 90*24*time.Hour),
			PurgeSchedule: getEnv("PMS_AUDIT_PURGE_SCHEDULE", "0 3 * * *"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("PMS_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("PMS_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("PMS_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("PMS_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("PMS_OTEL_SERVICE_NAME", "pms-permissions"),
			OTelServiceVersion: getEnv("PMS_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("PMS_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required (PMS_DATABASE_URL)")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (PMS_JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("JWT secret must be at least 16 characters")
	}

	if c.Permissions.AdminRateLimit <= 0 {
		return fmt.Errorf("admin rate limit must be positive")
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}
	if c.Audit.Retention > 0 && c.Audit.PurgeSchedule == "" {
		return fmt.Errorf("audit purge schedule is required when retention is set")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
