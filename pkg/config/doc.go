// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	PMS_HOST="0.0.0.0"
//	PMS_PORT="8080"
//	PMS_HEALTH_PORT="9090"
//	PMS_READ_TIMEOUT="15s"
//	PMS_WRITE_TIMEOUT="15s"
//	PMS_CORS_ORIGINS="https://app.example.com"
//
// Database and cache settings:
//
//	PMS_DATABASE_URL="postgres://localhost/pms?sslmode=disable"
//	PMS_DATABASE_MAX_OPEN_CONNS="25"
//	PMS_REDIS_URL="redis://localhost:6379/0"  # optional
//
// Auth settings:
//
//	PMS_JWT_SECRET="..."  # at least 16 characters
//	PMS_JWT_ISSUER="pms"
//	PMS_JWT_TTL="1h"
//
// Permission settings:
//
//	PMS_CATALOG_PATH="/etc/pms/catalog.yaml"  # empty uses the built-in catalog
//	PMS_TEMPLATE_CACHE_TTL="30s"              # 0 disables the template cache
//	PMS_ADMIN_RATE_LIMIT="60"                 # admin writes per minute
//
// Observability settings:
//
//	PMS_LOG_LEVEL="info"  # debug, info, warn, error
//	PMS_METRICS_ENABLED="true"
//	PMS_OTEL_ENABLED="true"
//	PMS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s\n", cfg.Server.Addr())
package config
