package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/pms/pkg/audit"
	"github.com/platinummonkey/pms/pkg/auth"
	"github.com/platinummonkey/pms/pkg/config"
	"github.com/platinummonkey/pms/pkg/httputil"
	"github.com/platinummonkey/pms/pkg/middleware"
	"github.com/platinummonkey/pms/pkg/observability"
	"github.com/platinummonkey/pms/pkg/permissions"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("Redis unavailable at startup, admin rate limiting will fail open")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// Audit trail: structured log lines plus the audit_events table
	dbAudit, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}
	auditLogger := audit.NewMultiLogger(audit.NewLogrusLogger(logger), dbAudit)

	var retention *audit.RetentionJob
	if cfg.Audit.Retention > 0 {
		retention, err = audit.NewRetentionJob(dbAudit, cfg.Audit.Retention, cfg.Audit.PurgeSchedule, logger)
		if err != nil {
			return fmt.Errorf("failed to create audit retention job: %w", err)
		}
	}

	manager, err := permissions.NewManager(db, auditLogger, logger, permissions.Config{
		CatalogPath:       cfg.Permissions.CatalogPath,
		TemplateCacheTTL:  cfg.Permissions.TemplateCacheTTL,
		TemplateCacheSize: cfg.Permissions.TemplateCacheSize,
		RunMigrations:     cfg.Database.RunMigrations,
		SeedTemplates:     cfg.Permissions.SeedTemplates,
	})
	if err != nil {
		return fmt.Errorf("failed to create permission manager: %w", err)
	}
	if err := manager.Initialize(ctx); err != nil {
		return err
	}
	manager.SetMetrics(metrics)
	if retention != nil {
		retention.Start()
	}

	handlers := manager.GetHandlers()
	handlers.SetAuditSearcher(dbAudit)

	handlers.UseAdmin(adminRateLimiter(cfg, redisClient, metrics, logger).Handler)

	tokenManager, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to create token manager: %w", err)
	}

	router := mux.NewRouter()
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	router.Use(middleware.NewAuthMiddleware(tokenManager, false).Handler)
	manager.RegisterRoutes(router)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "pms")
	}

	apiServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics on a separate port
	healthChecker := observability.NewHealthChecker(db, redisClient)
	healthChecker.SetVersion(version)
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, healthChecker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return db.Close()
	})
	if retention != nil {
		shutdown.RegisterShutdownFunc(retention.Stop)
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("Starting HTTP server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serveErr <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}(srv)
	}

	logger.WithFields(map[string]interface{}{
		"version":     version,
		"addr":        apiServer.Addr,
		"health_addr": healthServer.Addr,
		"redis":       redisClient != nil,
	}).Info("Permission service started")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("HTTP server stopped unexpectedly")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// adminRateLimiter shares limits across replicas through Redis when it is
// configured and falls back to a process-local limiter otherwise
func adminRateLimiter(cfg *config.Config, redisClient *redis.Client, metrics *observability.Metrics, logger *observability.Logger) *middleware.RateLimitMiddleware {
	limits := middleware.AdminRateLimitConfig(cfg.Permissions.AdminRateLimit)

	var limiter middleware.Limiter = middleware.NewLocalRateLimiter(limits)
	if redisClient != nil {
		limiter = middleware.NewRedisRateLimiter(redisClient, limits, "pms:ratelimit:admin")
	}
	return middleware.NewRateLimitMiddleware(limiter, "admin", metrics, logger)
}
