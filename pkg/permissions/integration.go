package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pms/pkg/audit"
	"github.com/platinummonkey/pms/pkg/observability"
)

// Config holds permission subsystem configuration
type Config struct {
	// CatalogPath points at a YAML catalog; empty uses the built-in catalog
	CatalogPath string

	// TemplateCacheTTL is how long resolved role templates are cached per
	// process. Zero, the default, reads the stored row on every resolution.
	TemplateCacheTTL time.Duration

	TemplateCacheSize int

	// RunMigrations applies schema migrations during Initialize
	RunMigrations bool

	// SeedTemplates writes catalog default templates for roles without a row
	SeedTemplates bool
}

// DefaultConfig returns default permission configuration
func DefaultConfig() Config {
	return Config{
		TemplateCacheSize: 64,
		RunMigrations:     true,
		SeedTemplates:     true,
	}
}

// Manager wires the catalog, stores, resolver, handlers and middleware
type Manager struct {
	db         *sql.DB
	catalog    *Catalog
	store      *Store
	templates  *TemplateStore
	resolver   *Resolver
	handlers   *Handlers
	middleware *PermissionMiddleware
	logger     *observability.Logger
	config     Config
}

// NewManager creates a new permission manager
func NewManager(db *sql.DB, auditLogger audit.Logger, logger *observability.Logger, config Config) (*Manager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	catalog, err := LoadCatalog(config.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	store := NewStore(db, catalog, logger)
	templates := NewTemplateStore(store, config.TemplateCacheSize, config.TemplateCacheTTL)
	resolver := NewResolver(catalog, templates, store, store)
	resolver.SetLogger(logger)

	return &Manager{
		db:         db,
		catalog:    catalog,
		store:      store,
		templates:  templates,
		resolver:   resolver,
		handlers:   NewHandlers(store, templates, resolver, auditLogger),
		middleware: NewPermissionMiddleware(resolver, auditLogger, logger),
		logger:     logger,
		config:     config,
	}, nil
}

// SetMetrics attaches Prometheus metrics to every component
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.templates.SetMetrics(metrics)
	m.resolver.SetMetrics(metrics)
	m.handlers.SetMetrics(metrics)
}

// Initialize runs migrations and seeds default templates
func (m *Manager) Initialize(ctx context.Context) error {
	if m.config.RunMigrations {
		if err := RunMigrations(ctx, m.db, m.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	if m.config.SeedTemplates {
		seeded, err := InitializeRoleTemplates(ctx, m.store)
		if err != nil {
			return fmt.Errorf("failed to initialize role templates: %w", err)
		}
		m.logger.WithField("seeded", seeded).Info("Role templates initialized")
	}

	return nil
}

// RegisterRoutes registers permission routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// GetCatalog returns the catalog
func (m *Manager) GetCatalog() *Catalog {
	return m.catalog
}

// GetStore returns the permission store
func (m *Manager) GetStore() *Store {
	return m.store
}

// GetTemplates returns the role template store
func (m *Manager) GetTemplates() *TemplateStore {
	return m.templates
}

// GetResolver returns the resolver
func (m *Manager) GetResolver() *Resolver {
	return m.resolver
}

// GetHandlers returns the HTTP handlers
func (m *Manager) GetHandlers() *Handlers {
	return m.handlers
}

// GetMiddleware returns the permission middleware
func (m *Manager) GetMiddleware() *PermissionMiddleware {
	return m.middleware
}

// CheckPermission is a convenience method for checking a single cell
func (m *Manager) CheckPermission(ctx context.Context, projectID, userID string, module Module, action Action) (bool, error) {
	result, _, err := m.resolver.Check(ctx, projectID, userID, PermissionCheck{Module: module, Action: action})
	if err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// Stats summarizes stored permission data
type Stats struct {
	StoredTemplates  int64 `json:"stored_templates"`
	ProjectOverrides int64 `json:"project_overrides"`
	UserOverrides    int64 `json:"user_overrides"`
	CacheHits        int64 `json:"cache_hits"`
	CacheMisses      int64 `json:"cache_misses"`
}

// GetStats returns permission statistics
func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_templates").Scan(&stats.StoredTemplates); err != nil {
		return nil, unavailable("count role templates", err)
	}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM project_role_overrides").Scan(&stats.ProjectOverrides); err != nil {
		return nil, unavailable("count project overrides", err)
	}
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM user_permission_overrides").Scan(&stats.UserOverrides); err != nil {
		return nil, unavailable("count user overrides", err)
	}
	stats.CacheHits, stats.CacheMisses = m.templates.CacheStats()

	return stats, nil
}
