package permissions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/observability"
)

func TestManager(t *testing.T) {
	db := setupTestDB(t)
	seedProject(t, db, "P1")
	seedUser(t, db, "U1")
	assignMember(t, db, "P1", "U1", RoleContractor)

	config := DefaultConfig()
	config.RunMigrations = false

	manager, err := NewManager(db, &recordingAudit{}, testLogger(), config)
	require.NoError(t, err)
	manager.SetMetrics(observability.NewMetrics(prometheus.NewRegistry()))

	ctx := context.Background()
	require.NoError(t, manager.Initialize(ctx))

	assert.Same(t, manager.GetCatalog(), manager.GetStore().Catalog())
	assert.Same(t, manager.GetCatalog(), manager.GetResolver().Catalog())
	assert.NotNil(t, manager.GetTemplates())
	assert.NotNil(t, manager.GetHandlers())
	assert.NotNil(t, manager.GetMiddleware())

	allowed, err := manager.CheckPermission(ctx, "P1", "U1", ModuleWIR, ActionRaise)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = manager.CheckPermission(ctx, "P1", "U1", ModuleWIR, ActionApprove)
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = manager.GetStore().UpsertProjectOverride(ctx, "P1", RoleContractor,
		map[string]any{"WIR": map[string]any{"approve": true}}, "admin")
	require.NoError(t, err)

	allowed, err = manager.CheckPermission(ctx, "P1", "U1", ModuleWIR, ActionApprove)
	require.NoError(t, err)
	assert.True(t, allowed)

	stats, err := manager.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(manager.GetCatalog().Roles())), stats.StoredTemplates)
	assert.Equal(t, int64(1), stats.ProjectOverrides)
	assert.Zero(t, stats.UserOverrides)
	assert.Positive(t, stats.CacheHits+stats.CacheMisses)

	router := mux.NewRouter()
	router.Use(testAuth)
	manager.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/projects/P1/permissions/me", nil)
	req.Header.Set("X-Test-User", "U1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewManager_CatalogFile(t *testing.T) {
	db := setupTestDB(t)

	t.Run("missing file", func(t *testing.T) {
		config := DefaultConfig()
		config.CatalogPath = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := NewManager(db, nil, nil, config)
		assert.Error(t, err)
	})

	t.Run("custom catalog", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
modules: [NCR]
actions: [view, raise]
roles:
  - name: Inspector
    display_name: Inspector
    permissions:
      NCR: {view: true}
`), 0o600))

		config := DefaultConfig()
		config.CatalogPath = path
		config.RunMigrations = false
		manager, err := NewManager(db, nil, nil, config)
		require.NoError(t, err)
		require.NoError(t, manager.Initialize(context.Background()))

		assert.Equal(t, []Role{"Inspector"}, manager.GetCatalog().Roles())
		tmpl, err := manager.GetTemplates().GetTemplate(context.Background(), "Inspector")
		require.NoError(t, err)
		assert.True(t, tmpl.Permissions["NCR"]["view"])
	})
}
