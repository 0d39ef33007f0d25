package permissions

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/observability"
)

// newTestResolver wires a resolver over an in-memory database
func newTestResolver(t *testing.T) (*Resolver, *Store, *TemplateStore) {
	t.Helper()
	store, db := newTestStore(t)
	seedProject(t, db, "P1", "P2")
	seedUser(t, db, "U1", "U2", "U3")
	assignMember(t, db, "P1", "U1", RoleContractor)
	assignMember(t, db, "P1", "U2", RoleClient)

	templates := NewTemplateStore(store, 0, 0)
	return NewResolver(store.Catalog(), templates, store, store), store, templates
}

func TestResolver_ContractorScenario(t *testing.T) {
	resolver, store, templates := newTestResolver(t)
	ctx := context.Background()

	_, err := templates.ReplaceTemplate(ctx, RoleContractor,
		decodeJSON(t, `{"WIR": {"raise": true, "approve": false}}`), "admin")
	require.NoError(t, err)
	_, err = store.UpsertProjectOverride(ctx, "P1", RoleContractor,
		decodeJSON(t, `{"WIR": {"approve": true}}`), "admin")
	require.NoError(t, err)
	_, err = store.UpsertUserOverride(ctx, "P1", "U1",
		decodeJSON(t, `{"WIR": {"raise": "deny"}}`), "admin")
	require.NoError(t, err)

	effective, err := resolver.Resolve(ctx, "P1", "U1", RoleContractor)
	require.NoError(t, err)

	assert.False(t, effective.Allowed(ModuleWIR, ActionRaise))
	assert.True(t, effective.Allowed(ModuleWIR, ActionApprove))
	assert.True(t, effective.Member)
	assert.Equal(t, RoleContractor, effective.Role)
}

func TestResolver_NoOverridesEqualsTemplate(t *testing.T) {
	resolver, _, templates := newTestResolver(t)
	ctx := context.Background()

	for _, role := range DefaultCatalog().Roles() {
		t.Run(string(role), func(t *testing.T) {
			tmpl, err := templates.GetTemplate(ctx, role)
			require.NoError(t, err)

			effective, err := resolver.Resolve(ctx, "P2", "U3", role)
			require.NoError(t, err)
			assert.Equal(t, tmpl.Permissions, effective.Permissions)
		})
	}
}

func TestResolver_ProjectOverrideWinsBothWays(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	// Client may view WIR by default but not raise
	_, err := store.UpsertProjectOverride(ctx, "P1", RoleClient,
		decodeJSON(t, `{"WIR": {"view": false, "raise": true}}`), "admin")
	require.NoError(t, err)

	effective, err := resolver.Resolve(ctx, "P1", "U2", RoleClient)
	require.NoError(t, err)
	assert.False(t, effective.Allowed(ModuleWIR, ActionView))
	assert.True(t, effective.Allowed(ModuleWIR, ActionRaise))
	// Untouched cells fall through to the template
	assert.True(t, effective.Allowed(ModuleDashboard, ActionView))
}

func TestResolver_UserDenyWins(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := store.UpsertProjectOverride(ctx, "P1", RoleContractor,
		decodeJSON(t, `{"WIR": {"raise": true}}`), "admin")
	require.NoError(t, err)
	_, err = store.UpsertUserOverride(ctx, "P1", "U1",
		decodeJSON(t, `{"WIR": {"raise": "deny", "view": "inherit"}}`), "admin")
	require.NoError(t, err)

	effective, err := resolver.Resolve(ctx, "P1", "U1", RoleContractor)
	require.NoError(t, err)
	assert.False(t, effective.Allowed(ModuleWIR, ActionRaise))
	assert.True(t, effective.Allowed(ModuleWIR, ActionView))
}

func TestResolver_GuardrailNeverForcedFalse(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := store.UpsertUserOverride(ctx, "P1", "U2",
		decodeJSON(t, `{"LTR": {"review": "deny", "approve": "deny"}}`), "admin")
	require.NoError(t, err)

	effective, err := resolver.Resolve(ctx, "P1", "U2", RoleClient)
	require.NoError(t, err)
	assert.True(t, effective.Allowed(ModuleLTR, ActionReview))
	assert.True(t, effective.Allowed(ModuleLTR, ActionApprove))
}

func TestResolver_ResetFallsThrough(t *testing.T) {
	resolver, store, _ := newTestResolver(t)
	ctx := context.Background()

	_, err := store.UpsertUserOverride(ctx, "P1", "U1", decodeJSON(t, `{"WIR": {"view": "deny"}}`), "admin")
	require.NoError(t, err)
	effective, err := resolver.Resolve(ctx, "P1", "U1", RoleContractor)
	require.NoError(t, err)
	assert.False(t, effective.Allowed(ModuleWIR, ActionView))

	require.NoError(t, store.ResetUserOverride(ctx, "P1", "U1"))
	effective, err = resolver.Resolve(ctx, "P1", "U1", RoleContractor)
	require.NoError(t, err)
	assert.True(t, effective.Allowed(ModuleWIR, ActionView))
}

func TestResolver_EmptyRoleIsDenyAll(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	effective, err := resolver.Resolve(context.Background(), "P1", "U1", "")
	require.NoError(t, err)
	assert.False(t, effective.Member)
	assert.Equal(t, DefaultCatalog().DenyAll(), effective.Permissions)
}

func TestResolver_MissingIdentifier(t *testing.T) {
	resolver, _, _ := newTestResolver(t)

	_, err := resolver.Resolve(context.Background(), "", "U1", RoleContractor)
	assert.ErrorIs(t, err, ErrMissingIdentifier)
	_, err = resolver.ResolveForMember(context.Background(), "P1", "")
	assert.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestResolver_ResolveForMember(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	resolver.SetMetrics(metrics)
	ctx := context.Background()

	effective, err := resolver.ResolveForMember(ctx, "P1", "U1")
	require.NoError(t, err)
	assert.True(t, effective.Member)
	assert.Equal(t, RoleContractor, effective.Role)
	assert.True(t, effective.Allowed(ModuleWIR, ActionRaise))

	outsider, err := resolver.ResolveForMember(ctx, "P1", "U3")
	require.NoError(t, err)
	assert.False(t, outsider.Member)
	assert.False(t, outsider.Allowed(ModuleWIR, ActionView))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionResolutionsTotal.WithLabelValues("resolved")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionResolutionsTotal.WithLabelValues("non_member")))
}

func TestResolver_Check(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  string
		check   PermissionCheck
		allowed bool
		reason  string
	}{
		{"granted", "U1", PermissionCheck{ModuleWIR, ActionRaise}, true, "granted"},
		{"denied", "U1", PermissionCheck{ModuleWIR, ActionApprove}, false, "denied"},
		{"non member", "U3", PermissionCheck{ModuleWIR, ActionView}, false, "not a project member"},
		{"unknown cell", "U1", PermissionCheck{"NCR", ActionView}, false, "unknown module or action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, _, err := resolver.Check(ctx, "P1", tt.userID, tt.check)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, result.Allowed)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestResolver_CheckMetricLabelsBounded(t *testing.T) {
	resolver, _, _ := newTestResolver(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	resolver.SetMetrics(metrics)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, _, err := resolver.Check(ctx, "P1", "U1", PermissionCheck{Module: Module(fmt.Sprintf("junk-%d", i)), Action: ActionView})
		require.NoError(t, err)
	}
	_, _, err := resolver.Check(ctx, "P1", "U1", PermissionCheck{Module: ModuleWIR, Action: "teleport"})
	require.NoError(t, err)
	_, _, err = resolver.Check(ctx, "P1", "U1", PermissionCheck{Module: ModuleWIR, Action: ActionRaise})
	require.NoError(t, err)

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.PermissionChecksTotal))
	assert.Equal(t, float64(51), testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("unknown", "unknown", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("WIR", "raise", "true")))
}

func TestResolver_StoreErrorFailsResolution(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	store := NewStore(db, DefaultCatalog(), testLogger())
	resolver := NewResolver(store.Catalog(), NewTemplateStore(store, 0, 0), store, store)

	driverErr := errors.New("db down")
	mock.ExpectQuery("FROM role_templates").WillReturnError(driverErr)
	mock.ExpectQuery("FROM project_role_overrides").WillReturnError(driverErr)
	mock.ExpectQuery("FROM user_permission_overrides").WillReturnError(driverErr)

	effective, err := resolver.Resolve(context.Background(), "P1", "U1", RoleContractor)
	assert.Nil(t, effective)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	mock.ExpectQuery("FROM project_assignments").WillReturnError(driverErr)
	_, err = resolver.ResolveForMember(context.Background(), "P1", "U1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMerge_PipelineOrder(t *testing.T) {
	c := DefaultCatalog()
	layers := &Layers{
		Template: &RoleTemplate{Permissions: Matrix{ModuleWIR: {ActionRaise: true}}},
		Project:  &ProjectOverride{Permissions: Matrix{ModuleWIR: {ActionRaise: true, ActionApprove: true}}},
		User:     &UserOverride{Permissions: UserMatrix{ModuleWIR: {ActionRaise: UserDeny}}},
	}

	effective := Merge(c, DefaultPipeline(), layers)
	assert.False(t, effective[ModuleWIR][ActionRaise])
	assert.True(t, effective[ModuleWIR][ActionApprove])

	// Running the user layer before the project layer breaks deny-wins
	reordered := Merge(c, []MergeStep{RoleTemplateStep, UserDenyStep, ProjectOverrideStep}, layers)
	assert.True(t, reordered[ModuleWIR][ActionRaise])

	names := []string{}
	for _, step := range DefaultPipeline() {
		names = append(names, step.Name)
	}
	assert.Equal(t, []string{"role-template", "project-override", "user-deny"}, names)
}

func TestMerge_NilLayers(t *testing.T) {
	c := DefaultCatalog()
	assert.Equal(t, c.DenyAll(), Merge(c, DefaultPipeline(), &Layers{}))
}

func TestResolver_WithFakeSources(t *testing.T) {
	c := DefaultCatalog()
	src := &fakeSources{
		template: &RoleTemplate{Permissions: c.Expand(Matrix{ModuleMIR: {ActionView: true}})},
		project:  &ProjectOverride{Permissions: Matrix{}},
		user:     &UserOverride{Permissions: UserMatrix{ModuleMIR: {ActionView: UserDeny}}},
		role:     RoleSupplier,
		member:   true,
	}
	resolver := NewResolver(c, src, src, src)

	effective, err := resolver.ResolveForMember(context.Background(), "P9", "U9")
	require.NoError(t, err)
	assert.False(t, effective.Allowed(ModuleMIR, ActionView))

	src.err = errors.New("boom")
	_, err = resolver.ResolveForMember(context.Background(), "P9", "U9")
	assert.Error(t, err)
}

func TestEffectivePermissions_AllowedNilSafe(t *testing.T) {
	var e *EffectivePermissions
	assert.False(t, e.Allowed(ModuleWIR, ActionView))
}
