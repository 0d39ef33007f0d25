package permissions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/audit"
)

// recordingAudit keeps logged events in memory
type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error { return nil }

func (r *recordingAudit) Events() []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audit.AuditEvent(nil), r.events...)
}

func newGuardedRouter(resolver *Resolver, recorder audit.Logger, module Module, action Action) (*mux.Router, *EffectivePermissions) {
	pm := NewPermissionMiddleware(resolver, recorder, testLogger())
	seen := &EffectivePermissions{}

	router := mux.NewRouter()
	router.Use(testAuth)
	guarded := router.PathPrefix("/projects/{projectId}").Subrouter()
	guarded.Use(pm.RequirePermission(module, action))
	guarded.HandleFunc("/wir", func(w http.ResponseWriter, r *http.Request) {
		if effective := GetEffectivePermissions(r); effective != nil {
			*seen = *effective
		}
		w.WriteHeader(http.StatusOK)
	}).Methods("POST")
	return router, seen
}

func TestRequirePermission(t *testing.T) {
	store, db := newTestStore(t)
	seedProject(t, db, "P1")
	seedUser(t, db, "U1", "U2", "U3")
	assignMember(t, db, "P1", "U1", RoleContractor)
	assignMember(t, db, "P1", "U3", RoleViewer)

	resolver := NewResolver(store.Catalog(), NewTemplateStore(store, 0, 0), store, store)
	recorder := &recordingAudit{}
	router, seen := newGuardedRouter(resolver, recorder, ModuleWIR, ActionRaise)

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/projects/P1/wir", nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("unauthenticated", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("").Code)
	})

	t.Run("allowed", func(t *testing.T) {
		rec := do("U1")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, RoleContractor, seen.Role)
		assert.True(t, seen.Allowed(ModuleWIR, ActionRaise))
	})

	t.Run("role denied", func(t *testing.T) {
		rec := do("U3")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "WIR.raise is not permitted")
	})

	t.Run("non member denied", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do("U2").Code)
	})

	t.Run("user deny wins", func(t *testing.T) {
		_, err := store.UpsertUserOverride(context.Background(), "P1", "U1",
			map[string]any{"WIR": map[string]any{"raise": "deny"}}, "admin")
		require.NoError(t, err)

		assert.Equal(t, http.StatusForbidden, do("U1").Code)
	})

	events := recorder.Events()
	require.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, audit.EventTypeAuthzAccessDenied, e.EventType)
		assert.Equal(t, audit.EventStatusDenied, e.Status)
		assert.Equal(t, "P1", e.ProjectID)
		assert.Equal(t, "WIR.raise", e.ResourceID)
	}
	assert.Equal(t, "U3", events[0].UserID)
	assert.Equal(t, "denied", events[0].Metadata["reason"])
	assert.Equal(t, string(RoleViewer), events[0].Metadata["role"])
	assert.Equal(t, "not a project member", events[1].Metadata["reason"])
}

func TestRequirePermission_MissingProject(t *testing.T) {
	store, _ := newTestStore(t)
	resolver := NewResolver(store.Catalog(), NewTemplateStore(store, 0, 0), store, store)
	pm := NewPermissionMiddleware(resolver, nil, nil)

	handler := testAuth(pm.RequirePermission(ModuleWIR, ActionView)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/wir", nil)
	req.Header.Set("X-Test-User", "U1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequirePermission_StoreUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT role FROM project_assignments").WillReturnError(assert.AnError)

	store := NewStore(db, DefaultCatalog(), testLogger())
	resolver := NewResolver(store.Catalog(), NewTemplateStore(store, 0, 0), store, store)
	router, _ := newGuardedRouter(resolver, nil, ModuleWIR, ActionView)

	req := httptest.NewRequest(http.MethodPost, "/projects/P1/wir", nil)
	req.Header.Set("X-Test-User", "U1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEffectivePermissions_Outside(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetEffectivePermissions(req))
}
