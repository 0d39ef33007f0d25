package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pms/pkg/audit"
	"github.com/platinummonkey/pms/pkg/httputil"
	"github.com/platinummonkey/pms/pkg/middleware"
	"github.com/platinummonkey/pms/pkg/observability"
)

// AuditSearcher queries recorded audit events
type AuditSearcher interface {
	Search(ctx context.Context, filter *audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// Handlers provides HTTP handlers for permission lookups and administration
type Handlers struct {
	store       *Store
	templates   *TemplateStore
	resolver    *Resolver
	auditLogger audit.Logger
	auditSearch AuditSearcher
	metrics     *observability.Metrics
	adminChain  []mux.MiddlewareFunc
}

// NewHandlers creates new permission handlers
func NewHandlers(store *Store, templates *TemplateStore, resolver *Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		templates:   templates,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// SetMetrics attaches Prometheus metrics
func (h *Handlers) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

// SetAuditSearcher enables the project audit trail endpoint
func (h *Handlers) SetAuditSearcher(s AuditSearcher) {
	h.auditSearch = s
}

// UseAdmin adds middleware (rate limiting) to the admin subrouter. It must
// be called before RegisterRoutes.
func (h *Handlers) UseAdmin(mw ...mux.MiddlewareFunc) {
	h.adminChain = append(h.adminChain, mw...)
}

// updatePermissionsRequest is the body of every PUT endpoint
type updatePermissionsRequest struct {
	Permissions json.RawMessage `json:"permissions"`
}

// parsePermissionsBody answers 400 unless the body carries a non-null
// "permissions" value. Its contents are still normalized permissively.
func parsePermissionsBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var req updatePermissionsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return nil, false
	}
	if len(req.Permissions) == 0 || string(req.Permissions) == "null" {
		httputil.WriteBadRequest(w, `missing "permissions" field`)
		return nil, false
	}
	return req.Permissions, true
}

// RegisterRoutes registers all permission routes. The router is expected to
// be behind authentication already; admin routes additionally require the
// admin flag.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/permissions/catalog", h.GetCatalog).Methods("GET")
	router.HandleFunc("/projects/{projectId}/permissions/me", h.GetMyPermissions).Methods("GET")
	router.HandleFunc("/projects/{projectId}/permissions/check", h.CheckPermission).Methods("POST")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.Use(h.adminChain...)

	// Role templates
	admin.HandleFunc("/templates", h.ListTemplates).Methods("GET")
	admin.HandleFunc("/templates/{role}", h.GetTemplate).Methods("GET")
	admin.HandleFunc("/templates/{role}", h.ReplaceTemplate).Methods("PUT")

	// Project role overrides
	admin.HandleFunc("/projects/{projectId}/overrides/roles", h.ListProjectOverrides).Methods("GET")
	admin.HandleFunc("/projects/{projectId}/overrides/roles/{role}", h.GetProjectOverride).Methods("GET")
	admin.HandleFunc("/projects/{projectId}/overrides/roles/{role}", h.UpsertProjectOverride).Methods("PUT")
	admin.HandleFunc("/projects/{projectId}/overrides/roles/{role}", h.ResetProjectOverride).Methods("DELETE")

	// User overrides
	admin.HandleFunc("/projects/{projectId}/overrides/users", h.ListUserOverrides).Methods("GET")
	admin.HandleFunc("/projects/{projectId}/overrides/users/{userId}", h.GetUserOverride).Methods("GET")
	admin.HandleFunc("/projects/{projectId}/overrides/users/{userId}", h.UpsertUserOverride).Methods("PUT")
	admin.HandleFunc("/projects/{projectId}/overrides/users/{userId}", h.ResetUserOverride).Methods("DELETE")

	// Effective permissions and audit trail
	admin.HandleFunc("/projects/{projectId}/users/{userId}/permissions", h.GetUserPermissions).Methods("GET")
	admin.HandleFunc("/projects/{projectId}/audit", h.ListAuditEvents).Methods("GET")
}

// GetCatalog returns modules, actions, roles and guardrails for UI rendering
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.resolver.Catalog().View())
}

// GetMyPermissions returns the caller's effective permissions in a project
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectId")
	if !ok {
		return
	}

	effective, err := h.resolver.ResolveForMember(r.Context(), projectID, authCtx.User.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

// CheckPermission decides a single module/action cell for the caller
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	projectID, ok := httputil.ParsePathStringOrError(w, r, "projectId")
	if !ok {
		return
	}

	var check PermissionCheck
	if !httputil.ParseJSONOrError(w, r, &check) {
		return
	}
	if check.Module == "" || check.Action == "" {
		httputil.WriteBadRequest(w, "module and action are required")
		return
	}

	result, _, err := h.resolver.Check(r.Context(), projectID, authCtx.User.ID, check)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// ListTemplates returns the effective template of every catalog role
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.templates.ListTemplates(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, templates)
}

// GetTemplate returns one role's template. Unknown roles yield deny-all.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	role := Role(mux.Vars(r)["role"])
	template, err := h.templates.GetTemplate(r.Context(), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, template)
}

// ReplaceTemplate normalizes and stores a role template and echoes the
// stored grid
func (h *Handlers) ReplaceTemplate(w http.ResponseWriter, r *http.Request) {
	role := Role(mux.Vars(r)["role"])
	permissions, ok := parsePermissionsBody(w, r)
	if !ok {
		return
	}

	before, err := h.templates.GetTemplate(r.Context(), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	template, err := h.templates.ReplaceTemplate(r.Context(), role, permissions, actorID(r))
	if err != nil {
		h.audit(r, audit.EventTypeTemplateReplace, audit.EventStatusFailure, "", audit.ResourceTypeRoleTemplate, string(role), err.Error(), nil)
		h.fail(w, r, err)
		return
	}

	h.metrics.ObserveWrite("template", "replace")
	h.audit(r, audit.EventTypeTemplateReplace, audit.EventStatusSuccess, "", audit.ResourceTypeRoleTemplate, string(role),
		"role template replaced", &audit.ChangeDetails{Before: before.Permissions, After: template.Permissions})
	httputil.WriteSuccess(w, template)
}

// ListProjectOverrides returns every role override of a project
func (h *Handlers) ListProjectOverrides(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]
	overrides, err := h.store.ListProjectOverrides(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

// GetProjectOverride returns the override for one role; absent overrides
// are returned empty
func (h *Handlers) GetProjectOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role := Role(vars["role"])
	if role != "" && !h.store.Catalog().HasRole(role) {
		h.fail(w, r, ErrUnknownRole)
		return
	}

	override, err := h.store.GetProjectOverride(r.Context(), vars["projectId"], role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, override)
}

// UpsertProjectOverride replaces the override for (project, role) and echoes
// the normalized grid
func (h *Handlers) UpsertProjectOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID, role := vars["projectId"], Role(vars["role"])
	permissions, ok := parsePermissionsBody(w, r)
	if !ok {
		return
	}

	before, err := h.store.GetProjectOverride(r.Context(), projectID, role)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	override, err := h.store.UpsertProjectOverride(r.Context(), projectID, role, permissions, actorID(r))
	if err != nil {
		h.audit(r, audit.EventTypeProjectOverrideUpsert, audit.EventStatusFailure, projectID, audit.ResourceTypeProjectOverride, string(role), err.Error(), nil)
		h.fail(w, r, err)
		return
	}

	h.metrics.ObserveWrite("project_override", "upsert")
	h.audit(r, audit.EventTypeProjectOverrideUpsert, audit.EventStatusSuccess, projectID, audit.ResourceTypeProjectOverride, string(role),
		"project role override updated", &audit.ChangeDetails{Before: before.Permissions, After: override.Permissions})
	httputil.WriteSuccess(w, override)
}

// ResetProjectOverride removes the override so the role falls back to its template
func (h *Handlers) ResetProjectOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID, role := vars["projectId"], Role(vars["role"])

	if err := h.store.ResetProjectOverride(r.Context(), projectID, role); err != nil {
		h.fail(w, r, err)
		return
	}

	h.metrics.ObserveWrite("project_override", "reset")
	h.audit(r, audit.EventTypeProjectOverrideReset, audit.EventStatusSuccess, projectID, audit.ResourceTypeProjectOverride, string(role),
		"project role override reset", nil)
	httputil.WriteNoContent(w)
}

// ListUserOverrides returns every user override of a project
func (h *Handlers) ListUserOverrides(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]
	overrides, err := h.store.ListUserOverrides(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overrides)
}

// GetUserOverride returns the deny-only override for one user
func (h *Handlers) GetUserOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	override, err := h.store.GetUserOverride(r.Context(), vars["projectId"], vars["userId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, override)
}

// UpsertUserOverride replaces the override for (project, user) and echoes
// the normalized grid
func (h *Handlers) UpsertUserOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID, userID := vars["projectId"], vars["userId"]
	permissions, ok := parsePermissionsBody(w, r)
	if !ok {
		return
	}

	before, err := h.store.GetUserOverride(r.Context(), projectID, userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	override, err := h.store.UpsertUserOverride(r.Context(), projectID, userID, permissions, actorID(r))
	if err != nil {
		h.audit(r, audit.EventTypeUserOverrideUpsert, audit.EventStatusFailure, projectID, audit.ResourceTypeUserOverride, userID, err.Error(), nil)
		h.fail(w, r, err)
		return
	}

	h.metrics.ObserveWrite("user_override", "upsert")
	h.audit(r, audit.EventTypeUserOverrideUpsert, audit.EventStatusSuccess, projectID, audit.ResourceTypeUserOverride, userID,
		"user override updated", &audit.ChangeDetails{Before: before.Permissions, After: override.Permissions})
	httputil.WriteSuccess(w, override)
}

// ResetUserOverride removes the user's override
func (h *Handlers) ResetUserOverride(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	projectID, userID := vars["projectId"], vars["userId"]

	if err := h.store.ResetUserOverride(r.Context(), projectID, userID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.metrics.ObserveWrite("user_override", "reset")
	h.audit(r, audit.EventTypeUserOverrideReset, audit.EventStatusSuccess, projectID, audit.ResourceTypeUserOverride, userID,
		"user override reset", nil)
	httputil.WriteNoContent(w)
}

// GetUserPermissions returns the effective permissions of any user in a project
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	effective, err := h.resolver.ResolveForMember(r.Context(), vars["projectId"], vars["userId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

// ListAuditEvents returns the permission audit trail of a project
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if h.auditSearch == nil {
		httputil.WriteNotFoundError(w, "audit trail is not enabled")
		return
	}

	filter := &audit.SearchFilter{ProjectID: mux.Vars(r)["projectId"]}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid offset")
		return
	}
	filter.Limit, filter.Offset = limit, offset
	filter.UserID = r.URL.Query().Get("user_id")

	events, err := h.auditSearch.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteServiceUnavailable(w, "audit trail unavailable")
		return
	}
	httputil.WriteSuccess(w, events)
}

func actorID(r *http.Request) string {
	return middleware.GetAuthContext(r).UserID()
}

func (h *Handlers) audit(r *http.Request, eventType audit.EventType, status audit.EventStatus, projectID string, resourceType audit.ResourceType, resourceID, message string, changes *audit.ChangeDetails) {
	if h.auditLogger == nil {
		return
	}

	event := audit.NewEvent(r, actorID(r), eventType, status)
	event.ProjectID = projectID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	event.Changes = changes

	if err := h.auditLogger.Log(r.Context(), event); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to record audit event")
	}
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !IsClientError(err) {
		observability.FromContext(r.Context()).WithError(err).Error("permission request failed")
	}
	writeStoreError(w, err)
}

// writeStoreError maps permission errors onto HTTP status codes
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingIdentifier), errors.Is(err, ErrUnknownRole):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrProjectNotFound), errors.Is(err, ErrUserNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrStoreUnavailable):
		httputil.WriteServiceUnavailable(w, "permission store unavailable")
	default:
		httputil.WriteInternalError(w)
	}
}
