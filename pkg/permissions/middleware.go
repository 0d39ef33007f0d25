package permissions

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/pms/pkg/audit"
	"github.com/platinummonkey/pms/pkg/contextkeys"
	"github.com/platinummonkey/pms/pkg/httputil"
	"github.com/platinummonkey/pms/pkg/middleware"
	"github.com/platinummonkey/pms/pkg/observability"
)

// PermissionMiddleware guards project routes with a module/action cell of
// the caller's effective permissions
type PermissionMiddleware struct {
	resolver    *Resolver
	auditLogger audit.Logger
	logger      *observability.Logger
	projectVar  string
}

// NewPermissionMiddleware creates a new permission middleware. The project
// is read from the {projectId} route variable.
func NewPermissionMiddleware(resolver *Resolver, auditLogger audit.Logger, logger *observability.Logger) *PermissionMiddleware {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &PermissionMiddleware{
		resolver:    resolver,
		auditLogger: auditLogger,
		logger:      logger,
		projectVar:  "projectId",
	}
}

// RequirePermission rejects requests whose caller lacks module.action in the
// route's project. The resolved permissions are stored in the request context.
func (pm *PermissionMiddleware) RequirePermission(module Module, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			projectID := mux.Vars(r)[pm.projectVar]
			if projectID == "" {
				httputil.WriteBadRequest(w, "project id is required")
				return
			}

			result, effective, err := pm.resolver.Check(r.Context(), projectID, authCtx.User.ID, PermissionCheck{Module: module, Action: action})
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("project_id", projectID).
					Error("permission check failed")
				writeStoreError(w, err)
				return
			}

			if !result.Allowed {
				pm.logDenied(r, authCtx.User.ID, projectID, module, action, result)
				httputil.WriteForbidden(w, fmt.Sprintf("%s.%s is not permitted", module, action))
				return
			}

			ctx := contextkeys.WithEffectivePermissions(r.Context(), effective)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (pm *PermissionMiddleware) logDenied(r *http.Request, userID, projectID string, module Module, action Action, result *PermissionCheckResult) {
	if pm.auditLogger == nil {
		return
	}
	event := audit.NewEvent(r, userID, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
	event.ProjectID = projectID
	event.ResourceType = audit.ResourceTypeModuleAction
	event.ResourceID = fmt.Sprintf("%s.%s", module, action)
	event.Message = "permission denied"
	event.Metadata["reason"] = result.Reason
	if result.Role != "" {
		event.Metadata["role"] = string(result.Role)
	}
	if err := pm.auditLogger.Log(r.Context(), event); err != nil {
		pm.logger.WithError(err).Warn("failed to record access denial")
	}
}

// GetEffectivePermissions returns the permissions resolved by
// RequirePermission, or nil outside a guarded route
func GetEffectivePermissions(r *http.Request) *EffectivePermissions {
	effective, _ := contextkeys.Value[*EffectivePermissions](r.Context(), contextkeys.EffectivePermissionsKey)
	return effective
}
