// Package permissions resolves project-scoped module permissions for the
// construction project management platform.
//
// # Overview
//
// A user's access to a project is a grid of modules (WIR, MIR, LTR,
// DASHBOARD) by actions (view, raise, review, approve, close). The grid is
// computed on every request from three stored layers:
//
//  1. Role template: the default grid for the user's project role
//  2. Project override: a partial per-project, per-role grid; any cell it
//     sets replaces the template value in either direction
//  3. User override: a per-project, per-user grid holding only "inherit" or
//     "deny"; a deny cell forces the effective value to false
//
// Guarded cells (LTR review and approve in the built-in catalog) cannot be
// denied per user. Normalization strips them on write and the resolver skips
// them on read.
//
// # Catalog
//
// The modules, actions, roles, guardrails and default templates live in a
// Catalog. DefaultCatalog returns the built-in set; LoadCatalog reads the
// same shape from YAML:
//
//	modules: [WIR, MIR, LTR, DASHBOARD]
//	actions: [view, raise, review, approve, close]
//	guardrails:
//	  LTR: [review, approve]
//	roles:
//	  - name: Contractor
//	    display_name: Contractor
//	    permissions:
//	      WIR: {view: true, raise: true}
//
// # Resolution
//
//	resolver := permissions.NewResolver(catalog, templates, store, store)
//	effective, err := resolver.ResolveForMember(ctx, projectID, userID)
//	if effective.Allowed(permissions.ModuleWIR, permissions.ActionRaise) {
//		// ...
//	}
//
// Non-members and users without a role resolve to deny-all. The three layers
// are read concurrently and merged by DefaultPipeline; Merge accepts any
// ordered list of MergeStep values.
//
// # Normalization
//
// Writes are permissive. Unknown modules and actions are dropped, project
// values are coerced to booleans ("true", 1, false, ...) and user values
// other than "inherit" or "deny" are dropped. Stored blobs are normalized
// again on read, so a malformed row behaves as an empty override.
//
// # HTTP
//
// Handlers serves the catalog, the caller's own permissions and a check
// endpoint, plus admin routes for templates, project overrides, user
// overrides and the audit trail. PermissionMiddleware guards project routes:
//
//	pm := manager.GetMiddleware()
//	router.Handle("/projects/{projectId}/wir",
//		pm.RequirePermission(permissions.ModuleWIR, permissions.ActionRaise)(handler))
//
// Manager wires everything together and runs migrations and template
// seeding during Initialize.
package permissions
