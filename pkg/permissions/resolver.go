package permissions

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pms/pkg/observability"
)

const tracerName = "github.com/platinummonkey/pms/pkg/permissions"

// unknownLabel replaces check labels outside the catalog
const unknownLabel = "unknown"

// TemplateSource provides role templates
type TemplateSource interface {
	GetTemplate(ctx context.Context, role Role) (*RoleTemplate, error)
}

// OverrideSource provides project and user overrides
type OverrideSource interface {
	GetProjectOverride(ctx context.Context, projectID string, role Role) (*ProjectOverride, error)
	GetUserOverride(ctx context.Context, projectID, userID string) (*UserOverride, error)
}

// MembershipSource provides a user's role in a project
type MembershipSource interface {
	GetMemberRole(ctx context.Context, projectID, userID string) (Role, bool, error)
}

// Layers holds the three inputs of a resolution once every read completed
type Layers struct {
	Template *RoleTemplate
	Project  *ProjectOverride
	User     *UserOverride
}

// MergeStep applies one layer onto the effective matrix
type MergeStep struct {
	Name  string
	Apply func(c *Catalog, effective Matrix, layers *Layers)
}

// RoleTemplateStep copies the role template onto the grid
var RoleTemplateStep = MergeStep{
	Name: "role-template",
	Apply: func(c *Catalog, effective Matrix, layers *Layers) {
		if layers.Template == nil {
			return
		}
		overlay(c, effective, layers.Template.Permissions)
	},
}

// ProjectOverrideStep replaces every cell present in the project override,
// whether it grants or revokes
var ProjectOverrideStep = MergeStep{
	Name: "project-override",
	Apply: func(c *Catalog, effective Matrix, layers *Layers) {
		if layers.Project == nil {
			return
		}
		overlay(c, effective, layers.Project.Permissions)
	},
}

// UserDenyStep forces every "deny" cell of the user override to false.
// "inherit" cells are no-ops.
var UserDenyStep = MergeStep{
	Name: "user-deny",
	Apply: func(c *Catalog, effective Matrix, layers *Layers) {
		if layers.User == nil {
			return
		}
		user := layers.User.Permissions
		for module, actions := range user {
			for action := range actions {
				if !user.Denies(module, action) || c.Guarded(module, action) {
					continue
				}
				if c.HasModule(module) && c.HasAction(action) {
					effective[module][action] = false
				}
			}
		}
	},
}

// DefaultPipeline is the fixed precedence order: template, then project
// override, then user denials. User denials must run last for deny to win.
func DefaultPipeline() []MergeStep {
	return []MergeStep{RoleTemplateStep, ProjectOverrideStep, UserDenyStep}
}

func overlay(c *Catalog, effective, layer Matrix) {
	for module, actions := range layer {
		if !c.HasModule(module) {
			continue
		}
		for action, allowed := range actions {
			if c.HasAction(action) {
				effective[module][action] = allowed
			}
		}
	}
}

// Merge runs the pipeline over already-loaded layers, starting from deny-all
func Merge(c *Catalog, steps []MergeStep, layers *Layers) Matrix {
	effective := c.DenyAll()
	for _, step := range steps {
		step.Apply(c, effective, layers)
	}
	return effective
}

// Resolver computes effective permissions for a user in a project
type Resolver struct {
	catalog   *Catalog
	templates TemplateSource
	overrides OverrideSource
	members   MembershipSource
	steps     []MergeStep
	metrics   *observability.Metrics
	logger    *observability.Logger
	tracer    trace.Tracer
}

// NewResolver creates a resolver using the default pipeline
func NewResolver(catalog *Catalog, templates TemplateSource, overrides OverrideSource, members MembershipSource) *Resolver {
	return &Resolver{
		catalog:   catalog,
		templates: templates,
		overrides: overrides,
		members:   members,
		steps:     DefaultPipeline(),
		tracer:    otel.Tracer(tracerName),
	}
}

// SetMetrics attaches Prometheus metrics
func (r *Resolver) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetLogger attaches a logger used for debug output
func (r *Resolver) SetLogger(l *observability.Logger) {
	r.logger = l
}

// Catalog returns the catalog used for resolution
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve merges template, project override and user override for
// (projectID, userID, role). An empty role resolves to deny-all. Store
// failures fail the resolution.
func (r *Resolver) Resolve(ctx context.Context, projectID, userID string, role Role) (*EffectivePermissions, error) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "permissions.Resolve", trace.WithAttributes(
		attribute.String("pms.project_id", projectID),
		attribute.String("pms.user_id", userID),
		attribute.String("pms.role", string(role)),
	))
	defer span.End()

	result, outcome, err := r.resolve(ctx, projectID, userID, role)
	r.metrics.ObserveResolution(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

func (r *Resolver) resolve(ctx context.Context, projectID, userID string, role Role) (*EffectivePermissions, string, error) {
	if projectID == "" || userID == "" {
		return nil, "error", ErrMissingIdentifier
	}

	if role == "" {
		return r.denyAll(projectID, userID), "no_role", nil
	}

	layers := &Layers{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := r.templates.GetTemplate(gctx, role)
		if err != nil {
			return fmt.Errorf("failed to load role template: %w", err)
		}
		layers.Template = t
		return nil
	})
	g.Go(func() error {
		p, err := r.overrides.GetProjectOverride(gctx, projectID, role)
		if err != nil {
			return fmt.Errorf("failed to load project override: %w", err)
		}
		layers.Project = p
		return nil
	})
	g.Go(func() error {
		u, err := r.overrides.GetUserOverride(gctx, projectID, userID)
		if err != nil {
			return fmt.Errorf("failed to load user override: %w", err)
		}
		layers.User = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, "error", err
	}

	effective := Merge(r.catalog, r.steps, layers)
	if r.logger != nil {
		r.logger.WithFields(map[string]interface{}{
			"project_id": projectID,
			"user_id":    userID,
			"role":       string(role),
		}).Debug("resolved effective permissions")
	}

	return &EffectivePermissions{
		ProjectID:   projectID,
		UserID:      userID,
		Role:        role,
		Member:      true,
		Permissions: effective,
		ResolvedAt:  time.Now().UTC(),
	}, "resolved", nil
}

func (r *Resolver) denyAll(projectID, userID string) *EffectivePermissions {
	return &EffectivePermissions{
		ProjectID:   projectID,
		UserID:      userID,
		Member:      false,
		Permissions: r.catalog.DenyAll(),
		ResolvedAt:  time.Now().UTC(),
	}
}

// ResolveForMember looks up the user's role in the project and resolves it.
// Users without a membership get deny-all with Member=false.
func (r *Resolver) ResolveForMember(ctx context.Context, projectID, userID string) (*EffectivePermissions, error) {
	if projectID == "" || userID == "" {
		return nil, ErrMissingIdentifier
	}

	role, found, err := r.members.GetMemberRole(ctx, projectID, userID)
	if err != nil {
		r.metrics.ObserveResolution("error", 0)
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}
	if !found {
		r.metrics.ObserveResolution("non_member", 0)
		return r.denyAll(projectID, userID), nil
	}
	return r.Resolve(ctx, projectID, userID, role)
}

// Check resolves the caller and decides a single module/action cell
func (r *Resolver) Check(ctx context.Context, projectID, userID string, check PermissionCheck) (*PermissionCheckResult, *EffectivePermissions, error) {
	effective, err := r.ResolveForMember(ctx, projectID, userID)
	if err != nil {
		return nil, nil, err
	}

	result := &PermissionCheckResult{
		Allowed:   effective.Allowed(check.Module, check.Action),
		Role:      effective.Role,
		CheckedAt: time.Now().UTC(),
	}
	module, action := string(check.Module), string(check.Action)
	switch {
	case !r.catalog.HasModule(check.Module) || !r.catalog.HasAction(check.Action):
		result.Reason = "unknown module or action"
		module, action = unknownLabel, unknownLabel
	case !effective.Member:
		result.Reason = "not a project member"
	case result.Allowed:
		result.Reason = "granted"
	default:
		result.Reason = "denied"
	}

	r.metrics.ObserveCheck(module, action, result.Allowed)
	return result, effective, nil
}
