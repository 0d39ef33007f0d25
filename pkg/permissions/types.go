package permissions

import (
	"time"
)

// Module identifies a functional area of a project (WIR, MIR, LTR, ...)
type Module string

// Action identifies an operation on a module
type Action string

// Role is a project membership role (Contractor, PMC, ...)
type Role string

// UserValue is the value of a single cell in a user override
type UserValue string

const (
	UserInherit UserValue = "inherit"
	UserDeny    UserValue = "deny"
)

// Matrix maps Module -> Action -> allowed. It is used both for full grids
// (templates, effective permissions) and for partial project overrides.
type Matrix map[Module]map[Action]bool

// Get returns the cell value and whether the cell is present
func (m Matrix) Get(module Module, action Action) (bool, bool) {
	actions, ok := m[module]
	if !ok {
		return false, false
	}
	v, ok := actions[action]
	return v, ok
}

// Set writes a cell, creating the module entry if needed
func (m Matrix) Set(module Module, action Action, allowed bool) {
	actions, ok := m[module]
	if !ok {
		actions = make(map[Action]bool)
		m[module] = actions
	}
	actions[action] = allowed
}

// Clone returns a deep copy
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for module, actions := range m {
		cp := make(map[Action]bool, len(actions))
		for action, v := range actions {
			cp[action] = v
		}
		out[module] = cp
	}
	return out
}

// UserMatrix maps Module -> Action -> inherit|deny
type UserMatrix map[Module]map[Action]UserValue

// Denies reports whether the user override forces the cell to false
func (m UserMatrix) Denies(module Module, action Action) bool {
	return m[module][action] == UserDeny
}

// RoleTemplate is the stored default grid for a role
type RoleTemplate struct {
	Role        Role       `json:"role"`
	Permissions Matrix     `json:"permissions"`
	BuiltIn     bool       `json:"built_in"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	UpdatedBy   *string    `json:"updated_by,omitempty"`
}

// ProjectOverride is a partial per-project, per-role override of the template
type ProjectOverride struct {
	ProjectID   string     `json:"project_id"`
	Role        Role       `json:"role"`
	Permissions Matrix     `json:"permissions"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	UpdatedBy   *string    `json:"updated_by,omitempty"`
}

// UserOverride is a deny-only per-project, per-user override
type UserOverride struct {
	ProjectID   string     `json:"project_id"`
	UserID      string     `json:"user_id"`
	Permissions UserMatrix `json:"permissions"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	UpdatedBy   *string    `json:"updated_by,omitempty"`
}

// EffectivePermissions is the resolved grid for a user in a project.
// It is computed per request and never persisted.
type EffectivePermissions struct {
	ProjectID   string    `json:"project_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role,omitempty"`
	Member      bool      `json:"member"`
	Permissions Matrix    `json:"permissions"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// Allowed reports whether a cell is allowed; absent cells are denied
func (e *EffectivePermissions) Allowed(module Module, action Action) bool {
	if e == nil {
		return false
	}
	v, ok := e.Permissions.Get(module, action)
	return ok && v
}

// PermissionCheck is the body of a permission check request
type PermissionCheck struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}

// PermissionCheckResult is the result of a permission check
type PermissionCheckResult struct {
	Allowed   bool      `json:"allowed"`
	Role      Role      `json:"role,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
