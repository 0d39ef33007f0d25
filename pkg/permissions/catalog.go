package permissions

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Built-in modules
const (
	ModuleWIR       Module = "WIR"
	ModuleMIR       Module = "MIR"
	ModuleLTR       Module = "LTR"
	ModuleDashboard Module = "DASHBOARD"
)

// Built-in actions
const (
	ActionView    Action = "view"
	ActionRaise   Action = "raise"
	ActionReview  Action = "review"
	ActionApprove Action = "approve"
	ActionClose   Action = "close"
)

// Built-in roles
const (
	RoleAdmin      Role = "Admin"
	RoleClient     Role = "Client"
	RoleIHPMT      Role = "IHPMT"
	RoleConsultant Role = "Consultant"
	RolePMC        Role = "PMC"
	RoleContractor Role = "Contractor"
	RoleSupplier   Role = "Supplier"
	RoleViewer     Role = "Viewer"
)

// CatalogDefinition is the serialized form of a catalog (YAML file or built-in)
type CatalogDefinition struct {
	Modules    []Module            `yaml:"modules" json:"modules"`
	Actions    []Action            `yaml:"actions" json:"actions"`
	Roles      []RoleDefinition    `yaml:"roles" json:"roles"`
	Guardrails map[Module][]Action `yaml:"guardrails" json:"guardrails"`
}

// RoleDefinition declares a role and its default template
type RoleDefinition struct {
	Name        Role                      `yaml:"name" json:"name"`
	DisplayName string                    `yaml:"display_name" json:"display_name"`
	Permissions map[string]map[string]any `yaml:"permissions" json:"permissions"`
}

// Catalog is the closed set of modules, actions and roles plus the default
// role templates and user-level guardrails. It is built once at startup and
// is read-only afterwards; accessors hand out copies.
type Catalog struct {
	modules    []Module
	moduleSet  map[Module]struct{}
	actions    []Action
	actionSet  map[Action]struct{}
	roles      []Role
	roleSet    map[Role]struct{}
	names      map[Role]string
	templates  map[Role]Matrix
	guardrails map[Module]map[Action]struct{}
}

// NewCatalog validates a definition and builds a catalog
func NewCatalog(def CatalogDefinition) (*Catalog, error) {
	if len(def.Modules) == 0 {
		return nil, fmt.Errorf("catalog must declare at least one module")
	}
	if len(def.Actions) == 0 {
		return nil, fmt.Errorf("catalog must declare at least one action")
	}

	c := &Catalog{
		moduleSet:  make(map[Module]struct{}, len(def.Modules)),
		actionSet:  make(map[Action]struct{}, len(def.Actions)),
		roleSet:    make(map[Role]struct{}, len(def.Roles)),
		names:      make(map[Role]string, len(def.Roles)),
		templates:  make(map[Role]Matrix, len(def.Roles)),
		guardrails: make(map[Module]map[Action]struct{}),
	}

	for _, m := range def.Modules {
		if m == "" {
			return nil, fmt.Errorf("catalog module name cannot be empty")
		}
		if _, dup := c.moduleSet[m]; dup {
			return nil, fmt.Errorf("duplicate module in catalog: %s", m)
		}
		c.moduleSet[m] = struct{}{}
		c.modules = append(c.modules, m)
	}

	for _, a := range def.Actions {
		if a == "" {
			return nil, fmt.Errorf("catalog action name cannot be empty")
		}
		if _, dup := c.actionSet[a]; dup {
			return nil, fmt.Errorf("duplicate action in catalog: %s", a)
		}
		c.actionSet[a] = struct{}{}
		c.actions = append(c.actions, a)
	}

	for module, actions := range def.Guardrails {
		if !c.HasModule(module) {
			return nil, fmt.Errorf("guardrail references unknown module: %s", module)
		}
		set := make(map[Action]struct{}, len(actions))
		for _, a := range actions {
			if !c.HasAction(a) {
				return nil, fmt.Errorf("guardrail references unknown action: %s.%s", module, a)
			}
			set[a] = struct{}{}
		}
		c.guardrails[module] = set
	}

	for _, rd := range def.Roles {
		if rd.Name == "" {
			return nil, fmt.Errorf("catalog role name cannot be empty")
		}
		if _, dup := c.roleSet[rd.Name]; dup {
			return nil, fmt.Errorf("duplicate role in catalog: %s", rd.Name)
		}
		c.roleSet[rd.Name] = struct{}{}
		c.roles = append(c.roles, rd.Name)
		c.names[rd.Name] = rd.DisplayName

		raw := make(map[string]any, len(rd.Permissions))
		for module, actions := range rd.Permissions {
			inner := make(map[string]any, len(actions))
			for action, v := range actions {
				inner[action] = v
			}
			raw[module] = inner
		}
		c.templates[rd.Name] = NormalizeProjectMatrix(c, raw)
	}

	return c, nil
}

// LoadCatalog reads a YAML catalog definition. An empty path yields the
// built-in catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var def CatalogDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	return NewCatalog(def)
}

// DefaultCatalog returns the built-in construction project catalog
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultCatalogDefinition())
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// DefaultCatalogDefinition returns the built-in catalog definition
func DefaultCatalogDefinition() CatalogDefinition {
	all := func(actions ...Action) map[string]any {
		out := make(map[string]any, len(actions))
		for _, a := range actions {
			out[string(a)] = true
		}
		return out
	}

	return CatalogDefinition{
		Modules: []Module{ModuleWIR, ModuleMIR, ModuleLTR, ModuleDashboard},
		Actions: []Action{ActionView, ActionRaise, ActionReview, ActionApprove, ActionClose},
		Guardrails: map[Module][]Action{
			ModuleLTR: {ActionReview, ActionApprove},
		},
		Roles: []RoleDefinition{
			{
				Name:        RoleAdmin,
				DisplayName: "Administrator",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView, ActionRaise, ActionReview, ActionApprove, ActionClose),
					"MIR":       all(ActionView, ActionRaise, ActionReview, ActionApprove, ActionClose),
					"LTR":       all(ActionView, ActionRaise, ActionReview, ActionApprove, ActionClose),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleClient,
				DisplayName: "Client",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView),
					"MIR":       all(ActionView),
					"LTR":       all(ActionView, ActionRaise, ActionReview, ActionApprove),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleIHPMT,
				DisplayName: "In-House Project Management Team",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView, ActionReview, ActionApprove),
					"MIR":       all(ActionView, ActionReview, ActionApprove),
					"LTR":       all(ActionView, ActionRaise, ActionReview, ActionApprove),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleConsultant,
				DisplayName: "Consultant",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView, ActionReview, ActionApprove),
					"MIR":       all(ActionView, ActionReview, ActionApprove),
					"LTR":       all(ActionView, ActionRaise, ActionReview),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RolePMC,
				DisplayName: "Project Management Consultant",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView, ActionReview, ActionApprove, ActionClose),
					"MIR":       all(ActionView, ActionReview, ActionApprove, ActionClose),
					"LTR":       all(ActionView, ActionRaise, ActionReview, ActionApprove, ActionClose),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleContractor,
				DisplayName: "Contractor",
				Permissions: map[string]map[string]any{
					"WIR":       {"view": true, "raise": true, "approve": false},
					"MIR":       all(ActionView, ActionRaise),
					"LTR":       all(ActionView, ActionRaise),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleSupplier,
				DisplayName: "Supplier",
				Permissions: map[string]map[string]any{
					"MIR":       all(ActionView, ActionRaise),
					"LTR":       all(ActionView),
					"DASHBOARD": all(ActionView),
				},
			},
			{
				Name:        RoleViewer,
				DisplayName: "Viewer",
				Permissions: map[string]map[string]any{
					"WIR":       all(ActionView),
					"MIR":       all(ActionView),
					"LTR":       all(ActionView),
					"DASHBOARD": all(ActionView),
				},
			},
		},
	}
}

// Modules returns the module set in declaration order
func (c *Catalog) Modules() []Module {
	return append([]Module(nil), c.modules...)
}

// Actions returns the action set in declaration order
func (c *Catalog) Actions() []Action {
	return append([]Action(nil), c.actions...)
}

// Roles returns the known roles in declaration order
func (c *Catalog) Roles() []Role {
	return append([]Role(nil), c.roles...)
}

// HasModule reports whether the module is in the closed set
func (c *Catalog) HasModule(m Module) bool {
	_, ok := c.moduleSet[m]
	return ok
}

// HasAction reports whether the action is in the closed set
func (c *Catalog) HasAction(a Action) bool {
	_, ok := c.actionSet[a]
	return ok
}

// HasRole reports whether the role is known
func (c *Catalog) HasRole(r Role) bool {
	_, ok := c.roleSet[r]
	return ok
}

// DisplayName returns the human readable role name
func (c *Catalog) DisplayName(r Role) string {
	if name := c.names[r]; name != "" {
		return name
	}
	return string(r)
}

// Guarded reports whether a user override may never touch this cell
func (c *Catalog) Guarded(m Module, a Action) bool {
	_, ok := c.guardrails[m][a]
	return ok
}

// Guardrails returns the guarded cells, actions sorted for stable output
func (c *Catalog) Guardrails() map[Module][]Action {
	out := make(map[Module][]Action, len(c.guardrails))
	for m, set := range c.guardrails {
		actions := make([]Action, 0, len(set))
		for a := range set {
			actions = append(actions, a)
		}
		sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
		out[m] = actions
	}
	return out
}

// DefaultTemplate returns a copy of the built-in template for a role.
// Unknown roles get an empty (deny-all) matrix.
func (c *Catalog) DefaultTemplate(r Role) Matrix {
	t, ok := c.templates[r]
	if !ok {
		return Matrix{}
	}
	return t.Clone()
}

// DenyAll returns the full module x action grid with every cell false
func (c *Catalog) DenyAll() Matrix {
	m := make(Matrix, len(c.modules))
	for _, module := range c.modules {
		actions := make(map[Action]bool, len(c.actions))
		for _, action := range c.actions {
			actions[action] = false
		}
		m[module] = actions
	}
	return m
}

// CatalogView is the JSON shape served to clients
type CatalogView struct {
	Modules    []Module            `json:"modules"`
	Actions    []Action            `json:"actions"`
	Roles      []RoleView          `json:"roles"`
	Guardrails map[Module][]Action `json:"guardrails"`
}

// RoleView describes a role for clients
type RoleView struct {
	Name        Role   `json:"name"`
	DisplayName string `json:"display_name"`
}

// View returns the client-facing description of the catalog
func (c *Catalog) View() CatalogView {
	roles := make([]RoleView, 0, len(c.roles))
	for _, r := range c.roles {
		roles = append(roles, RoleView{Name: r, DisplayName: c.DisplayName(r)})
	}
	return CatalogView{
		Modules:    c.Modules(),
		Actions:    c.Actions(),
		Roles:      roles,
		Guardrails: c.Guardrails(),
	}
}

// Expand overlays a partial matrix on the deny-all grid, dropping cells
// outside the catalog
func (c *Catalog) Expand(partial Matrix) Matrix {
	grid := c.DenyAll()
	for module, actions := range partial {
		if !c.HasModule(module) {
			continue
		}
		for action, allowed := range actions {
			if c.HasAction(action) {
				grid[module][action] = allowed
			}
		}
	}
	return grid
}
