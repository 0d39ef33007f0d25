package permissions

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NormalizeProjectMatrix turns a client supplied (or stored) project override
// into a canonical Matrix. Unknown modules and actions are dropped, values are
// coerced to booleans and anything that cannot be coerced is dropped. Modules
// left without actions are omitted. Normalizing a normalized matrix is a no-op.
func NormalizeProjectMatrix(c *Catalog, raw any) Matrix {
	out := Matrix{}
	for module, actions := range asObject(raw) {
		m := Module(module)
		if !c.HasModule(m) {
			continue
		}
		for action, v := range asObject(actions) {
			a := Action(action)
			if !c.HasAction(a) {
				continue
			}
			allowed, ok := coerceBool(v)
			if !ok {
				continue
			}
			out.Set(m, a, allowed)
		}
	}
	return out
}

// NormalizeUserMatrix turns a client supplied (or stored) user override into a
// canonical UserMatrix:
//  1. unknown modules and actions are dropped
//  2. only "inherit" and "deny" values are kept
//  3. guarded cells (LTR review/approve in the built-in catalog) are removed
//  4. modules left without actions are omitted
func NormalizeUserMatrix(c *Catalog, raw any) UserMatrix {
	out := UserMatrix{}
	for module, actions := range asObject(raw) {
		m := Module(module)
		if !c.HasModule(m) {
			continue
		}
		cells := make(map[Action]UserValue)
		for action, v := range asObject(actions) {
			a := Action(action)
			if !c.HasAction(a) || c.Guarded(m, a) {
				continue
			}
			value, ok := userValue(v)
			if !ok {
				continue
			}
			cells[a] = value
		}
		if len(cells) > 0 {
			out[m] = cells
		}
	}
	return out
}

// asObject views a decoded JSON/YAML object or one of the typed matrices as a
// string keyed map. Anything else is treated as empty.
func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case map[string]map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = inner
		}
		return out
	case map[string]bool:
		out := make(map[string]any, len(t))
		for k, b := range t {
			out[k] = b
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case map[Action]bool:
		out := make(map[string]any, len(t))
		for k, b := range t {
			out[string(k)] = b
		}
		return out
	case map[Action]UserValue:
		out := make(map[string]any, len(t))
		for k, uv := range t {
			out[string(k)] = string(uv)
		}
		return out
	case Matrix:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[string(k)] = inner
		}
		return out
	case map[Module]map[Action]bool:
		return asObject(Matrix(t))
	case UserMatrix:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[string(k)] = inner
		}
		return out
	case map[Module]map[Action]UserValue:
		return asObject(UserMatrix(t))
	case json.RawMessage:
		return decodeObject(t)
	case []byte:
		return decodeObject(t)
	default:
		return nil
	}
}

func decodeObject(data []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func coerceBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case float32:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case int32:
		return t != 0, true
	case uint64:
		return t != 0, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return false, false
		}
		return f != 0, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

func userValue(v any) (UserValue, bool) {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case UserValue:
		s = string(t)
	default:
		return "", false
	}
	switch UserValue(s) {
	case UserInherit, UserDeny:
		return UserValue(s), true
	}
	return "", false
}
