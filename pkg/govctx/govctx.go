// Package govctx models the caller-supplied governance context: an opaque
// nested key/value bundle threaded unmodified through every pipeline stage
// and compared by canonical-digest equality at each stage boundary.
//
// The core inspects exactly three sub-keys (approval_authority,
// approval_validity, system_phase_constraints) and round-trips everything
// else untouched. Extraction is fail-closed: a section that is
// present but malformed parses as invalid, never as a permissive default.
package govctx

import (
	"encoding/json"

	"github.com/govkernel/warrant/pkg/canonical"
)

// Recognized policy sub-keys.
const (
	KeyApprovalAuthority      = "approval_authority"
	KeyApprovalValidity       = "approval_validity"
	KeySystemPhaseConstraints = "system_phase_constraints"
)

// Context is an opaque governance-context bundle. Nil and empty contexts are
// equivalent and considered absent.
type Context map[string]any

// Empty reports whether the context carries no keys at all.
func (c Context) Empty() bool {
	return len(c) == 0
}

// Digest returns the canonical SHA-256 digest of the context. Two contexts
// are equal for pipeline purposes exactly when their digests are equal.
func (c Context) Digest() (string, error) {
	if c == nil {
		c = Context{}
	}
	return canonical.Hash(map[string]any(c))
}

// Clone returns a deep copy. Mutating the copy never affects the original.
func (c Context) Clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = cloneValue(v)
	}
	return out
}

// Section returns the named sub-key as a mapping. ok is false when the key
// is absent or not a mapping.
func (c Context) Section(key string) (map[string]any, bool) {
	raw, present := c[key]
	if !present {
		return nil, false
	}
	m, isMap := raw.(map[string]any)
	if !isMap {
		return nil, false
	}
	return m, true
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// asInt coerces a decoded scalar to int. JSON decoding yields float64, YAML
// yields int, and callers may pass any Go integer type directly. Fractional
// values are rejected.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case float32:
		if t != float32(int(t)) {
			return 0, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}

// asString coerces a decoded value to a string.
func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asStringSlice coerces a decoded list to []string. Every element must be a
// string; an empty list is returned as an empty (non-nil) slice.
func asStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// asIntSlice coerces a decoded list to []int.
func asIntSlice(v any) ([]int, bool) {
	switch t := v.(type) {
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out, true
	case []any:
		out := make([]int, 0, len(t))
		for _, e := range t {
			n, ok := asInt(e)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	default:
		return nil, false
	}
}
