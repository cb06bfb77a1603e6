package govctx

// ArmingStatus is the caller-supplied execution_arming_status bundle. Like
// the governance context it stays opaque for digesting; the evaluator reads
// three fields: explicit, arming_id, armed.
type ArmingStatus map[string]any

// Empty reports whether no arming status was supplied.
func (a ArmingStatus) Empty() bool {
	return len(a) == 0
}

// Clone returns a deep copy.
func (a ArmingStatus) Clone() ArmingStatus {
	if a == nil {
		return nil
	}
	out := make(ArmingStatus, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

// Explicit returns the explicit flag. ok is false when the field is missing
// or not a boolean.
func (a ArmingStatus) Explicit() (value, ok bool) {
	raw, present := a["explicit"]
	if !present {
		return false, false
	}
	b, isBool := raw.(bool)
	return b, isBool
}

// ArmingID returns the arming_id string, or "" when missing or mistyped.
func (a ArmingStatus) ArmingID() string {
	raw, present := a["arming_id"]
	if !present {
		return ""
	}
	s, _ := raw.(string)
	return s
}

// Armed returns the armed flag. ok is false when the field is missing or not
// a boolean.
func (a ArmingStatus) Armed() (value, ok bool) {
	raw, present := a["armed"]
	if !present {
		return false, false
	}
	b, isBool := raw.(bool)
	return b, isBool
}
