package govctx

// AuthorityPolicy is the parsed approval_authority sub-key: who may approve,
// and optionally which scopes they may approve for.
type AuthorityPolicy struct {
	AuthorizedApprovers []string `json:"authorized_approvers"`
	AllowedScopes       []string `json:"allowed_scopes,omitempty"`
}

// AuthorityPolicy extracts and validates the approval_authority section.
// ok is false when the section is absent, malformed, or lists no approvers.
func (c Context) AuthorityPolicy() (*AuthorityPolicy, bool) {
	section, present := c.Section(KeyApprovalAuthority)
	if !present {
		return nil, false
	}
	rawApprovers, present := section["authorized_approvers"]
	if !present {
		return nil, false
	}
	approvers, ok := asStringSlice(rawApprovers)
	if !ok || len(approvers) == 0 {
		return nil, false
	}
	policy := &AuthorityPolicy{AuthorizedApprovers: approvers}
	if rawScopes, present := section["allowed_scopes"]; present {
		scopes, ok := asStringSlice(rawScopes)
		if !ok {
			return nil, false
		}
		policy.AllowedScopes = scopes
	}
	return policy, true
}

// PermitsApprover reports whether identity is in the approver allow-list.
func (p *AuthorityPolicy) PermitsApprover(identity string) bool {
	for _, a := range p.AuthorizedApprovers {
		if a == identity {
			return true
		}
	}
	return false
}

// PermitsScope reports whether scope is permitted. A policy with no
// allowed_scopes list permits every scope; an empty list permits none.
func (p *AuthorityPolicy) PermitsScope(scope string) bool {
	if p.AllowedScopes == nil {
		return true
	}
	for _, s := range p.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ValidityPolicy is the parsed approval_validity sub-key: how old an approval
// may be at evaluation time, and optionally the single scope it must carry.
type ValidityPolicy struct {
	MaxAgeSeconds int    `json:"max_age_seconds"`
	RequiredScope string `json:"required_scope,omitempty"`
}

// ValidityPolicy extracts the approval_validity section. present is false
// when the section is absent entirely; valid is false when the section exists
// but max_age_seconds is missing, non-integer, or not positive.
func (c Context) ValidityPolicy() (policy *ValidityPolicy, present, valid bool) {
	section, found := c.Section(KeyApprovalValidity)
	if !found {
		return nil, false, false
	}
	rawMax, hasMax := section["max_age_seconds"]
	if !hasMax {
		return nil, true, false
	}
	maxAge, ok := asInt(rawMax)
	if !ok || maxAge <= 0 {
		return nil, true, false
	}
	policy = &ValidityPolicy{MaxAgeSeconds: maxAge}
	if rawScope, hasScope := section["required_scope"]; hasScope {
		scope, ok := asString(rawScope)
		if !ok {
			return nil, true, false
		}
		policy.RequiredScope = scope
	}
	return policy, true, true
}

// PhaseConstraints is the parsed system_phase_constraints sub-key. Any
// non-empty subset of the three constraints may be supplied; they combine
// with AND. An absent bound is open-ended.
type PhaseConstraints struct {
	AllowedPhases []int `json:"allowed_phases,omitempty"`
	MinPhase      *int  `json:"min_phase,omitempty"`
	MaxPhase      *int  `json:"max_phase,omitempty"`
}

// PhaseConstraints extracts the system_phase_constraints section. present is
// false when the section is absent; valid is false when the section exists
// but specifies no constraint at all, carries a non-integer value, or has
// min_phase > max_phase.
func (c Context) PhaseConstraints() (constraints *PhaseConstraints, present, valid bool) {
	section, found := c.Section(KeySystemPhaseConstraints)
	if !found {
		return nil, false, false
	}
	out := &PhaseConstraints{}
	given := false
	if raw, has := section["allowed_phases"]; has {
		phases, ok := asIntSlice(raw)
		if !ok {
			return nil, true, false
		}
		out.AllowedPhases = phases
		given = true
	}
	if raw, has := section["min_phase"]; has {
		n, ok := asInt(raw)
		if !ok {
			return nil, true, false
		}
		out.MinPhase = &n
		given = true
	}
	if raw, has := section["max_phase"]; has {
		n, ok := asInt(raw)
		if !ok {
			return nil, true, false
		}
		out.MaxPhase = &n
		given = true
	}
	if !given {
		return nil, true, false
	}
	if out.MinPhase != nil && out.MaxPhase != nil && *out.MinPhase > *out.MaxPhase {
		return nil, true, false
	}
	return out, true, true
}

// Permits reports whether phase satisfies every given constraint.
func (p *PhaseConstraints) Permits(phase int) bool {
	if p.AllowedPhases != nil {
		member := false
		for _, allowed := range p.AllowedPhases {
			if allowed == phase {
				member = true
				break
			}
		}
		if !member {
			return false
		}
	}
	if p.MinPhase != nil && phase < *p.MinPhase {
		return false
	}
	if p.MaxPhase != nil && phase > *p.MaxPhase {
		return false
	}
	return true
}
