// Package approval implements the Approval Authority: the second pipeline
// stage, which validates an approver's authority and scope against a
// proposal's governance context, transitions the proposal to approved via
// the Proposal Ledger, and issues an approval artifact on its own
// hash-chained record store.
package approval

import (
	"encoding/json"

	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
)

// Ledger event types.
const (
	EventApprovalIssued  = "approval_issued"
	EventApprovalRefusal = "approval_refusal"
)

// Reason codes returned by IssueApproval, in check order.
const (
	ReasonIssued = "APPROVAL_ISSUED"

	ReasonProposalIDRequired        = "APPROVAL_PROPOSAL_ID_REQUIRED"
	ReasonApproverRequired          = "APPROVAL_APPROVER_REQUIRED"
	ReasonScopeRequired             = "APPROVAL_SCOPE_REQUIRED"
	ReasonReferenceRequired         = "APPROVAL_REFERENCE_REQUIRED"
	ReasonApprovedAtInvalid         = "APPROVAL_APPROVED_AT_INVALID"
	ReasonProposalNotFound          = "APPROVAL_PROPOSAL_NOT_FOUND"
	ReasonProposalStateInvalid      = "APPROVAL_PROPOSAL_STATE_INVALID"
	ReasonGovernanceContextMismatch = "APPROVAL_GOVERNANCE_CONTEXT_MISMATCH"
	ReasonAuthorityPolicyMissing    = "APPROVAL_AUTHORITY_POLICY_MISSING"
	ReasonAuthorityDenied           = "APPROVAL_AUTHORITY_DENIED"
	ReasonScopeDenied               = "APPROVAL_SCOPE_DENIED"
	ReasonReferenceReused           = "APPROVAL_REFERENCE_REUSED"
	ReasonDuplicateReference        = "APPROVAL_DUPLICATE_REFERENCE"
	ReasonReplayDetected            = "APPROVAL_REPLAY_DETECTED"

	// ReasonInternalFault is the defensive refusal for unexpected internal
	// failures (canonicalization of an artifact this stage itself built).
	ReasonInternalFault = "APPROVAL_INTERNAL_FAULT"

	// ReasonTransitionRefusedPrefix wraps the Proposal Ledger's refusal code
	// when the approve transition itself is refused at the transactional
	// boundary: "APPROVAL_TRANSITION_REFUSED:<inner-code>".
	ReasonTransitionRefusedPrefix = "APPROVAL_TRANSITION_REFUSED:"
)

// Approval is the artifact binding an authorized approver to a proposal.
// GovernanceContext is copied at issuance time and is digest-equal to the
// proposal's context.
type Approval struct {
	ApprovalID        string         `json:"approval_id"`
	ProposalID        string         `json:"proposal_id"`
	ApprovedAt        string         `json:"approved_at"`
	ApproverIdentity  string         `json:"approver_identity"`
	ApprovalScope     string         `json:"approval_scope"`
	ApprovalReference string         `json:"approval_reference"`
	GovernanceContext govctx.Context `json:"governance_context"`
}

// clone returns a deep copy of the approval.
func (a *Approval) clone() *Approval {
	if a == nil {
		return nil
	}
	out := *a
	out.GovernanceContext = a.GovernanceContext.Clone()
	return &out
}

// Result is the outcome of an approval operation.
type Result struct {
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason"`
	Approval *Approval      `json:"approval,omitempty"`
	Record   *ledger.Record `json:"record,omitempty"`
}

// artifactMap renders an artifact as a generic map for ledger payloads.
func artifactMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"unmarshal_error": err.Error()}
	}
	return out
}
