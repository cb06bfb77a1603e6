// Package proposal implements the Proposal Ledger: the first pipeline stage,
// owning the proposal lifecycle (drafted → submitted → approved →
// {rejected|expired}), deterministic replay detection, and an append-only
// hash-chained record of every transition and every refused attempt.
package proposal

import (
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
)

// IntentClass is the closed classification of a proposal's intent. Only one
// value is accepted; anything else is refused at the boundary.
type IntentClass string

// IntentGovernedActionProposal is the single intent class this core governs.
const IntentGovernedActionProposal IntentClass = "governed_action_proposal"

// State is a proposal lifecycle state.
type State string

// Lifecycle states. Rejected and Expired are terminal.
const (
	StateDrafted   State = "drafted"
	StateSubmitted State = "submitted"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
)

// Terminal reports whether no further transition is permitted from s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateExpired
}

// allowedTransitions is the complete transition table. Approval never
// self-promotes to an executed state; execution is out of scope.
var allowedTransitions = map[State]map[State]bool{
	StateDrafted:   {StateSubmitted: true, StateRejected: true, StateExpired: true},
	StateSubmitted: {StateApproved: true, StateRejected: true, StateExpired: true},
	StateApproved:  {StateExpired: true},
}

// Ledger event types.
const (
	EventProposalCreated   = "proposal_created"
	EventProposalSubmitted = "proposal_submitted"
	EventProposalApproved  = "proposal_approved"
	EventProposalRejected  = "proposal_rejected"
	EventProposalExpired   = "proposal_expired"
	EventProposalRefusal   = "proposal_refusal"
)

// Reason codes returned by ledger operations.
const (
	ReasonCreated   = "PROPOSAL_CREATED"
	ReasonSubmitted = "PROPOSAL_SUBMITTED"
	ReasonApproved  = "PROPOSAL_APPROVED"
	ReasonRejected  = "PROPOSAL_REJECTED"
	ReasonExpired   = "PROPOSAL_EXPIRED"
	ReasonActive    = "PROPOSAL_ACTIVE"

	ReasonIntentClassInvalid        = "PROPOSAL_INTENT_CLASS_INVALID"
	ReasonOriginatingTurnRequired   = "PROPOSAL_ORIGINATING_TURN_REQUIRED"
	ReasonCreatedAtInvalid          = "PROPOSAL_CREATED_AT_INVALID"
	ReasonExpirationInvalid         = "PROPOSAL_EXPIRATION_INVALID"
	ReasonReplayDetected            = "PROPOSAL_REPLAY_DETECTED"
	ReasonNotFound                  = "PROPOSAL_NOT_FOUND"
	ReasonIntegrityViolation        = "PROPOSAL_INTEGRITY_VIOLATION"
	ReasonApprovalReferenceRequired = "PROPOSAL_APPROVAL_REFERENCE_REQUIRED"
	ReasonStateRegressionForbidden  = "PROPOSAL_STATE_REGRESSION_FORBIDDEN"
	ReasonTerminalState             = "PROPOSAL_TERMINAL_STATE"
)

// Proposal is the governed-action proposal artifact. Executed is permanently
// false in this core; execution is a downstream concern that never happens
// here.
type Proposal struct {
	ProposalID        string        `json:"proposal_id"`
	IntentClass       IntentClass   `json:"intent_class"`
	OriginatingTurnID string        `json:"originating_turn_id"`
	CreatedAt         string        `json:"created_at"`
	State             State         `json:"state"`
	Approved          bool          `json:"approved"`
	Executed          bool          `json:"executed"`
	ApprovalReference string        `json:"approval_reference,omitempty"`
	ExpirationTime    string        `json:"expiration_time,omitempty"`
	GovernanceContext govctx.Context `json:"governance_context"`
}

// clone returns a deep copy of the proposal.
func (p *Proposal) clone() *Proposal {
	if p == nil {
		return nil
	}
	out := *p
	out.GovernanceContext = p.GovernanceContext.Clone()
	return &out
}

// Result is the outcome of a proposal-ledger operation. Reason is always one
// of the enumerated codes; Record is the ledger entry the operation produced,
// including refusal entries.
type Result struct {
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason"`
	Proposal *Proposal      `json:"proposal,omitempty"`
	Record   *ledger.Record `json:"record,omitempty"`
}
