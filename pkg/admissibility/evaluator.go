// Package admissibility implements the execution-attempt admissibility gate:
// a pure, read-only evaluation combining proposal state, approval state,
// arming status, and system-phase constraints into a fail-closed decision.
//
// Evaluation never writes to any ledger and depends on no wall clock beyond
// the caller-supplied evaluation time: identical requests always produce
// byte-identical decisions, including the decision fingerprint.
package admissibility

import (
	"time"

	"github.com/govkernel/warrant/pkg/approval"
	"github.com/govkernel/warrant/pkg/canonical"
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/proposal"
)

// Reason codes, in check order. Authority and scope re-checks deliberately
// share codes with the approval stage: the same policy is being re-applied.
const (
	ReasonAdmissible = "EXECUTION_ATTEMPT_ADMISSIBLE"

	ReasonEvaluationTimeRequired    = "ADMISSIBILITY_EVALUATION_TIME_REQUIRED"
	ReasonEvaluationTimeInvalid     = "ADMISSIBILITY_EVALUATION_TIME_INVALID"
	ReasonProposalNotFound          = "ADMISSIBILITY_PROPOSAL_NOT_FOUND"
	ReasonProposalStateInvalid      = "ADMISSIBILITY_PROPOSAL_STATE_INVALID"
	ReasonProposalExpired           = "ADMISSIBILITY_PROPOSAL_EXPIRED"
	ReasonApprovalIDRequired        = "ADMISSIBILITY_APPROVAL_ID_REQUIRED"
	ReasonApprovalNotFound          = "ADMISSIBILITY_APPROVAL_NOT_FOUND"
	ReasonApprovalProposalMismatch  = "ADMISSIBILITY_APPROVAL_PROPOSAL_MISMATCH"
	ReasonApprovalReferenceMismatch = "ADMISSIBILITY_APPROVAL_REFERENCE_MISMATCH"
	ReasonContextRequired           = "ADMISSIBILITY_CONTEXT_REQUIRED"
	ReasonContextProposalMismatch   = "ADMISSIBILITY_CONTEXT_PROPOSAL_MISMATCH"
	ReasonContextApprovalMismatch   = "ADMISSIBILITY_CONTEXT_APPROVAL_MISMATCH"

	ReasonValidityPolicyMissing = "APPROVAL_VALIDITY_POLICY_MISSING"
	ReasonValidityPolicyInvalid = "APPROVAL_VALIDITY_POLICY_INVALID"
	ReasonValidityScopeMismatch = "APPROVAL_VALIDITY_SCOPE_MISMATCH"
	ReasonApprovalTimeInvalid   = "APPROVAL_TIMESTAMP_INVALID"
	ReasonApprovalTimeFuture    = "APPROVAL_TIMESTAMP_FUTURE"
	ReasonApprovalStale         = "APPROVAL_STALE"

	ReasonArmingStatusMissing = "ARMING_STATUS_MISSING"
	ReasonArmingNotExplicit   = "ARMING_NOT_EXPLICIT"
	ReasonArmingIDRequired    = "ARMING_ID_REQUIRED"
	ReasonArmingFlagInvalid   = "ARMING_FLAG_INVALID"
	ReasonArmingNotArmed      = "ARMING_NOT_ARMED"

	ReasonPhaseConstraintsMissing = "PHASE_CONSTRAINTS_MISSING"
	ReasonPhaseConstraintsInvalid = "PHASE_CONSTRAINTS_INVALID"
	ReasonSystemPhaseDenied       = "SYSTEM_PHASE_DENIED"
)

// Citations is the fixed ordered list of policy sources an admissible
// decision cites.
var Citations = []string{
	"governance:approval-authority",
	"governance:approval-validity",
	"governance:execution-arming",
	"governance:system-phase",
}

// Request carries every input to an admissibility evaluation. EvaluatedAt is
// the only time the evaluation sees; there is no wall-clock dependence.
type Request struct {
	ProposalID        string              `json:"proposal_id"`
	ApprovalID        string              `json:"approval_id"`
	GovernanceContext govctx.Context      `json:"governance_context"`
	ArmingStatus      govctx.ArmingStatus `json:"execution_arming_status"`
	SystemPhase       int                 `json:"system_phase"`
	EvaluatedAt       string              `json:"evaluated_at"`
}

// Decision is the admissibility outcome. It is a value object, never
// persisted; the fingerprint digests all inputs plus the outcome.
type Decision struct {
	Admissible          bool     `json:"admissible"`
	Reason              string   `json:"reason"`
	GovernanceCitations []string `json:"governance_citations,omitempty"`
	EvaluatedAt         string   `json:"evaluated_at"`
	DecisionFingerprint string   `json:"decision_fingerprint"`
}

// Evaluator reads the proposal and approval ledgers. It holds no state of
// its own and is safe for unconstrained concurrent use.
type Evaluator struct {
	proposals *proposal.Ledger
	approvals *approval.Authority
}

// NewEvaluator creates an evaluator over the two lower ledgers.
func NewEvaluator(proposals *proposal.Ledger, approvals *approval.Authority) *Evaluator {
	return &Evaluator{proposals: proposals, approvals: approvals}
}

// Evaluate runs the ordered fail-closed check sequence. Each check
// short-circuits with its specific reason code; only a request passing every
// check is admissible.
func (e *Evaluator) Evaluate(req Request) Decision {
	if req.EvaluatedAt == "" {
		return e.refuse(req, ReasonEvaluationTimeRequired)
	}
	evalTime, err := time.Parse(time.RFC3339, req.EvaluatedAt)
	if err != nil {
		return e.refuse(req, ReasonEvaluationTimeInvalid)
	}
	evalTime = evalTime.UTC()

	prop, exists := e.proposals.GetProposal(req.ProposalID)
	if !exists {
		return e.refuse(req, ReasonProposalNotFound)
	}
	if prop.State != proposal.StateApproved {
		return e.refuse(req, ReasonProposalStateInvalid)
	}
	if prop.ExpirationTime != "" {
		expiry, err := time.Parse(time.RFC3339, prop.ExpirationTime)
		if err != nil || !evalTime.Before(expiry.UTC()) {
			return e.refuse(req, ReasonProposalExpired)
		}
	}

	if req.ApprovalID == "" {
		return e.refuse(req, ReasonApprovalIDRequired)
	}
	appr, exists := e.approvals.GetApproval(req.ApprovalID)
	if !exists {
		return e.refuse(req, ReasonApprovalNotFound)
	}
	if appr.ProposalID != prop.ProposalID {
		return e.refuse(req, ReasonApprovalProposalMismatch)
	}
	if prop.ApprovalReference == "" || appr.ApprovalReference == "" ||
		prop.ApprovalReference != appr.ApprovalReference {
		return e.refuse(req, ReasonApprovalReferenceMismatch)
	}

	if req.GovernanceContext.Empty() {
		return e.refuse(req, ReasonContextRequired)
	}
	suppliedDigest, err := req.GovernanceContext.Digest()
	if err != nil {
		return e.refuse(req, ReasonContextRequired)
	}
	propDigest, err := prop.GovernanceContext.Digest()
	if err != nil || suppliedDigest != propDigest {
		return e.refuse(req, ReasonContextProposalMismatch)
	}
	apprDigest, err := appr.GovernanceContext.Digest()
	if err != nil || suppliedDigest != apprDigest {
		return e.refuse(req, ReasonContextApprovalMismatch)
	}

	policy, ok := req.GovernanceContext.AuthorityPolicy()
	if !ok {
		return e.refuse(req, approval.ReasonAuthorityPolicyMissing)
	}
	if !policy.PermitsApprover(appr.ApproverIdentity) {
		return e.refuse(req, approval.ReasonAuthorityDenied)
	}
	if !policy.PermitsScope(appr.ApprovalScope) {
		return e.refuse(req, approval.ReasonScopeDenied)
	}

	validity, present, valid := req.GovernanceContext.ValidityPolicy()
	if !present {
		return e.refuse(req, ReasonValidityPolicyMissing)
	}
	if !valid {
		return e.refuse(req, ReasonValidityPolicyInvalid)
	}
	if validity.RequiredScope != "" && validity.RequiredScope != appr.ApprovalScope {
		return e.refuse(req, ReasonValidityScopeMismatch)
	}
	approvedAt, err := time.Parse(time.RFC3339, appr.ApprovedAt)
	if err != nil {
		return e.refuse(req, ReasonApprovalTimeInvalid)
	}
	approvedAt = approvedAt.UTC()
	if approvedAt.After(evalTime) {
		return e.refuse(req, ReasonApprovalTimeFuture)
	}
	if evalTime.Sub(approvedAt) > time.Duration(validity.MaxAgeSeconds)*time.Second {
		return e.refuse(req, ReasonApprovalStale)
	}

	if req.ArmingStatus.Empty() {
		return e.refuse(req, ReasonArmingStatusMissing)
	}
	explicit, ok := req.ArmingStatus.Explicit()
	if !ok || !explicit {
		return e.refuse(req, ReasonArmingNotExplicit)
	}
	if req.ArmingStatus.ArmingID() == "" {
		return e.refuse(req, ReasonArmingIDRequired)
	}
	armed, ok := req.ArmingStatus.Armed()
	if !ok {
		return e.refuse(req, ReasonArmingFlagInvalid)
	}
	if !armed {
		return e.refuse(req, ReasonArmingNotArmed)
	}

	constraints, present, valid := req.GovernanceContext.PhaseConstraints()
	if !present {
		return e.refuse(req, ReasonPhaseConstraintsMissing)
	}
	if !valid {
		return e.refuse(req, ReasonPhaseConstraintsInvalid)
	}
	if !constraints.Permits(req.SystemPhase) {
		return e.refuse(req, ReasonSystemPhaseDenied)
	}

	citations := make([]string, len(Citations))
	copy(citations, Citations)
	return Decision{
		Admissible:          true,
		Reason:              ReasonAdmissible,
		GovernanceCitations: citations,
		EvaluatedAt:         req.EvaluatedAt,
		DecisionFingerprint: fingerprint(req, true, ReasonAdmissible),
	}
}

func (e *Evaluator) refuse(req Request, reason string) Decision {
	return Decision{
		Admissible:          false,
		Reason:              reason,
		EvaluatedAt:         req.EvaluatedAt,
		DecisionFingerprint: fingerprint(req, false, reason),
	}
}

// fingerprint digests every evaluation input plus the outcome. A stale or
// forged fingerprint presented downstream will not reproduce.
func fingerprint(req Request, admissible bool, reason string) string {
	digest, err := canonical.Hash(map[string]any{
		"proposal_id":             req.ProposalID,
		"approval_id":             req.ApprovalID,
		"governance_context":      map[string]any(req.GovernanceContext),
		"execution_arming_status": map[string]any(req.ArmingStatus),
		"system_phase":            req.SystemPhase,
		"evaluated_at":            req.EvaluatedAt,
		"admissible":              admissible,
		"reason":                  reason,
	})
	if err != nil {
		return ""
	}
	return digest
}
