package approval

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govkernel/warrant/pkg/canonical"
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
	"github.com/govkernel/warrant/pkg/proposal"
)

// Authority validates and records approvals. It writes to the Proposal
// Ledger only through ApproveProposal, never directly, and holds no lock of
// its own across that call.
type Authority struct {
	mu             sync.Mutex
	proposals      *proposal.Ledger
	chain          *ledger.Chain
	approvals      map[string]*Approval
	referenceOwner map[string]string
	replaySeen     map[string]string
	digests        map[string]string
	clock          func() time.Time
	logger         *slog.Logger
}

// NewAuthority creates an approval authority bound to a proposal ledger.
func NewAuthority(proposals *proposal.Ledger) *Authority {
	return &Authority{
		proposals:      proposals,
		chain:          ledger.New("approval-ledger"),
		approvals:      make(map[string]*Approval),
		referenceOwner: make(map[string]string),
		replaySeen:     make(map[string]string),
		digests:        make(map[string]string),
		clock:          time.Now,
		logger:         slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (a *Authority) WithClock(clock func() time.Time) *Authority {
	a.clock = clock
	a.chain.WithClock(clock)
	return a
}

// WithLogger overrides the logger.
func (a *Authority) WithLogger(logger *slog.Logger) *Authority {
	a.logger = logger
	a.chain.WithLogger(logger)
	return a
}

// IssueApproval runs the ordered fail-closed check sequence and, if every
// check passes, transitions the proposal to approved and records the
// approval artifact. Every refused attempt appends a refusal record with its
// reason code. approvedAt is an optional RFC 3339 timestamp.
func (a *Authority) IssueApproval(proposalID, approverIdentity, approvalScope, approvalReference string, governanceContext govctx.Context, approvedAt string) Result {
	if proposalID == "" {
		return a.refuse(ReasonProposalIDRequired, "", nil)
	}
	if approverIdentity == "" {
		return a.refuse(ReasonApproverRequired, proposalID, nil)
	}
	if approvalScope == "" {
		return a.refuse(ReasonScopeRequired, proposalID, nil)
	}
	if approvalReference == "" {
		return a.refuse(ReasonReferenceRequired, proposalID, nil)
	}
	if approvedAt == "" {
		approvedAt = a.clock().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, approvedAt); err != nil {
		return a.refuse(ReasonApprovedAtInvalid, proposalID, map[string]any{
			"approved_at": approvedAt,
		})
	}

	prop, exists := a.proposals.GetProposal(proposalID)
	if !exists {
		return a.refuse(ReasonProposalNotFound, proposalID, nil)
	}
	if prop.State != proposal.StateSubmitted {
		return a.refuse(ReasonProposalStateInvalid, proposalID, map[string]any{
			"state": string(prop.State),
		})
	}

	suppliedDigest, err := governanceContext.Digest()
	if err != nil {
		return a.refuse(ReasonInternalFault, proposalID, map[string]any{
			"error": err.Error(),
		})
	}
	storedDigest, err := prop.GovernanceContext.Digest()
	if err != nil || suppliedDigest != storedDigest {
		return a.refuse(ReasonGovernanceContextMismatch, proposalID, map[string]any{
			"supplied_digest": suppliedDigest,
			"stored_digest":   storedDigest,
		})
	}

	policy, ok := governanceContext.AuthorityPolicy()
	if !ok {
		return a.refuse(ReasonAuthorityPolicyMissing, proposalID, nil)
	}
	if !policy.PermitsApprover(approverIdentity) {
		return a.refuse(ReasonAuthorityDenied, proposalID, map[string]any{
			"approver_identity": approverIdentity,
		})
	}
	if !policy.PermitsScope(approvalScope) {
		return a.refuse(ReasonScopeDenied, proposalID, map[string]any{
			"approval_scope": approvalScope,
		})
	}

	replayKey, err := canonical.Hash(map[string]any{
		"proposal_id":        proposalID,
		"approver_identity":  approverIdentity,
		"approval_scope":     approvalScope,
		"approval_reference": approvalReference,
		"governance_context": map[string]any(governanceContext),
		"approved_at":        approvedAt,
	})
	if err != nil {
		return a.refuse(ReasonInternalFault, proposalID, map[string]any{
			"error": err.Error(),
		})
	}

	a.mu.Lock()
	if owner, bound := a.referenceOwner[approvalReference]; bound {
		a.mu.Unlock()
		if owner != proposalID {
			return a.refuse(ReasonReferenceReused, proposalID, map[string]any{
				"approval_reference": approvalReference,
				"bound_proposal_id":  owner,
			})
		}
		return a.refuse(ReasonDuplicateReference, proposalID, map[string]any{
			"approval_reference": approvalReference,
		})
	}
	if priorID, seen := a.replaySeen[replayKey]; seen {
		a.mu.Unlock()
		res := a.refuse(ReasonReplayDetected, proposalID, map[string]any{
			"replay_key":  replayKey,
			"approval_id": priorID,
		})
		return res
	}
	a.mu.Unlock()

	// Transactional boundary: the proposal transition happens first; if the
	// Proposal Ledger refuses it, no approval artifact is recorded.
	transition := a.proposals.ApproveProposal(proposalID, approvalReference)
	if !transition.OK {
		return a.refuse(ReasonTransitionRefusedPrefix+transition.Reason, proposalID, map[string]any{
			"inner_reason": transition.Reason,
		})
	}

	artifact := &Approval{
		ApprovalID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(replayKey)).String(),
		ProposalID:        proposalID,
		ApprovedAt:        approvedAt,
		ApproverIdentity:  approverIdentity,
		ApprovalScope:     approvalScope,
		ApprovalReference: approvalReference,
		GovernanceContext: governanceContext.Clone(),
	}
	digest, err := canonical.Hash(artifact)
	if err != nil {
		return a.refuse(ReasonInternalFault, proposalID, map[string]any{
			"error": err.Error(),
		})
	}

	a.mu.Lock()
	a.approvals[artifact.ApprovalID] = artifact
	a.referenceOwner[approvalReference] = proposalID
	a.replaySeen[replayKey] = artifact.ApprovalID
	a.digests[artifact.ApprovalID] = digest
	a.mu.Unlock()

	record, err := a.chain.Append(EventApprovalIssued, artifact.ApprovalID, map[string]any{
		"approval":        artifactMap(artifact),
		"artifact_digest": digest,
		"replay_key":      replayKey,
	})
	if err != nil {
		return Result{OK: false, Reason: ReasonInternalFault}
	}
	return Result{OK: true, Reason: ReasonIssued, Approval: artifact.clone(), Record: record}
}

// GetApproval returns a deep copy of the approval, if present. Mutating the
// returned artifact never affects ledger state.
func (a *Authority) GetApproval(approvalID string) (*Approval, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	artifact, exists := a.approvals[approvalID]
	if !exists {
		return nil, false
	}
	return artifact.clone(), true
}

// Records returns the full ordered record chain.
func (a *Authority) Records() []ledger.Record {
	return a.chain.Records()
}

// Verify recomputes the full record chain.
func (a *Authority) Verify() (bool, string) {
	return a.chain.Verify()
}

// Reset discards all state. Intended for test isolation only.
func (a *Authority) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approvals = make(map[string]*Approval)
	a.referenceOwner = make(map[string]string)
	a.replaySeen = make(map[string]string)
	a.digests = make(map[string]string)
	a.chain.Reset()
}

// refuse appends a refusal record and returns the failed result.
func (a *Authority) refuse(reason, subjectID string, detail map[string]any) Result {
	payload := map[string]any{"reason": reason}
	for k, v := range detail {
		payload[k] = v
	}
	record, err := a.chain.Append(EventApprovalRefusal, subjectID, payload)
	if err != nil {
		return Result{OK: false, Reason: reason}
	}
	return Result{OK: false, Reason: reason, Record: record}
}
