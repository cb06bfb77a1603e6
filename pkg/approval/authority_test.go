package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/proposal"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testContext() govctx.Context {
	return govctx.Context{
		"approval_authority": map[string]any{
			"authorized_approvers": []any{"gov.alpha", "gov.beta"},
			"allowed_scopes":       []any{"deploy", "migrate"},
		},
	}
}

func newFixture(t *testing.T) (*proposal.Ledger, *Authority) {
	t.Helper()
	proposals := proposal.NewLedger().WithClock(func() time.Time { return t0 })
	authority := NewAuthority(proposals).WithClock(func() time.Time { return t0 })
	return proposals, authority
}

func submittedProposal(t *testing.T, proposals *proposal.Ledger, turnID string) string {
	t.Helper()
	res := proposals.CreateProposal(proposal.IntentGovernedActionProposal, turnID, testContext(), "", "")
	require.True(t, res.OK, res.Reason)
	require.True(t, proposals.SubmitProposal(res.Proposal.ProposalID).OK)
	return res.Proposal.ProposalID
}

func TestIssueApproval_Success(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")

	res := authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", testContext(), "")
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, ReasonIssued, res.Reason)
	require.NotNil(t, res.Approval)
	assert.Equal(t, proposalID, res.Approval.ProposalID)
	assert.Equal(t, "gov.alpha", res.Approval.ApproverIdentity)
	assert.Equal(t, "ref-1", res.Approval.ApprovalReference)
	assert.NotEmpty(t, res.Approval.ApprovalID)
	require.NotNil(t, res.Record)
	assert.Equal(t, EventApprovalIssued, res.Record.EventType)

	// The proposal transitioned through the ledger, not around it.
	prop, ok := proposals.GetProposal(proposalID)
	require.True(t, ok)
	assert.Equal(t, proposal.StateApproved, prop.State)
	assert.Equal(t, "ref-1", prop.ApprovalReference)
}

func TestIssueApproval_DeterministicID(t *testing.T) {
	proposalsA, authorityA := newFixture(t)
	proposalsB, authorityB := newFixture(t)
	idA := submittedProposal(t, proposalsA, "turn-1")
	idB := submittedProposal(t, proposalsB, "turn-1")
	require.Equal(t, idA, idB, "proposal IDs are content-derived")

	at := t0.Format(time.RFC3339)
	resA := authorityA.IssueApproval(idA, "gov.alpha", "deploy", "ref-1", testContext(), at)
	resB := authorityB.IssueApproval(idB, "gov.alpha", "deploy", "ref-1", testContext(), at)
	require.True(t, resA.OK)
	require.True(t, resB.OK)
	assert.Equal(t, resA.Approval.ApprovalID, resB.Approval.ApprovalID)
}

func TestIssueApproval_RequiredFields(t *testing.T) {
	_, authority := newFixture(t)

	cases := []struct {
		name                                   string
		proposalID, approver, scope, reference string
		want                                   string
	}{
		{"proposal id", "", "gov.alpha", "deploy", "ref-1", ReasonProposalIDRequired},
		{"approver", "p-1", "", "deploy", "ref-1", ReasonApproverRequired},
		{"scope", "p-1", "gov.alpha", "", "ref-1", ReasonScopeRequired},
		{"reference", "p-1", "gov.alpha", "deploy", "", ReasonReferenceRequired},
	}
	for _, tc := range cases {
		res := authority.IssueApproval(tc.proposalID, tc.approver, tc.scope, tc.reference, testContext(), "")
		assert.False(t, res.OK, tc.name)
		assert.Equal(t, tc.want, res.Reason, tc.name)
	}
}

func TestIssueApproval_ProposalChecks(t *testing.T) {
	proposals, authority := newFixture(t)

	res := authority.IssueApproval("no-such-id", "gov.alpha", "deploy", "ref-1", testContext(), "")
	assert.Equal(t, ReasonProposalNotFound, res.Reason)

	// Drafted, not submitted.
	created := proposals.CreateProposal(proposal.IntentGovernedActionProposal, "turn-1", testContext(), "", "")
	require.True(t, created.OK)
	res = authority.IssueApproval(created.Proposal.ProposalID, "gov.alpha", "deploy", "ref-1", testContext(), "")
	assert.Equal(t, ReasonProposalStateInvalid, res.Reason)
}

func TestIssueApproval_ContextMustMatchDigestForDigest(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")

	altered := testContext()
	altered["extra_key"] = "smuggled"
	res := authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", altered, "")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonGovernanceContextMismatch, res.Reason)
}

func TestIssueApproval_AuthorityAndScope(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")

	res := authority.IssueApproval(proposalID, "gov.gamma", "deploy", "ref-1", testContext(), "")
	assert.Equal(t, ReasonAuthorityDenied, res.Reason)

	res = authority.IssueApproval(proposalID, "gov.alpha", "destroy", "ref-1", testContext(), "")
	assert.Equal(t, ReasonScopeDenied, res.Reason)
}

func TestIssueApproval_MissingAuthorityPolicy(t *testing.T) {
	bare := govctx.Context{"note": "no policy here"}
	proposals := proposal.NewLedger().WithClock(func() time.Time { return t0 })
	authority := NewAuthority(proposals).WithClock(func() time.Time { return t0 })

	created := proposals.CreateProposal(proposal.IntentGovernedActionProposal, "turn-1", bare, "", "")
	require.True(t, created.OK)
	require.True(t, proposals.SubmitProposal(created.Proposal.ProposalID).OK)

	res := authority.IssueApproval(created.Proposal.ProposalID, "gov.alpha", "deploy", "ref-1", bare, "")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonAuthorityPolicyMissing, res.Reason)
}

func TestIssueApproval_ReferenceReusedAcrossProposals(t *testing.T) {
	proposals, authority := newFixture(t)
	firstID := submittedProposal(t, proposals, "turn-1")
	secondID := submittedProposal(t, proposals, "turn-2")

	require.True(t, authority.IssueApproval(firstID, "gov.alpha", "deploy", "ref-1", testContext(), "").OK)

	res := authority.IssueApproval(secondID, "gov.beta", "deploy", "ref-1", testContext(), "")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonReferenceReused, res.Reason)

	// The second proposal was not transitioned.
	prop, _ := proposals.GetProposal(secondID)
	assert.Equal(t, proposal.StateSubmitted, prop.State)
}

func TestIssueApproval_DuplicateReferenceSameProposal(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")

	require.True(t, authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", testContext(), "").OK)

	// Same proposal, same reference, different approver: the reference is
	// already bound.
	res := authority.IssueApproval(proposalID, "gov.beta", "deploy", "ref-1", testContext(), "")
	assert.False(t, res.OK)
	assert.Equal(t, ReasonDuplicateReference, res.Reason)
}

func TestIssueApproval_TransitionRefusedIsWrapped(t *testing.T) {
	now := t0
	proposals := proposal.NewLedger().WithClock(func() time.Time { return now })
	authority := NewAuthority(proposals).WithClock(func() time.Time { return now })

	expiry := t0.Add(30 * time.Second).Format(time.RFC3339)
	created := proposals.CreateProposal(proposal.IntentGovernedActionProposal, "turn-1", testContext(), expiry, "")
	require.True(t, created.OK)
	proposalID := created.Proposal.ProposalID
	require.True(t, proposals.SubmitProposal(proposalID).OK)

	// The authority's own checks still see a submitted proposal, but the
	// ledger's expiration safety net fires inside the approve transition.
	now = t0.Add(time.Minute)
	res := authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", testContext(), now.Format(time.RFC3339))
	assert.False(t, res.OK)
	assert.Equal(t, ReasonTransitionRefusedPrefix+proposal.ReasonTerminalState, res.Reason)

	// No approval artifact was recorded.
	for _, record := range authority.Records() {
		assert.NotEqual(t, EventApprovalIssued, record.EventType)
	}
}

func TestGetApproval_ReturnsDeepCopy(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")
	res := authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", testContext(), "")
	require.True(t, res.OK)

	got, ok := authority.GetApproval(res.Approval.ApprovalID)
	require.True(t, ok)
	got.ApproverIdentity = "intruder"
	got.GovernanceContext["approval_authority"] = "overwritten"

	fresh, _ := authority.GetApproval(res.Approval.ApprovalID)
	assert.Equal(t, "gov.alpha", fresh.ApproverIdentity)
	_, isMap := fresh.GovernanceContext["approval_authority"].(map[string]any)
	assert.True(t, isMap)
}

func TestAuthority_RefusalsAreRecorded(t *testing.T) {
	_, authority := newFixture(t)
	res := authority.IssueApproval("no-such-id", "gov.alpha", "deploy", "ref-1", testContext(), "")
	require.False(t, res.OK)
	require.NotNil(t, res.Record)
	assert.Equal(t, EventApprovalRefusal, res.Record.EventType)
	assert.Equal(t, ReasonProposalNotFound, res.Record.Payload["reason"])

	ok, detail := authority.Verify()
	assert.True(t, ok, detail)
}

func TestAuthority_Reset(t *testing.T) {
	proposals, authority := newFixture(t)
	proposalID := submittedProposal(t, proposals, "turn-1")
	res := authority.IssueApproval(proposalID, "gov.alpha", "deploy", "ref-1", testContext(), "")
	require.True(t, res.OK)

	authority.Reset()
	_, ok := authority.GetApproval(res.Approval.ApprovalID)
	assert.False(t, ok)
	assert.Empty(t, authority.Records())
}
