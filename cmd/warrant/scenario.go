package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/govkernel/warrant/pkg/admissibility"
	"github.com/govkernel/warrant/pkg/approval"
	"github.com/govkernel/warrant/pkg/authorization"
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/proposal"
)

// Scenario describes one end-to-end pipeline run: draft, submit, approve,
// evaluate admissibility, issue an authorization, validate it.
type Scenario struct {
	OriginatingTurnID string         `yaml:"originating_turn_id"`
	ExpirationTime    string         `yaml:"expiration_time"`
	GovernanceContext map[string]any `yaml:"governance_context"`

	ApproverIdentity  string `yaml:"approver_identity"`
	ApprovalScope     string `yaml:"approval_scope"`
	ApprovalReference string `yaml:"approval_reference"`

	ExecutionArmingStatus map[string]any `yaml:"execution_arming_status"`
	SystemPhase           int            `yaml:"system_phase"`

	// WindowSeconds sizes the authorization validity window. Zero means 300.
	WindowSeconds int `yaml:"window_seconds"`
}

// LoadScenario reads and decodes a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if s.WindowSeconds == 0 {
		s.WindowSeconds = 300
	}
	return &s, nil
}

// ScenarioOutcome collects the result of every stage.
type ScenarioOutcome struct {
	Proposal      proposal.Result        `json:"proposal"`
	Submission    proposal.Result        `json:"submission"`
	Approval      approval.Result        `json:"approval"`
	Admissibility admissibility.Decision `json:"admissibility"`
	Authorization authorization.Result   `json:"authorization"`
	Verdict       authorization.Verdict  `json:"verdict"`

	ProposalChain      bool `json:"proposal_chain_verified"`
	ApprovalChain      bool `json:"approval_chain_verified"`
	AuthorizationChain bool `json:"authorization_chain_verified"`
}

// RunScenario drives the four stages against fresh ledgers, anchored at now.
// Every stage runs even after an upstream refusal so the outcome shows the
// full refusal trail.
func RunScenario(s *Scenario, now time.Time) *ScenarioOutcome {
	now = now.UTC()
	at := func(offset time.Duration) string {
		return now.Add(offset).Format(time.RFC3339)
	}

	proposals := proposal.NewLedger().WithClock(func() time.Time { return now })
	authority := approval.NewAuthority(proposals).WithClock(func() time.Time { return now })
	evaluator := admissibility.NewEvaluator(proposals, authority)
	authorizations := authorization.NewLedger(evaluator).WithClock(func() time.Time { return now })

	out := &ScenarioOutcome{}
	ctx := govctx.Context(s.GovernanceContext)
	arming := govctx.ArmingStatus(s.ExecutionArmingStatus)

	out.Proposal = proposals.CreateProposal(
		proposal.IntentGovernedActionProposal, s.OriginatingTurnID, ctx,
		s.ExpirationTime, at(0))

	proposalID := ""
	if out.Proposal.Proposal != nil {
		proposalID = out.Proposal.Proposal.ProposalID
	}
	out.Submission = proposals.SubmitProposal(proposalID)
	out.Approval = authority.IssueApproval(
		proposalID, s.ApproverIdentity, s.ApprovalScope, s.ApprovalReference,
		ctx, at(0))

	approvalID := ""
	if out.Approval.Approval != nil {
		approvalID = out.Approval.Approval.ApprovalID
	}
	out.Admissibility = evaluator.Evaluate(admissibility.Request{
		ProposalID:        proposalID,
		ApprovalID:        approvalID,
		GovernanceContext: ctx,
		ArmingStatus:      arming,
		SystemPhase:       s.SystemPhase,
		EvaluatedAt:       at(0),
	})

	out.Authorization = authorizations.Issue(authorization.IssueRequest{
		ProposalID:               proposalID,
		ApprovalID:               approvalID,
		GovernanceContext:        ctx,
		AdmissibilityFingerprint: out.Admissibility.DecisionFingerprint,
		IssuedAt:                 at(0),
		ExpiresAt:                at(time.Duration(s.WindowSeconds) * time.Second),
		ArmingStatus:             arming,
		SystemPhase:              s.SystemPhase,
	})

	authorizationID := ""
	if out.Authorization.Envelope != nil {
		authorizationID = out.Authorization.Envelope.AuthorizationID
	}
	out.Verdict = authorizations.Validate(authorizationID, ctx, arming, s.SystemPhase, at(time.Second))

	out.ProposalChain, _ = proposals.Verify()
	out.ApprovalChain, _ = authority.Verify()
	out.AuthorizationChain, _ = authorizations.Verify()
	return out
}
