package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioYAML = `originating_turn_id: turn-1
governance_context:
  approval_authority:
    authorized_approvers: [gov.alpha]
    allowed_scopes: [deploy]
  approval_validity:
    max_age_seconds: 600
  system_phase_constraints:
    allowed_phases: [30]
approver_identity: gov.alpha
approval_scope: deploy
approval_reference: ref-1
execution_arming_status:
  explicit: true
  armed: true
  arming_id: a1
system_phase: 30
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadScenario(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, scenarioYAML))
	require.NoError(t, err)
	assert.Equal(t, "turn-1", s.OriginatingTurnID)
	assert.Equal(t, "gov.alpha", s.ApproverIdentity)
	assert.Equal(t, 30, s.SystemPhase)
	assert.Equal(t, 300, s.WindowSeconds, "window defaults when unset")
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = LoadScenario(writeScenario(t, "::not yaml::"))
	require.Error(t, err)
}

func TestRunScenario_FullPipeline(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, scenarioYAML))
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := RunScenario(s, now)

	assert.True(t, out.Proposal.OK, out.Proposal.Reason)
	assert.True(t, out.Submission.OK, out.Submission.Reason)
	assert.True(t, out.Approval.OK, out.Approval.Reason)
	assert.True(t, out.Admissibility.Admissible, out.Admissibility.Reason)
	assert.True(t, out.Authorization.OK, out.Authorization.Reason)
	require.True(t, out.Verdict.Valid, out.Verdict.Reason)
	require.NotNil(t, out.Verdict.Envelope)
	assert.False(t, out.Verdict.Envelope.ExecutionEnabled)

	assert.True(t, out.ProposalChain)
	assert.True(t, out.ApprovalChain)
	assert.True(t, out.AuthorizationChain)
}

func TestRunScenario_RefusalTrail(t *testing.T) {
	s, err := LoadScenario(writeScenario(t, scenarioYAML))
	require.NoError(t, err)
	s.ApproverIdentity = "gov.gamma"

	out := RunScenario(s, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	assert.True(t, out.Proposal.OK)
	assert.True(t, out.Submission.OK)
	assert.False(t, out.Approval.OK)
	assert.False(t, out.Admissibility.Admissible)
	assert.False(t, out.Authorization.OK)
	assert.False(t, out.Verdict.Valid)

	// Refusals are still hash-chained audit records.
	assert.True(t, out.ApprovalChain)
	assert.True(t, out.AuthorizationChain)
}

func TestRun_ScenarioCommand(t *testing.T) {
	path := writeScenario(t, scenarioYAML)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"warrant", "scenario", path}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())

	var out ScenarioOutcome
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.Verdict.Valid, out.Verdict.Reason)
}

func TestRun_ScenarioCommand_FailureExitCode(t *testing.T) {
	broken := scenarioYAML + "window_seconds: -1\n"
	path := writeScenario(t, broken)
	var stdout, stderr bytes.Buffer

	// A negative window puts expires_at before issued_at; issuance refuses
	// and the verdict cannot be valid.
	code := Run([]string{"warrant", "scenario", path}, &stdout, &stderr)
	assert.Equal(t, 1, code)
}

func TestRun_VerifyCommand(t *testing.T) {
	path := writeScenario(t, scenarioYAML)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"warrant", "verify", path}, &stdout, &stderr)
	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "proposal-ledger: verified=true")
	assert.Contains(t, stdout.String(), "authorization-ledger: verified=true")
}

func TestRun_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, Run([]string{"warrant"}, &stdout, &stderr))
	assert.Equal(t, 2, Run([]string{"warrant", "unknown"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage:")
}
