// Package authorization implements the execution authorization envelope
// ledger: the final pipeline stage, issuing short-lived, context-bound
// envelopes only when a caller-supplied admissibility fingerprint is
// independently reproduced, and re-validating envelopes on demand.
//
// An envelope is proof that admissibility held at issuance. It is never a
// grant of execution: execution_enabled is structurally false and checked
// defensively at every boundary.
package authorization

import (
	"encoding/json"

	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
)

// Ledger event types.
const (
	EventAuthorizationIssued  = "authorization_issued"
	EventAuthorizationRefusal = "authorization_refusal"
)

// Reason codes for issuance, in check order.
const (
	ReasonIssued = "AUTHORIZATION_ISSUED"

	ReasonProposalIDRequired  = "AUTHORIZATION_PROPOSAL_ID_REQUIRED"
	ReasonApprovalIDRequired  = "AUTHORIZATION_APPROVAL_ID_REQUIRED"
	ReasonFingerprintRequired = "AUTHORIZATION_FINGERPRINT_REQUIRED"
	ReasonIssuedAtInvalid     = "AUTHORIZATION_ISSUED_AT_INVALID"
	ReasonExpiresAtInvalid    = "AUTHORIZATION_EXPIRES_AT_INVALID"
	ReasonTimeWindowInvalid   = "AUTHORIZATION_TIME_WINDOW_INVALID"
	ReasonFingerprintMismatch = "AUTHORIZATION_ADMISSIBILITY_FINGERPRINT_MISMATCH"
	ReasonReplayDetected      = "AUTHORIZATION_REPLAY_DETECTED"

	// ReasonExecutionEnabledViolation is the defensive refusal for the
	// internal fault of an envelope carrying execution_enabled=true. It is
	// refused, never returned to the caller as a built envelope.
	ReasonExecutionEnabledViolation = "AUTHORIZATION_EXECUTION_ENABLED_VIOLATION"

	// ReasonAdmissibilityRefusedPrefix wraps the gate's refusal code when
	// issuance-time admissibility fails:
	// "AUTHORIZATION_ADMISSIBILITY_REFUSED:<inner-reason>".
	ReasonAdmissibilityRefusedPrefix = "AUTHORIZATION_ADMISSIBILITY_REFUSED:"

	ReasonInternalFault = "AUTHORIZATION_INTERNAL_FAULT"
)

// Reason codes for validation, in check order.
const (
	ReasonValid = "AUTHORIZATION_VALID"

	ReasonIDRequired            = "AUTHORIZATION_ID_REQUIRED"
	ReasonEvaluationTimeInvalid = "AUTHORIZATION_EVALUATION_TIME_INVALID"
	ReasonNotFound              = "AUTHORIZATION_NOT_FOUND"
	ReasonIntegrityViolation    = "AUTHORIZATION_INTEGRITY_VIOLATION"
	ReasonNotAuthorized         = "AUTHORIZATION_NOT_AUTHORIZED"
	ReasonContextMismatch       = "AUTHORIZATION_CONTEXT_MISMATCH"
	ReasonNotYetActive          = "AUTHORIZATION_NOT_YET_ACTIVE"
	ReasonExpired               = "AUTHORIZATION_EXPIRED"

	// ReasonAdmissibilityInvalidPrefix wraps the gate's refusal code when
	// the envelope's grounds no longer hold at validation time:
	// "AUTHORIZATION_ADMISSIBILITY_INVALID:<reason>".
	ReasonAdmissibilityInvalidPrefix = "AUTHORIZATION_ADMISSIBILITY_INVALID:"
)

// Envelope is a time-bound, context-bound authorization artifact.
// ExecutionEnabled is always false; a true value is treated as an internal
// fault, never returned.
type Envelope struct {
	AuthorizationID          string         `json:"authorization_id"`
	ProposalID               string         `json:"proposal_id"`
	ApprovalID               string         `json:"approval_id"`
	IssuedAt                 string         `json:"issued_at"`
	ExpiresAt                string         `json:"expires_at"`
	GovernanceContext        govctx.Context `json:"governance_context"`
	AdmissibilityFingerprint string         `json:"admissibility_fingerprint"`
	Authorized               bool           `json:"authorized"`
	ExecutionEnabled         bool           `json:"execution_enabled"`
}

// clone returns a deep copy of the envelope.
func (e *Envelope) clone() *Envelope {
	if e == nil {
		return nil
	}
	out := *e
	out.GovernanceContext = e.GovernanceContext.Clone()
	return &out
}

// IssueRequest carries every input to envelope issuance.
type IssueRequest struct {
	ProposalID               string              `json:"proposal_id"`
	ApprovalID               string              `json:"approval_id"`
	GovernanceContext        govctx.Context      `json:"governance_context"`
	AdmissibilityFingerprint string              `json:"admissibility_fingerprint"`
	IssuedAt                 string              `json:"issued_at"`
	ExpiresAt                string              `json:"expires_at"`
	ArmingStatus             govctx.ArmingStatus `json:"execution_arming_status"`
	SystemPhase              int                 `json:"system_phase"`
}

// Result is the outcome of an issuance attempt.
type Result struct {
	OK       bool           `json:"ok"`
	Reason   string         `json:"reason"`
	Envelope *Envelope      `json:"envelope,omitempty"`
	Record   *ledger.Record `json:"record,omitempty"`
}

// Verdict is the outcome of validating an issued envelope. Validation is
// read-only: identical inputs always yield identical verdicts.
type Verdict struct {
	Valid           bool      `json:"valid"`
	Reason          string    `json:"reason"`
	AuthorizationID string    `json:"authorization_id,omitempty"`
	EvaluatedAt     string    `json:"evaluated_at,omitempty"`
	Envelope        *Envelope `json:"envelope,omitempty"`
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
