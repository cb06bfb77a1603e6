package authorization

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govkernel/warrant/pkg/admissibility"
	"github.com/govkernel/warrant/pkg/canonical"
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
)

// Ledger issues and re-validates authorization envelopes. Issuance
// re-derives admissibility itself rather than trusting the caller; the
// caller's fingerprint must reproduce exactly.
type Ledger struct {
	mu         sync.Mutex
	evaluator  *admissibility.Evaluator
	chain      *ledger.Chain
	envelopes  map[string]*Envelope
	digests    map[string]string
	replaySeen map[string]string
	logger     *slog.Logger
}

// NewLedger creates an authorization ledger bound to an admissibility
// evaluator.
func NewLedger(evaluator *admissibility.Evaluator) *Ledger {
	return &Ledger{
		evaluator:  evaluator,
		chain:      ledger.New("authorization-ledger"),
		envelopes:  make(map[string]*Envelope),
		digests:    make(map[string]string),
		replaySeen: make(map[string]string),
		logger:     slog.Default(),
	}
}

// WithClock overrides the record-store clock for deterministic testing.
// Issuance and validation themselves take all times as explicit inputs.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.chain.WithClock(clock)
	return l
}

// WithLogger overrides the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	l.chain.WithLogger(logger)
	return l
}

// Issue validates the request, re-runs the admissibility gate at issued_at,
// requires the freshly computed fingerprint to equal the caller-supplied one
// exactly, and on success records an envelope with authorized=true and
// execution_enabled=false.
func (l *Ledger) Issue(req IssueRequest) Result {
	if req.ProposalID == "" {
		return l.refuse(ReasonProposalIDRequired, "", nil)
	}
	if req.ApprovalID == "" {
		return l.refuse(ReasonApprovalIDRequired, req.ProposalID, nil)
	}
	if req.AdmissibilityFingerprint == "" {
		return l.refuse(ReasonFingerprintRequired, req.ProposalID, nil)
	}
	issuedAt, err := time.Parse(time.RFC3339, req.IssuedAt)
	if err != nil {
		return l.refuse(ReasonIssuedAtInvalid, req.ProposalID, map[string]any{
			"issued_at": req.IssuedAt,
		})
	}
	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		return l.refuse(ReasonExpiresAtInvalid, req.ProposalID, map[string]any{
			"expires_at": req.ExpiresAt,
		})
	}
	if !issuedAt.Before(expiresAt) {
		return l.refuse(ReasonTimeWindowInvalid, req.ProposalID, map[string]any{
			"issued_at":  req.IssuedAt,
			"expires_at": req.ExpiresAt,
		})
	}

	decision := l.evaluator.Evaluate(admissibility.Request{
		ProposalID:        req.ProposalID,
		ApprovalID:        req.ApprovalID,
		GovernanceContext: req.GovernanceContext,
		ArmingStatus:      req.ArmingStatus,
		SystemPhase:       req.SystemPhase,
		EvaluatedAt:       req.IssuedAt,
	})
	if !decision.Admissible {
		return l.refuse(ReasonAdmissibilityRefusedPrefix+decision.Reason, req.ProposalID, map[string]any{
			"inner_reason": decision.Reason,
		})
	}
	if decision.DecisionFingerprint != req.AdmissibilityFingerprint {
		return l.refuse(ReasonFingerprintMismatch, req.ProposalID, map[string]any{
			"supplied_fingerprint": req.AdmissibilityFingerprint,
			"computed_fingerprint": decision.DecisionFingerprint,
		})
	}

	replayKey, err := canonical.Hash(map[string]any{
		"proposal_id":               req.ProposalID,
		"approval_id":               req.ApprovalID,
		"governance_context":        map[string]any(req.GovernanceContext),
		"admissibility_fingerprint": req.AdmissibilityFingerprint,
		"issued_at":                 req.IssuedAt,
		"expires_at":                req.ExpiresAt,
		"execution_arming_status":   map[string]any(req.ArmingStatus),
		"system_phase":              req.SystemPhase,
	})
	if err != nil {
		return l.refuse(ReasonInternalFault, req.ProposalID, map[string]any{
			"error": err.Error(),
		})
	}

	l.mu.Lock()
	if priorID, seen := l.replaySeen[replayKey]; seen {
		l.mu.Unlock()
		return l.refuse(ReasonReplayDetected, req.ProposalID, map[string]any{
			"replay_key":       replayKey,
			"authorization_id": priorID,
		})
	}
	l.mu.Unlock()

	idDigest, err := canonical.Hash(map[string]any{
		"proposal_id":               req.ProposalID,
		"approval_id":               req.ApprovalID,
		"issued_at":                 req.IssuedAt,
		"expires_at":                req.ExpiresAt,
		"governance_context":        map[string]any(req.GovernanceContext),
		"admissibility_fingerprint": req.AdmissibilityFingerprint,
	})
	if err != nil {
		return l.refuse(ReasonInternalFault, req.ProposalID, map[string]any{
			"error": err.Error(),
		})
	}

	envelope := &Envelope{
		AuthorizationID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(idDigest)).String(),
		ProposalID:               req.ProposalID,
		ApprovalID:               req.ApprovalID,
		IssuedAt:                 req.IssuedAt,
		ExpiresAt:                req.ExpiresAt,
		GovernanceContext:        req.GovernanceContext.Clone(),
		AdmissibilityFingerprint: req.AdmissibilityFingerprint,
		Authorized:               true,
		ExecutionEnabled:         false,
	}
	// Structural invariant, re-checked after construction: this core never
	// emits permission to execute.
	if envelope.ExecutionEnabled {
		l.logger.Error("envelope constructed with execution_enabled=true",
			"authorization_id", envelope.AuthorizationID)
		return l.refuse(ReasonExecutionEnabledViolation, req.ProposalID, map[string]any{
			"authorization_id": envelope.AuthorizationID,
		})
	}

	envelopeDigest, err := canonical.Hash(envelope)
	if err != nil {
		return l.refuse(ReasonInternalFault, req.ProposalID, map[string]any{
			"error": err.Error(),
		})
	}

	l.mu.Lock()
	l.envelopes[envelope.AuthorizationID] = envelope
	l.digests[envelope.AuthorizationID] = envelopeDigest
	l.replaySeen[replayKey] = envelope.AuthorizationID
	l.mu.Unlock()

	record, err := l.chain.Append(EventAuthorizationIssued, envelope.AuthorizationID, map[string]any{
		"envelope":        artifactMap(envelope),
		"envelope_digest": envelopeDigest,
		"replay_key":      replayKey,
	})
	if err != nil {
		return Result{OK: false, Reason: ReasonInternalFault}
	}
	return Result{OK: true, Reason: ReasonIssued, Envelope: envelope.clone(), Record: record}
}

// Validate re-checks an issued envelope. It recomputes the stored envelope
// digest, re-derives the issuance-time admissibility fingerprint, and
// re-runs admissibility at the current evaluation time: an authorization is
// only valid while its underlying grounds still hold. Read-only.
func (l *Ledger) Validate(authorizationID string, governanceContext govctx.Context, armingStatus govctx.ArmingStatus, systemPhase int, evaluatedAt string) Verdict {
	if authorizationID == "" {
		return Verdict{Valid: false, Reason: ReasonIDRequired, EvaluatedAt: evaluatedAt}
	}
	evalTime, err := time.Parse(time.RFC3339, evaluatedAt)
	if err != nil {
		return l.invalid(authorizationID, evaluatedAt, ReasonEvaluationTimeInvalid)
	}
	evalTime = evalTime.UTC()

	l.mu.Lock()
	stored, exists := l.envelopes[authorizationID]
	storedDigest := l.digests[authorizationID]
	l.mu.Unlock()
	if !exists {
		return l.invalid(authorizationID, evaluatedAt, ReasonNotFound)
	}
	envelope := stored.clone()

	computedDigest, err := canonical.Hash(envelope)
	if err != nil || computedDigest != storedDigest {
		l.logger.Error("envelope digest mismatch",
			"authorization_id", authorizationID,
			"stored", storedDigest, "computed", computedDigest)
		return l.invalid(authorizationID, evaluatedAt, ReasonIntegrityViolation)
	}
	if envelope.ExecutionEnabled {
		return l.invalid(authorizationID, evaluatedAt, ReasonExecutionEnabledViolation)
	}
	if !envelope.Authorized {
		return l.invalid(authorizationID, evaluatedAt, ReasonNotAuthorized)
	}

	suppliedDigest, err := governanceContext.Digest()
	if err != nil {
		return l.invalid(authorizationID, evaluatedAt, ReasonContextMismatch)
	}
	envelopeCtxDigest, err := envelope.GovernanceContext.Digest()
	if err != nil || suppliedDigest != envelopeCtxDigest {
		return l.invalid(authorizationID, evaluatedAt, ReasonContextMismatch)
	}

	issuedAt, err := time.Parse(time.RFC3339, envelope.IssuedAt)
	if err != nil {
		return l.invalid(authorizationID, evaluatedAt, ReasonIntegrityViolation)
	}
	expiresAt, err := time.Parse(time.RFC3339, envelope.ExpiresAt)
	if err != nil {
		return l.invalid(authorizationID, evaluatedAt, ReasonIntegrityViolation)
	}
	if evalTime.Before(issuedAt.UTC()) {
		return l.invalid(authorizationID, evaluatedAt, ReasonNotYetActive)
	}
	if !evalTime.Before(expiresAt.UTC()) {
		return l.invalid(authorizationID, evaluatedAt, ReasonExpired)
	}

	// Re-derive the admissibility fingerprint at issuance time. Divergence
	// from the embedded fingerprint means the historical record, or the
	// inputs presented now, have been tampered with.
	issuanceDecision := l.evaluator.Evaluate(admissibility.Request{
		ProposalID:        envelope.ProposalID,
		ApprovalID:        envelope.ApprovalID,
		GovernanceContext: governanceContext,
		ArmingStatus:      armingStatus,
		SystemPhase:       systemPhase,
		EvaluatedAt:       envelope.IssuedAt,
	})
	if issuanceDecision.DecisionFingerprint != envelope.AdmissibilityFingerprint {
		return l.invalid(authorizationID, evaluatedAt, ReasonFingerprintMismatch)
	}

	// An envelope is only valid if its grounds still hold right now, not
	// merely at issuance.
	currentDecision := l.evaluator.Evaluate(admissibility.Request{
		ProposalID:        envelope.ProposalID,
		ApprovalID:        envelope.ApprovalID,
		GovernanceContext: governanceContext,
		ArmingStatus:      armingStatus,
		SystemPhase:       systemPhase,
		EvaluatedAt:       evaluatedAt,
	})
	if !currentDecision.Admissible {
		return l.invalid(authorizationID, evaluatedAt,
			ReasonAdmissibilityInvalidPrefix+currentDecision.Reason)
	}

	return Verdict{
		Valid:           true,
		Reason:          ReasonValid,
		AuthorizationID: authorizationID,
		EvaluatedAt:     evaluatedAt,
		Envelope:        envelope,
	}
}

// GetAuthorization returns a deep copy of the envelope, if present.
func (l *Ledger) GetAuthorization(authorizationID string) (*Envelope, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	envelope, exists := l.envelopes[authorizationID]
	if !exists {
		return nil, false
	}
	return envelope.clone(), true
}

// Records returns the full ordered record chain.
func (l *Ledger) Records() []ledger.Record {
	return l.chain.Records()
}

// Verify recomputes the full record chain.
func (l *Ledger) Verify() (bool, string) {
	return l.chain.Verify()
}

// Reset discards all state. Intended for test isolation only.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.envelopes = make(map[string]*Envelope)
	l.digests = make(map[string]string)
	l.replaySeen = make(map[string]string)
	l.chain.Reset()
}

func (l *Ledger) invalid(authorizationID, evaluatedAt, reason string) Verdict {
	return Verdict{
		Valid:           false,
		Reason:          reason,
		AuthorizationID: authorizationID,
		EvaluatedAt:     evaluatedAt,
	}
}

// refuse appends a refusal record and returns the failed result.
func (l *Ledger) refuse(reason, subjectID string, detail map[string]any) Result {
	payload := map[string]any{"reason": reason}
	for k, v := range detail {
		payload[k] = v
	}
	record, err := l.chain.Append(EventAuthorizationRefusal, subjectID, payload)
	if err != nil {
		return Result{OK: false, Reason: reason}
	}
	return Result{OK: false, Reason: reason, Record: record}
}
