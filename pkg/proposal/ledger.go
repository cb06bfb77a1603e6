package proposal

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/govkernel/warrant/pkg/canonical"
	"github.com/govkernel/warrant/pkg/govctx"
	"github.com/govkernel/warrant/pkg/ledger"
)

// Ledger owns proposal lifecycle state and its hash-chained record store.
// Proposals are never deleted; terminal proposals are immutable.
type Ledger struct {
	mu          sync.Mutex
	chain       *ledger.Chain
	proposals   map[string]*Proposal
	byReplayKey map[string]string
	digests     map[string]string
	clock       func() time.Time
	logger      *slog.Logger
}

// NewLedger creates an empty proposal ledger.
func NewLedger() *Ledger {
	return &Ledger{
		chain:       ledger.New("proposal-ledger"),
		proposals:   make(map[string]*Proposal),
		byReplayKey: make(map[string]string),
		digests:     make(map[string]string),
		clock:       time.Now,
		logger:      slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	l.chain.WithClock(clock)
	return l
}

// WithLogger overrides the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	l.chain.WithLogger(logger)
	return l
}

// CreateProposal drafts a new proposal. Identical inputs are recognized as a
// replay of the existing proposal rather than duplicated: the second call
// refuses with ReasonReplayDetected and appends only a refusal record.
// createdAt and expirationTime are optional RFC 3339 timestamps; a blank
// createdAt defaults to the ledger clock.
func (l *Ledger) CreateProposal(intentClass IntentClass, originatingTurnID string, governanceContext govctx.Context, expirationTime, createdAt string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if intentClass != IntentGovernedActionProposal {
		return l.refuse(ReasonIntentClassInvalid, string(intentClass), map[string]any{
			"intent_class": string(intentClass),
		})
	}
	if originatingTurnID == "" {
		return l.refuse(ReasonOriginatingTurnRequired, "", nil)
	}
	if createdAt == "" {
		createdAt = l.clock().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, createdAt); err != nil {
		return l.refuse(ReasonCreatedAtInvalid, originatingTurnID, map[string]any{
			"created_at": createdAt,
		})
	}
	if expirationTime != "" {
		if _, err := time.Parse(time.RFC3339, expirationTime); err != nil {
			return l.refuse(ReasonExpirationInvalid, originatingTurnID, map[string]any{
				"expiration_time": expirationTime,
			})
		}
	}

	replayKey, err := canonical.Hash(map[string]any{
		"intent_class":        string(intentClass),
		"originating_turn_id": originatingTurnID,
		"governance_context":  map[string]any(governanceContext),
		"expiration_time":     expirationTime,
	})
	if err != nil {
		return l.refuse(ReasonIntegrityViolation, originatingTurnID, map[string]any{
			"error": err.Error(),
		})
	}

	if existingID, seen := l.byReplayKey[replayKey]; seen {
		existing := l.proposals[existingID]
		res := l.refuse(ReasonReplayDetected, existingID, map[string]any{
			"replay_key":  replayKey,
			"proposal_id": existingID,
		})
		res.Proposal = existing.clone()
		return res
	}

	p := &Proposal{
		ProposalID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(replayKey)).String(),
		IntentClass:       intentClass,
		OriginatingTurnID: originatingTurnID,
		CreatedAt:         createdAt,
		State:             StateDrafted,
		GovernanceContext: governanceContext.Clone(),
		ExpirationTime:    expirationTime,
	}

	digest, err := contentDigest(p)
	if err != nil {
		return l.refuse(ReasonIntegrityViolation, p.ProposalID, map[string]any{
			"error": err.Error(),
		})
	}

	l.proposals[p.ProposalID] = p
	l.byReplayKey[replayKey] = p.ProposalID
	l.digests[p.ProposalID] = digest

	record, err := l.chain.Append(EventProposalCreated, p.ProposalID, map[string]any{
		"proposal":        artifactMap(p),
		"artifact_digest": digest,
		"replay_key":      replayKey,
	})
	if err != nil {
		return Result{OK: false, Reason: ReasonIntegrityViolation}
	}
	return Result{OK: true, Reason: ReasonCreated, Proposal: p.clone(), Record: record}
}

// SubmitProposal transitions drafted → submitted.
func (l *Ledger) SubmitProposal(proposalID string) Result {
	return l.transition(proposalID, StateSubmitted, EventProposalSubmitted, ReasonSubmitted, nil, nil)
}

// ApproveProposal transitions submitted → approved, binding the approval
// reference. This is the only entry point the Approval Authority uses.
func (l *Ledger) ApproveProposal(proposalID, approvalReference string) Result {
	if approvalReference == "" {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.refuse(ReasonApprovalReferenceRequired, proposalID, nil)
	}
	return l.transition(proposalID, StateApproved, EventProposalApproved, ReasonApproved,
		func(p *Proposal) {
			p.Approved = true
			p.ApprovalReference = approvalReference
		},
		map[string]any{"approval_reference": approvalReference})
}

// RejectProposal transitions any non-terminal state to rejected.
func (l *Ledger) RejectProposal(proposalID, rejectionReason string) Result {
	var extra map[string]any
	if rejectionReason != "" {
		extra = map[string]any{"rejection_reason": rejectionReason}
	}
	return l.transition(proposalID, StateRejected, EventProposalRejected, ReasonRejected, nil, extra)
}

// ExpireProposal transitions any non-terminal state to expired.
func (l *Ledger) ExpireProposal(proposalID, trigger string) Result {
	var extra map[string]any
	if trigger != "" {
		extra = map[string]any{"trigger": trigger}
	}
	return l.transition(proposalID, StateExpired, EventProposalExpired, ReasonExpired, nil, extra)
}

// EnforceExpiration checks whether the proposal's expiration time has
// elapsed relative to nowISO (blank: the ledger clock) and, if so, performs
// the expired transition as a side effect. Otherwise the proposal is
// returned unchanged.
func (l *Ledger) EnforceExpiration(proposalID, nowISO string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.proposals[proposalID]
	if !exists {
		return l.refuse(ReasonNotFound, proposalID, nil)
	}

	now := l.clock().UTC()
	if nowISO != "" {
		parsed, err := time.Parse(time.RFC3339, nowISO)
		if err != nil {
			return l.refuse(ReasonExpirationInvalid, proposalID, map[string]any{
				"now": nowISO,
			})
		}
		now = parsed.UTC()
	}

	if record, expired := l.enforceExpirationLocked(p, now); expired {
		return Result{OK: true, Reason: ReasonExpired, Proposal: p.clone(), Record: record}
	}
	return Result{OK: true, Reason: ReasonActive, Proposal: p.clone()}
}

// GetProposal returns a deep copy of the proposal, if present.
func (l *Ledger) GetProposal(proposalID string) (*Proposal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.proposals[proposalID]
	if !exists {
		return nil, false
	}
	return p.clone(), true
}

// ContentDigest returns the creation-time artifact digest recorded for the
// proposal. Downstream stages use it for integrity cross-checks.
func (l *Ledger) ContentDigest(proposalID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, exists := l.digests[proposalID]
	return d, exists
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
	l.proposals = make(map[string]*Proposal)
	l.byReplayKey = make(map[string]string)
	l.digests = make(map[string]string)
	l.chain.Reset()
}

// transition applies the lifecycle state machine to a single proposal. The
// expiration safety net runs before every attempt; the stored artifact is
// integrity-checked against its creation digest before any state change.
func (l *Ledger) transition(proposalID string, target State, eventType, successReason string, mutate func(*Proposal), extra map[string]any) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, exists := l.proposals[proposalID]
	if !exists {
		return l.refuse(ReasonNotFound, proposalID, map[string]any{
			"requested_state": string(target),
		})
	}

	if record, expired := l.enforceExpirationLocked(p, l.clock().UTC()); expired && target == StateExpired {
		return Result{OK: true, Reason: ReasonExpired, Proposal: p.clone(), Record: record}
	}

	digest, err := contentDigest(p)
	if err != nil || digest != l.digests[proposalID] {
		l.logger.Error("proposal artifact digest mismatch",
			"proposal_id", proposalID, "stored", l.digests[proposalID], "computed", digest)
		return l.refuse(ReasonIntegrityViolation, proposalID, map[string]any{
			"stored_digest":   l.digests[proposalID],
			"computed_digest": digest,
		})
	}

	if p.State.Terminal() {
		return l.refuse(ReasonTerminalState, proposalID, map[string]any{
			"state":           string(p.State),
			"requested_state": string(target),
		})
	}
	if !allowedTransitions[p.State][target] {
		return l.refuse(ReasonStateRegressionForbidden, proposalID, map[string]any{
			"state":           string(p.State),
			"requested_state": string(target),
		})
	}

	if mutate != nil {
		mutate(p)
	}
	p.State = target

	payload := map[string]any{
		"proposal":        artifactMap(p),
		"artifact_digest": l.digests[proposalID],
	}
	for k, v := range extra {
		payload[k] = v
	}
	record, err := l.chain.Append(eventType, proposalID, payload)
	if err != nil {
		return Result{OK: false, Reason: ReasonIntegrityViolation}
	}
	return Result{OK: true, Reason: successReason, Proposal: p.clone(), Record: record}
}

// enforceExpirationLocked expires the proposal in place when its expiration
// time has elapsed. Terminal proposals are left untouched. The caller holds
// the ledger lock.
func (l *Ledger) enforceExpirationLocked(p *Proposal, now time.Time) (*ledger.Record, bool) {
	if p.State.Terminal() || p.ExpirationTime == "" {
		return nil, false
	}
	expiry, err := time.Parse(time.RFC3339, p.ExpirationTime)
	if err != nil {
		return nil, false
	}
	if now.Before(expiry) {
		return nil, false
	}
	p.State = StateExpired
	record, err := l.chain.Append(EventProposalExpired, p.ProposalID, map[string]any{
		"proposal":        artifactMap(p),
		"artifact_digest": l.digests[p.ProposalID],
		"trigger":         "expiration_enforced",
	})
	if err != nil {
		return nil, true
	}
	return record, true
}

// refuse appends a refusal record and returns the failed result. Every
// refused attempt is auditable; nothing is silently dropped. The caller
// holds the ledger lock.
func (l *Ledger) refuse(reason, subjectID string, detail map[string]any) Result {
	payload := map[string]any{"reason": reason}
	for k, v := range detail {
		payload[k] = v
	}
	record, err := l.chain.Append(EventProposalRefusal, subjectID, payload)
	if err != nil {
		return Result{OK: false, Reason: reason}
	}
	return Result{OK: false, Reason: reason, Record: record}
}

// contentDigest hashes the immutable creation-time fields of a proposal.
// Lifecycle transitions do not alter these; any later divergence from the
// digest stored at creation is tampering.
func contentDigest(p *Proposal) (string, error) {
	return canonical.Hash(map[string]any{
		"proposal_id":         p.ProposalID,
		"intent_class":        string(p.IntentClass),
		"originating_turn_id": p.OriginatingTurnID,
		"created_at":          p.CreatedAt,
		"expiration_time":     p.ExpirationTime,
		"governance_context":  map[string]any(p.GovernanceContext),
	})
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
