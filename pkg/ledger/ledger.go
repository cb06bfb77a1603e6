// Package ledger implements the append-only, hash-chained record store
// shared by every pipeline stage.
//
//   - Records are sequence-numbered and namespaced per ledger
//     ("<ledger-name>-NNNNNNNN").
//   - Each record carries the hash of its predecessor; the first record's
//     previous hash is the empty string.
//   - Appends only; no deletion, no reordering, no mutation of stored
//     records. Chain verification recomputes every record hash.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/govkernel/warrant/pkg/canonical"
)

// Record is a single hash-chained ledger entry.
type Record struct {
	RecordID           string         `json:"record_id"`
	RecordedAt         string         `json:"recorded_at"`
	EventType          string         `json:"event_type"`
	SubjectID          string         `json:"subject_id"`
	Payload            map[string]any `json:"payload"`
	PreviousRecordHash string         `json:"previous_record_hash"`
	RecordHash         string         `json:"record_hash"`
}

// Chain is an append-only hash-chained log. All methods are safe for
// concurrent use; reads return deep copies.
type Chain struct {
	mu      sync.Mutex
	name    string
	records []Record
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates an empty chain. The name namespaces record IDs.
func New(name string) *Chain {
	return &Chain{
		name:    name,
		records: make([]Record, 0),
		clock:   time.Now,
		logger:  slog.Default(),
	}
}

// WithClock overrides the clock for deterministic testing.
func (c *Chain) WithClock(clock func() time.Time) *Chain {
	c.clock = clock
	return c
}

// WithLogger overrides the logger.
func (c *Chain) WithLogger(logger *slog.Logger) *Chain {
	c.logger = logger
	return c
}

// Name returns the chain's namespace.
func (c *Chain) Name() string {
	return c.name
}

// Append adds a record to the chain, linking it to its predecessor, and
// returns a copy of the stored record.
func (c *Chain) Append(eventType, subjectID string, payload map[string]any) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	if len(c.records) > 0 {
		prevHash = c.records[len(c.records)-1].RecordHash
	}

	record := Record{
		RecordID:           fmt.Sprintf("%s-%08d", c.name, len(c.records)+1),
		RecordedAt:         c.clock().UTC().Format(time.RFC3339),
		EventType:          eventType,
		SubjectID:          subjectID,
		Payload:            clonePayload(payload),
		PreviousRecordHash: prevHash,
	}

	hash, err := computeRecordHash(&record)
	if err != nil {
		return nil, fmt.Errorf("ledger %s: append failed: %w", c.name, err)
	}
	record.RecordHash = hash

	c.records = append(c.records, record)
	out := record
	out.Payload = clonePayload(record.Payload)
	return &out, nil
}

// Records returns a deep copy of the full ordered chain.
func (c *Chain) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Record, len(c.records))
	for i, r := range c.records {
		out[i] = r
		out[i].Payload = clonePayload(r.Payload)
	}
	return out
}

// Length returns the number of records.
func (c *Chain) Length() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Verify recomputes every record hash and predecessor link. On failure it
// returns false with a description of the first break and logs the literal
// mismatch context.
func (c *Chain) Verify() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevHash := ""
	for i, record := range c.records {
		if record.PreviousRecordHash != prevHash {
			detail := fmt.Sprintf("chain broken at %s: expected previous hash %q, got %q",
				record.RecordID, prevHash, record.PreviousRecordHash)
			c.logger.Error("ledger chain link mismatch",
				"ledger", c.name, "record_id", record.RecordID,
				"expected", prevHash, "stored", record.PreviousRecordHash)
			return false, detail
		}
		computed, err := computeRecordHash(&c.records[i])
		if err != nil {
			return false, fmt.Sprintf("hash recompute failed at %s: %v", record.RecordID, err)
		}
		if computed != record.RecordHash {
			detail := fmt.Sprintf("record hash mismatch at %s: computed %s, stored %s",
				record.RecordID, computed, record.RecordHash)
			c.logger.Error("ledger record hash mismatch",
				"ledger", c.name, "record_id", record.RecordID,
				"computed", computed, "stored", record.RecordHash)
			return false, detail
		}
		prevHash = record.RecordHash
	}
	return true, "chain verified"
}

// Reset discards all records. Intended for test isolation only.
func (c *Chain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = c.records[:0]
}

// computeRecordHash digests every record field except the hash itself.
func computeRecordHash(r *Record) (string, error) {
	return canonical.Hash(map[string]any{
		"record_id":            r.RecordID,
		"recorded_at":          r.RecordedAt,
		"event_type":           r.EventType,
		"subject_id":           r.SubjectID,
		"payload":              r.Payload,
		"previous_record_hash": r.PreviousRecordHash,
	})
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}
