// Package transcript implements spec §4.4/§6's append-only ordered
// transcript: one opaque JSON-like record per committed transaction,
// preserving insertion order exactly (spec §9 "this is the prover's input
// contract").
package transcript

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Record is one committed transaction's transcript entry. It always carries
// "transaction_type"; every other field is kind-specific (spec §6).
type Record map[string]any

func (r Record) Type() string {
	t, _ := r["transaction_type"].(string)
	return t
}

// Transcript is the in-memory ordered log for the batch currently being
// accumulated.
type Transcript struct {
	mu      sync.Mutex
	records []Record
}

func New() *Transcript { return &Transcript{} }

// Append adds one record, validating it carries the required tag.
func (t *Transcript) Append(r Record) error {
	if r.Type() == "" {
		return fmt.Errorf("transcript: record missing required transaction_type")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
	return nil
}

// Records returns a copy of the accumulated records in commit order.
func (t *Transcript) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len reports the number of records accumulated so far.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Reset clears the accumulated records, called once finalization has
// captured them (spec §4.4 "Resets per-batch state").
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
}

// MarshalChunk serializes the current records as a JSON array, the shape
// persisted as one per-batch chunk file/key (spec §6).
func (t *Transcript) MarshalChunk() ([]byte, error) {
	return json.Marshal(t.Records())
}

// UnmarshalChunk parses a persisted chunk back into a record slice, used by
// Restore to replay a transcript against a fresh tree.
func UnmarshalChunk(data []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("transcript: unmarshal chunk: %w", err)
	}
	return recs, nil
}
