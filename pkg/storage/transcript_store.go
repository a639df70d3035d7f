package storage

import (
	"fmt"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/transcript"
)

// TranscriptStore persists the transcript chunked into per-batch files named
// by a monotonic batch index (spec §6).
type TranscriptStore struct {
	db *DB
}

func NewTranscriptStore(db *DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

var _ batch.TranscriptStore = (*TranscriptStore)(nil)

// SaveChunk writes one batch's transcript as a single blob keyed by its
// batch index.
func (s *TranscriptStore) SaveChunk(batchIdx uint64, t *transcript.Transcript) error {
	blob, err := t.MarshalChunk()
	if err != nil {
		return fmt.Errorf("storage: marshal transcript chunk %d: %w", batchIdx, err)
	}
	if err := s.db.set(transcriptKey(batchIdx), blob, true); err != nil {
		return fmt.Errorf("storage: save transcript chunk %d: %w", batchIdx, err)
	}
	return nil
}

// LoadChunk reads one batch's transcript records back, or (nil, false, nil)
// if that batch index was never finalized.
func (s *TranscriptStore) LoadChunk(batchIdx uint64) ([]transcript.Record, bool, error) {
	blob, ok, err := s.db.get(transcriptKey(batchIdx))
	if err != nil {
		return nil, false, fmt.Errorf("storage: load transcript chunk %d: %w", batchIdx, err)
	}
	if !ok {
		return nil, false, nil
	}
	recs, err := transcript.UnmarshalChunk(blob)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// LatestChunk scans for the highest-indexed transcript chunk, the entry
// point for cold-start Restore (spec §4.4: "replay the most recent
// transcript against a fresh superficial tree").
func (s *TranscriptStore) LatestChunk() (batchIdx uint64, recs []transcript.Record, found bool, err error) {
	iter, err := s.db.iterRange(transcriptPrefix(), keyUpperBound(transcriptPrefix()))
	if err != nil {
		return 0, nil, false, fmt.Errorf("storage: scan transcript chunks: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, nil, false, nil
	}
	key := iter.Key()
	var idx uint64
	if _, scanErr := fmt.Sscanf(string(key[len(prefixTranscript):]), "%020d", &idx); scanErr != nil {
		return 0, nil, false, fmt.Errorf("storage: parse transcript key %q: %w", key, scanErr)
	}
	recs, err = transcript.UnmarshalChunk(iter.Value())
	if err != nil {
		return 0, nil, false, err
	}
	return idx, recs, true, nil
}
