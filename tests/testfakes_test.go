package tests

import (
	"sync"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
)

// memPartitionStore is an in-memory stand-in for pkg/storage.PartitionStore,
// used so these scenarios never touch pebble.
type memPartitionStore struct {
	mu     sync.Mutex
	leaves map[uint64][]field.Element
	roots  map[uint64]field.Element
}

func newMemPartitionStore() *memPartitionStore {
	return &memPartitionStore{leaves: map[uint64][]field.Element{}, roots: map[uint64]field.Element{}}
}

func (s *memPartitionStore) LoadPartition(id uint64) ([]field.Element, field.Element, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaves[id], s.roots[id], nil
}

func (s *memPartitionStore) SavePartition(id uint64, prevLeaves, newLeaves []field.Element, newRoot field.Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]field.Element, len(newLeaves))
	copy(cp, newLeaves)
	s.leaves[id] = cp
	s.roots[id] = newRoot
	return nil
}

type memHistoryStore struct {
	mu       sync.Mutex
	funding  batch.FundingHistory
	hasFund  bool
	price    batch.PriceHistory
	hasPrice bool
	fund     int64
	hasIns   bool
}

func newMemHistoryStore() *memHistoryStore { return &memHistoryStore{} }

func (s *memHistoryStore) SaveFundingHistory(h batch.FundingHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funding, s.hasFund = h, true
	return nil
}
func (s *memHistoryStore) LoadFundingHistory() (batch.FundingHistory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funding, s.hasFund, nil
}
func (s *memHistoryStore) SavePriceHistory(p batch.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price, s.hasPrice = p, true
	return nil
}
func (s *memHistoryStore) LoadPriceHistory() (batch.PriceHistory, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.hasPrice, nil
}
func (s *memHistoryStore) SaveInsuranceFund(v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fund, s.hasIns = v, true
	return nil
}
func (s *memHistoryStore) LoadInsuranceFund() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fund, s.hasIns, nil
}

type memTranscriptStore struct {
	mu    sync.Mutex
	idx   uint64
	recs  []transcript.Record
	found bool
}

func newMemTranscriptStore() *memTranscriptStore { return &memTranscriptStore{} }

func (s *memTranscriptStore) SaveChunk(batchIdx uint64, t *transcript.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx = batchIdx
	s.recs = t.Records()
	s.found = true
	return nil
}

func (s *memTranscriptStore) LatestChunk() (uint64, []transcript.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx, s.recs, s.found, nil
}
