// Package tree implements spec §4.1's state commitment engine: a
// superficial (execution-time) tree of depth 32 backed by a free-list of
// zero slots, and a batch Merkle engine that materializes internal nodes
// only at finalization using 12-bit partitioning. Grounded on
// original_source/invisible_backend/src/trees/superficial_tree.rs (the
// in-memory leaf array plus zero_idxs free-list) for the superficial view,
// and on spec §4.1's own description of partitioned parallel rebuild for the
// batch engine.
package tree

import (
	"sync"

	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// Depth is the tree's fixed depth (spec §4.1).
const Depth = 32

// PartitionBits is the width of the 12-bit partitioning scheme: each
// partition groups slots sharing the same top (Depth-PartitionBits) bits.
const PartitionBits = 12

// LeafType distinguishes what kind of entity owns a tree slot, used only for
// bookkeeping/logging -- the tree itself stores opaque field-element leaves.
type LeafType int8

const (
	LeafEmpty LeafType = iota
	LeafNote
	LeafPosition
	LeafOrderTab
)

// Delta is one committed (slot -> new leaf) write, the unit the batch
// Merkle engine consumes at finalization.
type Delta struct {
	Slot uint64
	Type LeafType
	Hash field.Element
}

// Superficial is the dense execution-time view: O(1) reads and writes
// against an in-memory array, plus a free-list of reclaimed zero slots.
type Superficial struct {
	mu       sync.RWMutex
	leaves   []field.Element
	zeroIdxs []uint64 // free-list, a stack: push on reclaim, pop on allocate
	count    uint64   // next never-used slot, pushed to when depleted
	deltas   []Delta  // per-batch dirty-slot log, drained at finalization
}

// NewSuperficial creates an empty tree (all slots implicitly zero).
func NewSuperficial() *Superficial {
	return &Superficial{leaves: make([]field.Element, 0, 1024)}
}

// FirstZeroIdx pops a reclaimed slot off the free-list, or allocates a fresh
// one by growing the leaf array -- the exact policy of
// superficial_tree.rs's `first_zero_idx`.
func (s *Superficial) FirstZeroIdx() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.zeroIdxs); n > 0 {
		idx := s.zeroIdxs[n-1]
		s.zeroIdxs = s.zeroIdxs[:n-1]
		return idx
	}
	idx := s.count
	s.count++
	if idx >= uint64(len(s.leaves)) {
		s.leaves = append(s.leaves, field.Zero)
	}
	return idx
}

// GetLeaf reads the hash stored at slot idx (zero if never written).
func (s *Superficial) GetLeaf(idx uint64) field.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx >= uint64(len(s.leaves)) {
		return field.Zero
	}
	return s.leaves[idx]
}

// UpdateLeaf writes a new hash at idx and records the delta. Writing
// field.Zero reclaims the slot onto the free-list (the entity occupying it
// was destroyed).
func (s *Superficial) UpdateLeaf(idx uint64, typ LeafType, newHash field.Element) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uint64(len(s.leaves)) <= idx {
		s.leaves = append(s.leaves, field.Zero)
	}
	wasZero := s.leaves[idx].IsZero()
	s.leaves[idx] = newHash
	s.deltas = append(s.deltas, Delta{Slot: idx, Type: typ, Hash: newHash})
	if newHash.IsZero() && !wasZero {
		s.zeroIdxs = append(s.zeroIdxs, idx)
	}
}

// VerifyExistence checks a referenced entity's slot still holds the claimed
// hash, spec §4.3's "existence check" shared sub-routine.
func (s *Superficial) VerifyExistence(idx uint64, want field.Element) error {
	got := s.GetLeaf(idx)
	if !got.Equal(want) {
		return xerrors.NotFound("tree slot %d holds %s, expected %s", idx, got, want)
	}
	return nil
}

// DrainDeltas removes and returns all deltas recorded since the last drain,
// the input the batch Merkle engine partitions and rebuilds from.
func (s *Superficial) DrainDeltas() []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.deltas
	s.deltas = nil
	return d
}

// Len reports the number of ever-allocated slots (including reclaimed ones).
func (s *Superficial) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.leaves))
}

// Snapshot copies the full leaf array, used by batch finalization to seed a
// FromDisk-equivalent restore check and by tests asserting determinism.
func (s *Superficial) Snapshot() []field.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]field.Element, len(s.leaves))
	copy(out, s.leaves)
	return out
}
