package tree

import (
	"runtime"
	"sync"

	"github.com/0xzex/zex-core/pkg/field"
)

// SubtreeWidth is the number of leaves in one 12-bit partition subtree.
const SubtreeWidth = 1 << PartitionBits

// TopDepth is the depth of the tree of partition roots above the
// partitions themselves (Depth - PartitionBits).
const TopDepth = Depth - PartitionBits

// PartitionStore is the persistence boundary for partition leaf arrays: one
// blob per 12-bit partition id, plus a backup copy of the
// pre-transition state (spec §4.1 "a backup copy of the pre-transition tree
// is also written before the in-place rewrite"). Implemented over
// cockroachdb/pebble in pkg/storage.
type PartitionStore interface {
	// LoadPartition returns the persisted leaf array for a partition (all
	// zero if never written) and its cached subtree root.
	LoadPartition(id uint64) (leaves []field.Element, root field.Element, err error)
	// SavePartition writes a backup of the pre-transition leaves, then the
	// new leaf array and its root.
	SavePartition(id uint64, prevLeaves []field.Element, newLeaves []field.Element, newRoot field.Element) error
}

// Preimage is the prover-facing table of internal_node_hash -> (left, right)
// for every touched node in either the prior or the new tree state (spec
// §4.1 / §9 "an intentional redundancy").
type Preimage map[[32]byte][2]field.Element

func (p Preimage) record(h field.Element, left, right field.Element) {
	p[h.Bytes32()] = [2]field.Element{left, right}
}

// Batch is the finalization-time Merkle engine: it partitions dirty slots
// by their top bits, rebuilds each touched subtree in parallel, then
// rebuilds the top tree from the changed subtree roots.
type Batch struct {
	store      PartitionStore
	zeroHashes []field.Element

	mu        sync.Mutex
	topRoots  map[uint64]field.Element // partition id -> current root
	loaded    bool
}

// NewBatch constructs the batch engine against a partition store, seeded
// with the zero-hash table for the full tree depth.
func NewBatch(store PartitionStore) *Batch {
	return &Batch{
		store:      store,
		zeroHashes: ZeroHashes(Depth),
		topRoots:   make(map[uint64]field.Element),
	}
}

func partitionOf(slot uint64) uint64   { return slot >> PartitionBits }
func localIndex(slot uint64) uint64    { return slot & (SubtreeWidth - 1) }

type partitionResult struct {
	id       uint64
	prevRoot field.Element
	newRoot  field.Element
}

// Finalize rebuilds every dirty partition and the top tree, returning the
// previous root, the new root, and the combined pre-image map covering both
// states -- spec §4.1's batch Merkle transition.
func (b *Batch) Finalize(deltas []Delta) (prevRoot, newRoot field.Element, preimage Preimage, err error) {
	preimage = make(Preimage)

	byPartition := make(map[uint64][]Delta)
	for _, d := range deltas {
		pid := partitionOf(d.Slot)
		byPartition[pid] = append(byPartition[pid], d)
	}

	if len(byPartition) == 0 {
		root := b.currentTopRoot(nil)
		return root, root, preimage, nil
	}

	ids := make([]uint64, 0, len(byPartition))
	for id := range byPartition {
		ids = append(ids, id)
	}

	results := make([]partitionResult, len(ids))
	errs := make([]error, len(ids))

	workers := runtime.GOMAXPROCS(0)
	if workers > len(ids) {
		workers = len(ids)
	}
	if workers < 1 {
		workers = 1
	}

	var preimageMu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan int, len(ids))
	for i := range ids {
		jobs <- i
	}
	close(jobs)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				id := ids[i]
				r, localPreimage, e := b.rebuildPartition(id, byPartition[id])
				results[i] = r
				errs[i] = e
				if e == nil {
					preimageMu.Lock()
					for k, v := range localPreimage {
						preimage[k] = v
					}
					preimageMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return field.Zero, field.Zero, nil, e
		}
	}

	prevTop := make(map[uint64]field.Element, len(b.topRoots))
	b.mu.Lock()
	for k, v := range b.topRoots {
		prevTop[k] = v
	}
	b.mu.Unlock()

	newTop := make(map[uint64]field.Element, len(prevTop))
	for k, v := range prevTop {
		newTop[k] = v
	}
	for _, r := range results {
		newTop[r.id] = r.newRoot
	}

	prevRoot = sparseRoot(prevTop, TopDepth, b.zeroHashes[PartitionBits:], preimage)
	newRoot = sparseRoot(newTop, TopDepth, b.zeroHashes[PartitionBits:], preimage)

	b.mu.Lock()
	b.topRoots = newTop
	b.mu.Unlock()

	return prevRoot, newRoot, preimage, nil
}

func (b *Batch) currentTopRoot(preimage Preimage) field.Element {
	b.mu.Lock()
	top := make(map[uint64]field.Element, len(b.topRoots))
	for k, v := range b.topRoots {
		top[k] = v
	}
	b.mu.Unlock()
	return sparseRoot(top, TopDepth, b.zeroHashes[PartitionBits:], preimage)
}

// rebuildPartition recomputes one 12-bit partition's prior root (from its
// persisted leaves) and new root (leaves with this batch's deltas applied),
// records every touched internal node of both states, and persists the new
// leaf array plus a backup of the old one.
func (b *Batch) rebuildPartition(id uint64, deltas []Delta) (partitionResult, Preimage, error) {
	preimage := make(Preimage)

	prevLeaves, cachedRoot, err := b.store.LoadPartition(id)
	if err != nil {
		return partitionResult{}, nil, err
	}
	if prevLeaves == nil {
		prevLeaves = make([]field.Element, SubtreeWidth)
		for i := range prevLeaves {
			prevLeaves[i] = field.Zero
		}
	}

	prevMap := make(map[uint64]field.Element, len(deltas))
	for i, l := range prevLeaves {
		if !l.IsZero() {
			prevMap[uint64(i)] = l
		}
	}
	prevRoot := sparseRoot(prevMap, PartitionBits, b.zeroHashes[:PartitionBits+1], preimage)
	_ = cachedRoot // cachedRoot should equal prevRoot when the store and in-memory view agree

	newLeaves := make([]field.Element, len(prevLeaves))
	copy(newLeaves, prevLeaves)
	for _, d := range deltas {
		newLeaves[localIndex(d.Slot)] = d.Hash
	}

	newMap := make(map[uint64]field.Element, len(deltas))
	for i, l := range newLeaves {
		if !l.IsZero() {
			newMap[uint64(i)] = l
		}
	}
	newRoot := sparseRoot(newMap, PartitionBits, b.zeroHashes[:PartitionBits+1], preimage)

	if err := b.store.SavePartition(id, prevLeaves, newLeaves, newRoot); err != nil {
		return partitionResult{}, nil, err
	}

	return partitionResult{id: id, prevRoot: prevRoot, newRoot: newRoot}, preimage, nil
}

// sparseRoot reduces a sparse leaf-index map `bits` levels up to a single
// root, treating any index absent at a level as that level's zero hash.
// Every non-trivial parent (computed from at least one non-zero child) is
// recorded into preimage; well-known all-zero subtrees are not, since the
// prover already has the zero-hash table.
func sparseRoot(level map[uint64]field.Element, bits int, zeroHashes []field.Element, preimage Preimage) field.Element {
	if bits == 0 {
		if v, ok := level[0]; ok {
			return v
		}
		return zeroHashes[0]
	}

	cur := level
	for d := 0; d < bits; d++ {
		if len(cur) == 0 {
			break
		}
		next := make(map[uint64]field.Element, len(cur)/2+1)
		for idx := range cur {
			parent := idx >> 1
			if _, done := next[parent]; done {
				continue
			}
			leftIdx := parent << 1
			rightIdx := leftIdx | 1
			left, ok := cur[leftIdx]
			if !ok {
				left = zeroHashes[d]
			}
			right, ok := cur[rightIdx]
			if !ok {
				right = zeroHashes[d]
			}
			h := field.H(left, right)
			next[parent] = h
			if preimage != nil && !h.Equal(zeroHashes[d+1]) {
				preimage.record(h, left, right)
			}
		}
		cur = next
	}
	if v, ok := cur[0]; ok {
		return v
	}
	return zeroHashes[bits]
}
