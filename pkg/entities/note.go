// Package entities implements the data model of spec §3: notes, position
// headers, positions and order tabs, each with its canonical hash and
// lifecycle rules. These are plain value types; the tree and execution
// packages own their lifecycle (creation at a free slot, mutation, zeroing).
package entities

import (
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/field"
)

// Side is a position or order direction.
type Side int8

const (
	Long  Side = 1
	Short Side = -1
)

// Note is the atomic ownership commitment of spec §3. It is immutable once
// created; "mutation" is always modeled as destroying one note and creating
// another.
type Note struct {
	Index    uint64
	Address  cryptoring.Point // owner public key, the "curve_point" of spec §3
	Token    uint32
	Amount   uint64
	Blinding field.Element
}

// Hash computes hash = H(address.x, H(token, H(amount, blinding))).
func (n Note) Hash() field.Element {
	inner := field.H(field.FromUint64(n.Amount), n.Blinding)
	inner = field.H(field.FromUint64(uint64(n.Token)), inner)
	return field.H(n.Address.XField(), inner)
}

// IsDust reports whether amount is at or below the per-token dust threshold,
// per spec §8 ("a note whose amount is at or below the per-token dust
// threshold is treated as zero for refund purposes").
func (n Note) IsDust(dustThreshold uint64) bool {
	return n.Amount <= dustThreshold
}
