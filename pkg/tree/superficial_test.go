package tree

import (
	"testing"

	"github.com/0xzex/zex-core/pkg/field"
)

func TestFirstZeroIdxAllocatesThenReclaims(t *testing.T) {
	s := NewSuperficial()
	a := s.FirstZeroIdx()
	b := s.FirstZeroIdx()
	if a == b {
		t.Fatal("expected distinct fresh slots")
	}
	s.UpdateLeaf(a, LeafNote, field.Zero)
	reused := s.FirstZeroIdx()
	if reused != a {
		t.Fatalf("expected free-list to return reclaimed slot %d, got %d", a, reused)
	}
}

func TestUpdateLeafRoundTrip(t *testing.T) {
	s := NewSuperficial()
	idx := s.FirstZeroIdx()
	h := field.FromUint64(42)
	s.UpdateLeaf(idx, LeafNote, h)
	if got := s.GetLeaf(idx); !got.Equal(h) {
		t.Fatalf("got %s want %s", got, h)
	}
}

func TestVerifyExistence(t *testing.T) {
	s := NewSuperficial()
	idx := s.FirstZeroIdx()
	h := field.FromUint64(7)
	s.UpdateLeaf(idx, LeafNote, h)
	if err := s.VerifyExistence(idx, h); err != nil {
		t.Fatalf("expected existence check to pass: %v", err)
	}
	if err := s.VerifyExistence(idx, field.FromUint64(8)); err == nil {
		t.Fatal("expected existence check to fail on hash mismatch")
	}
}

func TestDrainDeltasClearsLog(t *testing.T) {
	s := NewSuperficial()
	idx := s.FirstZeroIdx()
	s.UpdateLeaf(idx, LeafNote, field.FromUint64(1))
	s.UpdateLeaf(idx, LeafNote, field.FromUint64(2))
	deltas := s.DrainDeltas()
	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %d", len(deltas))
	}
	if more := s.DrainDeltas(); len(more) != 0 {
		t.Fatalf("expected drained log to be empty, got %d", len(more))
	}
}

func TestUpdateLeafZeroReclaimsSlot(t *testing.T) {
	s := NewSuperficial()
	idx := s.FirstZeroIdx()
	s.UpdateLeaf(idx, LeafNote, field.FromUint64(1))
	s.UpdateLeaf(idx, LeafEmpty, field.Zero)
	next := s.FirstZeroIdx()
	if next != idx {
		t.Fatalf("expected zeroed slot %d to be reclaimed, got %d", idx, next)
	}
}
