package field

import (
	"encoding/json"
	"testing"
)

func TestHDeterministic(t *testing.T) {
	a := FromUint64(1)
	b := FromUint64(2)
	if !H(a, b).Equal(H(a, b)) {
		t.Fatal("H is not deterministic")
	}
	if H(a, b).Equal(H(b, a)) {
		t.Fatal("H should not be commutative")
	}
}

func TestHvecMatchesLeftFold(t *testing.T) {
	x1, x2, x3 := FromUint64(1), FromUint64(2), FromUint64(3)
	want := H(H(x1, x2), x3)
	got := Hvec(x1, x2, x3)
	if !got.Equal(want) {
		t.Fatalf("Hvec fold mismatch: got %s want %s", got, want)
	}
}

func TestHvecPanicsBelowTwoElements(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for single-element Hvec")
		}
	}()
	Hvec(FromUint64(1))
}

func TestZeroHashesMonotonic(t *testing.T) {
	zh := ZeroHashes(4)
	if !zh[0].IsZero() {
		t.Fatal("zero hash at depth 0 must be zero")
	}
	for d := 1; d <= 4; d++ {
		want := H(zh[d-1], zh[d-1])
		if !zh[d].Equal(want) {
			t.Fatalf("zero hash at depth %d mismatch", d)
		}
	}
}

func TestElementJSONRoundTrip(t *testing.T) {
	e := FromUint64(123456789)
	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Element
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Equal(e) {
		t.Fatalf("round trip mismatch: got %s want %s", got, e)
	}
}

func TestElementJSONRejectsGarbage(t *testing.T) {
	var e Element
	if err := json.Unmarshal([]byte(`"not-a-number"`), &e); err == nil {
		t.Fatal("expected error for non-numeric string")
	}
}
