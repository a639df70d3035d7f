// Package field implements the prime-field hash oracle the execution core is
// built against: a binary hash H(a,b) and its vector extension Hvec, plus the
// zero-hash table used by the sparse Merkle tree. The real system uses a
// Pedersen-like hash over a SNARK-friendly field; that primitive is an
// external collaborator (see spec §1) and only its interface matters here, so
// this package realizes H with Keccak256 reduced into the secp256k1 scalar
// field -- the same field pkg/cryptoring's curve arithmetic uses, so a
// Note's aggregated-pubkey x-coordinate and its tree-leaf hash live in the
// same ring.
package field

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

func errInvalidFieldElement(s string) error {
	return fmt.Errorf("field: invalid element %q", s)
}

// Modulus is the prime field elements live in: the secp256k1 group order.
var Modulus = crypto.S256().Params().N

// Element is a field element, always kept reduced modulo Modulus.
type Element struct {
	v *big.Int
}

// Zero is the additive identity.
var Zero = Element{v: big.NewInt(0)}

// FromUint64 lifts a uint64 into the field.
func FromUint64(x uint64) Element {
	return Element{v: new(big.Int).SetUint64(x)}
}

// FromBigInt reduces an arbitrary big.Int into the field.
func FromBigInt(x *big.Int) Element {
	return Element{v: new(big.Int).Mod(x, Modulus)}
}

// FromBytes reduces a big-endian byte string into the field.
func FromBytes(b []byte) Element {
	return FromBigInt(new(big.Int).SetBytes(b))
}

// BigInt returns the element's canonical representative.
func (e Element) BigInt() *big.Int {
	if e.v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(e.v)
}

// Bytes32 returns the element as a 32-byte big-endian array.
func (e Element) Bytes32() [32]byte {
	var out [32]byte
	b := e.BigInt().Bytes()
	copy(out[32-len(b):], b)
	return out
}

// String renders the element in decimal, matching the teacher's preference
// for human-readable ids/hashes in logs and transcript JSON.
func (e Element) String() string {
	return e.BigInt().String()
}

// IsZero reports whether the element is the zero leaf (an empty tree slot).
func (e Element) IsZero() bool {
	return e.BigInt().Sign() == 0
}

// Equal reports field equality.
func (e Element) Equal(o Element) bool {
	return e.BigInt().Cmp(o.BigInt()) == 0
}

// MarshalJSON renders the element as a decimal string, since a big.Int can
// exceed JSON's safe-integer range.
func (e Element) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON parses a decimal string produced by MarshalJSON.
func (e *Element) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return errInvalidFieldElement(s)
	}
	*e = FromBigInt(v)
	return nil
}

// H is the binary commitment primitive every entity hash and every Merkle
// internal node is built from.
func H(a, b Element) Element {
	ab := a.Bytes32()
	bb := b.Bytes32()
	buf := make([]byte, 0, 64)
	buf = append(buf, ab[:]...)
	buf = append(buf, bb[:]...)
	digest := crypto.Keccak256(buf)
	return FromBytes(digest)
}

// Hvec folds a slice left-to-right: H(H(...H(x1,x2),x3)...,xn). Panics on
// fewer than two elements since it has no defined meaning there.
func Hvec(xs ...Element) Element {
	if len(xs) < 2 {
		panic("field: Hvec requires at least two elements")
	}
	acc := H(xs[0], xs[1])
	for _, x := range xs[2:] {
		acc = H(acc, x)
	}
	return acc
}

// ZeroHashes precomputes the hash of an empty subtree at every depth of a
// tree whose leaves sit at depth 0, so depth d's zero hash is
// H(zero[d-1], zero[d-1]).
func ZeroHashes(depth int) []Element {
	zh := make([]Element, depth+1)
	zh[0] = Zero
	for d := 1; d <= depth; d++ {
		zh[d] = H(zh[d-1], zh[d-1])
	}
	return zh
}
