// Package cryptoring implements the core's view of the crypto oracle
// described in spec §1/§2: curve points, public-key aggregation by point
// addition, and a Schnorr-like signature scheme, realized over secp256k1
// (github.com/ethereum/go-ethereum/crypto) so it shares a field with
// pkg/field's hash oracle. A second, independent aggregation scheme (BLS over
// github.com/cloudflare/circl) backs oracle-observer threshold signatures in
// pkg/batch, where many independent signers attest the same message -- a
// better fit for BLS's same-message aggregate verification than for Schnorr
// aggregation of distinct note owners.
package cryptoring

import (
	"crypto/elliptic"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0xzex/zex-core/pkg/field"
)

var curve = crypto.S256()

// Point is a public curve point (affine coordinates). The zero value is the
// point at infinity.
type Point struct {
	X, Y *big.Int
}

// IsInfinity reports whether p is the additive identity.
func (p Point) IsInfinity() bool {
	return p.X == nil || p.Y == nil || (p.X.Sign() == 0 && p.Y.Sign() == 0)
}

// XField returns the point's x-coordinate reduced into the hash field; the
// aggregated note owner's "signing key" per spec §4.3 is this value.
func (p Point) XField() field.Element {
	if p.IsInfinity() {
		return field.Zero
	}
	return field.FromBigInt(p.X)
}

// Add implements curve-point addition, the sole primitive spec §4.3 names
// for aggregating note owner public keys.
func Add(a, b Point) Point {
	if a.IsInfinity() {
		return b
	}
	if b.IsInfinity() {
		return a
	}
	x, y := curve.Add(a.X, a.Y, b.X, b.Y)
	return Point{X: x, Y: y}
}

// AggregatePoints folds a slice of points with repeated Add, the exact
// operation a note-referencing swap order uses to combine its input notes'
// owner keys into one verification key.
func AggregatePoints(points ...Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	acc := points[0]
	for _, p := range points[1:] {
		acc = Add(acc, p)
	}
	return acc
}

// ScalarBaseMul derives the public point for a scalar private key.
func ScalarBaseMul(sk *big.Int) Point {
	x, y := curve.ScalarBaseMult(sk.Bytes())
	return Point{X: x, Y: y}
}

// scalarMul multiplies a point by a scalar; used internally by Schnorr's
// nonce-commitment and verification equation.
func scalarMul(p Point, k *big.Int) Point {
	x, y := curve.ScalarMult(p.X, p.Y, k.Bytes())
	return Point{X: x, Y: y}
}

// Marshal/Unmarshal round-trip a point through the compressed SEC1 encoding,
// used when a point needs to travel through the transcript or persistence
// layer as bytes.
func Marshal(p Point) []byte {
	if p.IsInfinity() {
		return []byte{0x00}
	}
	return elliptic.MarshalCompressed(curve, p.X, p.Y)
}

func Unmarshal(b []byte) (Point, error) {
	if len(b) == 1 && b[0] == 0x00 {
		return Point{}, nil
	}
	x, y := elliptic.UnmarshalCompressed(curve, b)
	if x == nil {
		return Point{}, fmt.Errorf("cryptoring: invalid compressed point")
	}
	return Point{X: x, Y: y}, nil
}

// Order is the scalar field order of the curve (and pkg/field's modulus).
func Order() *big.Int {
	return new(big.Int).Set(curve.Params().N)
}
