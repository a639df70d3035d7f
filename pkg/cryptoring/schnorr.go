package cryptoring

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/0xzex/zex-core/pkg/field"
)

// Signature is a Schnorr-like signature pair (R, s) per spec §1's
// "Schnorr-like signature scheme" primitive.
type Signature struct {
	R Point
	S *big.Int
}

// KeyPair is a note/tab/position owner's signing identity.
type KeyPair struct {
	Priv *big.Int
	Pub  Point
}

// GenerateKeyPair draws a fresh private scalar and derives its public point.
func GenerateKeyPair() (*KeyPair, error) {
	sk, err := rand.Int(rand.Reader, Order())
	if err != nil {
		return nil, fmt.Errorf("cryptoring: keygen: %w", err)
	}
	if sk.Sign() == 0 {
		sk.SetInt64(1)
	}
	return &KeyPair{Priv: sk, Pub: ScalarBaseMul(sk)}, nil
}

// challenge computes e = H(R.x, H(pub.x, msg)), the Fiat-Shamir challenge
// binding the nonce commitment, the signer's key and the message.
func challenge(r Point, pub field.Element, msg field.Element) field.Element {
	return field.H(r.XField(), field.H(pub, msg))
}

// Sign produces a Schnorr-like signature over a field-element message hash
// (the order/transaction canonical hash per spec §4.3's "signature check").
func Sign(kp *KeyPair, msg field.Element) (Signature, error) {
	k, err := rand.Int(rand.Reader, Order())
	if err != nil {
		return Signature{}, fmt.Errorf("cryptoring: sign nonce: %w", err)
	}
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	r := ScalarBaseMul(k)
	e := challenge(r, kp.Pub.XField(), msg)

	s := new(big.Int).Mul(e.BigInt(), kp.Priv)
	s.Add(s, k)
	s.Mod(s, Order())

	return Signature{R: r, S: s}, nil
}

// Verify checks a Schnorr-like signature against a (possibly aggregated)
// public key and a message hash: s*G == R + e*Pub.
func Verify(pub Point, msg field.Element, sig Signature) bool {
	if sig.S == nil || sig.S.Sign() == 0 {
		return false
	}
	e := challenge(sig.R, pub.XField(), msg)

	lhs := ScalarBaseMul(sig.S)
	rhs := Add(sig.R, scalarMul(pub, e.BigInt()))

	if lhs.IsInfinity() || rhs.IsInfinity() {
		return false
	}
	return lhs.X.Cmp(rhs.X) == 0 && lhs.Y.Cmp(rhs.Y) == 0
}

// VerifyAggregate aggregates owner public keys by point addition and
// verifies a single signature against the sum, exactly the check spec §4.3
// requires for note-based orders: "aggregate the notes' public keys by curve
// addition and treat the sum's x-coordinate as the signing key".
func VerifyAggregate(pubs []Point, msg field.Element, sig Signature) bool {
	agg := AggregatePoints(pubs...)
	return Verify(agg, msg, sig)
}
