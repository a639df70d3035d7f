package cryptoring

import (
	"encoding/binary"
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

// ObservationMessage canonically encodes one (token, timestamp, price)
// triple for signing/verification by oracle observers.
func ObservationMessage(token uint32, timestamp int64, price uint64) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], token)
	binary.BigEndian.PutUint64(buf[4:12], uint64(timestamp))
	binary.BigEndian.PutUint64(buf[12:20], price)
	return buf
}

// scheme fixes the BLS variant (keys in G1, signatures in G2), matching the
// teacher's original validator-signature scheme; here it backs oracle
// observer attestations (spec §4.4 "Oracle updates") instead of consensus
// votes.
type scheme = bls.KeyG1SigG2

// ObserverKey is an oracle observer's BLS public key.
type ObserverKey = bls.PublicKey[scheme]

// ObserverSigner signs price observations on behalf of one oracle observer.
type ObserverSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *ObserverKey
}

// NewObserverSignerFromSeed derives a deterministic observer keypair, used in
// tests and for provisioning a fixed observer set.
func NewObserverSignerFromSeed(seed []byte) (*ObserverSigner, error) {
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoring: observer keygen: %w", err)
	}
	return &ObserverSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *ObserverSigner) Pubkey() *ObserverKey { return s.pk }

// Sign attests a single observation message (token||timestamp||price).
func (s *ObserverSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

// VerifyObservation checks one observer's signature over one message.
func VerifyObservation(pk *ObserverKey, sigBytes, msg []byte) bool {
	if len(sigBytes) == 0 {
		return false
	}
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// AggregateSameMessage combines N observers' signatures over an identical
// message into one aggregate signature.
func AggregateSameMessage(sigBytesList [][]byte) ([]byte, error) {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("cryptoring: no signatures to aggregate")
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil, fmt.Errorf("cryptoring: aggregate: %w", err)
	}
	return agg, nil
}

// VerifyAggregateSameMessage verifies an aggregate signature against every
// observer's individual public key over the same message.
func VerifyAggregateSameMessage(pks []*ObserverKey, msg []byte, aggSig []byte) bool {
	if len(pks) == 0 || len(aggSig) == 0 {
		return false
	}
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}
