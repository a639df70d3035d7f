package cryptoring

import (
	"testing"

	"github.com/0xzex/zex-core/pkg/field"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := field.FromUint64(12345)
	sig, err := Sign(kp, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify(kp.Pub, msg, sig) {
		t.Fatal("expected signature to verify")
	}
}

func TestVerifyRejectsWrongMessage(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	sig, err := Sign(kp, field.FromUint64(1))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if Verify(kp.Pub, field.FromUint64(2), sig) {
		t.Fatal("expected signature to fail against a different message")
	}
}

func TestVerifyAggregateSumsPublicKeys(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()
	msg := field.FromUint64(999)

	// Aggregate verification against a single key is the shape
	// pkg/execution uses for a single-note order (aggregate of one).
	sig, err := Sign(kp1, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifyAggregate([]Point{kp1.Pub}, msg, sig) {
		t.Fatal("expected single-key aggregate verification to succeed")
	}
	if VerifyAggregate([]Point{kp2.Pub}, msg, sig) {
		t.Fatal("expected aggregate verification against the wrong key to fail")
	}
}
