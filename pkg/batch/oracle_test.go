package batch

import (
	"testing"

	"github.com/0xzex/zex-core/pkg/cryptoring"
)

func TestOracleSubmitCommitsMedianAboveThreshold(t *testing.T) {
	s1, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-1-seed-000000000000000"))
	s2, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-2-seed-000000000000000"))
	observers := map[uint32]*cryptoring.ObserverKey{1: s1.Pubkey(), 2: s2.Pubkey()}
	agg := NewOracleAggregator(observers, 2)

	const token, ts = uint32(1), int64(1000)
	msg := cryptoring.ObservationMessage(token, ts, 1800)
	obs := []Observation{
		{ObserverID: 1, Token: token, Timestamp: ts, Price: 1800, Signature: s1.Sign(msg)},
		{ObserverID: 2, Token: token, Timestamp: ts, Price: 1800, Signature: s2.Sign(msg)},
	}
	median, err := agg.Submit(token, ts, obs)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if median != 1800 {
		t.Fatalf("expected median 1800, got %d", median)
	}
	if got, ok := agg.LatestIndexPrice(token); !ok || got != 1800 {
		t.Fatalf("expected latest index price to update, got %d ok=%v", got, ok)
	}
}

// TestOracleRejectsBelowThreshold is spec §8 scenario 6: four observers
// submit, only one signature actually verifies, and the threshold (2) is
// not met -- latest_index_price must stay unchanged and Submit must error.
func TestOracleRejectsBelowThreshold(t *testing.T) {
	s1, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-1-seed-000000000000000"))
	s2, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-2-seed-000000000000000"))
	s3, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-3-seed-000000000000000"))
	s4, _ := cryptoring.NewObserverSignerFromSeed([]byte("observer-4-seed-000000000000000"))
	observers := map[uint32]*cryptoring.ObserverKey{1: s1.Pubkey(), 2: s2.Pubkey(), 3: s3.Pubkey(), 4: s4.Pubkey()}
	agg := NewOracleAggregator(observers, 2)

	const token, ts = uint32(1), int64(2000)
	msg := cryptoring.ObservationMessage(token, ts, 1700)
	wrongMsg := cryptoring.ObservationMessage(token, ts, 1650) // signed over a different price, so it won't verify against the claimed observation

	obs := []Observation{
		{ObserverID: 1, Token: token, Timestamp: ts, Price: 1700, Signature: s1.Sign(msg)}, // only this one verifies
		{ObserverID: 2, Token: token, Timestamp: ts, Price: 1700, Signature: s2.Sign(wrongMsg)},
		{ObserverID: 3, Token: token, Timestamp: ts, Price: 1700, Signature: s3.Sign(wrongMsg)},
		{ObserverID: 4, Token: token, Timestamp: ts, Price: 1700, Signature: nil},
	}
	if _, err := agg.Submit(token, ts, obs); err == nil {
		t.Fatal("expected submission below threshold to be rejected")
	}
	if _, ok := agg.LatestIndexPrice(token); ok {
		t.Fatal("expected latest_index_price to remain unset after a rejected submission")
	}
}
