package engine

import (
	"testing"
	"time"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/execution"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/tree"
)

const (
	collateralToken = uint32(0)
	baseToken       = uint32(1)
	marketID        = uint32(1)
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	partitions := newMemPartitionStore()
	merkle := tree.NewBatch(partitions)
	hist := newMemHistoryStore()
	xscr := newMemTranscriptStore()
	oracle := batch.NewOracleAggregator(map[uint32]*cryptoring.ObserverKey{}, 0)

	e := New(execution.Params{
		DustThreshold:    map[uint32]uint64{collateralToken: 100, baseToken: 1000},
		DecimalsPerAsset: map[uint32]uint8{collateralToken: 6, baseToken: 9},
	}, merkle, hist, xscr, oracle)
	e.RegisterMarket(MarketConfig{MarketID: marketID, BaseToken: baseToken, QuoteToken: collateralToken, FeeBps: 10, SlippageCapBps: 500})
	return e
}

func TestSubmitSpotOrderRestsWhenNonCrossing(t *testing.T) {
	e := newTestEngine(t)
	kp, _ := cryptoring.GenerateKeyPair()
	dep, err := e.ExecuteDeposit(baseToken, 5_000_000_000, kp.Pub, field.FromUint64(1))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	note := entities.Note{Index: dep.NoteIndex, Address: kp.Pub, Token: baseToken, Amount: 5_000_000_000, Blinding: field.FromUint64(1)}

	order := &entities.Order{
		OrderID: uint64(marketID),
		Side:    entities.Ask,
		Price:   1000,
		Qty:     5_000_000_000,
		QtyLeft: 5_000_000_000,
		UserID:  "maker",
		Kind:    entities.SpotBody,
		Spot:    &entities.SpotOrderBody{NotesIn: []entities.Note{note}},
	}
	res, err := e.SubmitSpotOrder(order, false)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.RestingQty != 5_000_000_000 || len(res.Settled) != 0 {
		t.Fatalf("expected the order to rest untouched, got %+v", res)
	}
}

func TestCancelOrderRemovesRestingOrder(t *testing.T) {
	e := newTestEngine(t)
	kp, _ := cryptoring.GenerateKeyPair()
	dep, err := e.ExecuteDeposit(baseToken, 1_000_000_000, kp.Pub, field.FromUint64(2))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	note := entities.Note{Index: dep.NoteIndex, Address: kp.Pub, Token: baseToken, Amount: 1_000_000_000, Blinding: field.FromUint64(2)}
	order := &entities.Order{
		OrderID: uint64(marketID),
		Side:    entities.Ask,
		Price:   2000,
		Qty:     1_000_000_000,
		QtyLeft: 1_000_000_000,
		UserID:  "maker",
		Kind:    entities.SpotBody,
		Spot:    &entities.SpotOrderBody{NotesIn: []entities.Note{note}},
	}
	if _, err := e.SubmitSpotOrder(order, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.CancelOrder(marketID, order.OrderID, entities.Ask, "maker"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	bid, hasBid, ask, hasAsk, err := e.GetLiquidity(marketID)
	if err != nil {
		t.Fatalf("get liquidity: %v", err)
	}
	if hasBid || hasAsk {
		t.Fatalf("expected empty book after cancel, got bid=%d(%v) ask=%d(%v)", bid, hasBid, ask, hasAsk)
	}
}

func TestFinalizeBatchAdvancesIndex(t *testing.T) {
	e := newTestEngine(t)
	before := e.GetStateInfo().BatchIndex
	r1, err := e.FinalizeBatch()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	after := e.GetStateInfo().BatchIndex
	if after != before+1 {
		t.Fatalf("expected batch index to advance by 1, got %d -> %d", before, after)
	}
	if r1.SnapshotID == "" {
		t.Fatal("expected a non-empty snapshot id")
	}
	r2, err := e.FinalizeBatch()
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if r2.SnapshotID == r1.SnapshotID {
		t.Fatal("expected distinct snapshot ids across finalize calls")
	}
}

func TestExecuteWithdrawalRoundTripThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	kp, _ := cryptoring.GenerateKeyPair()
	dep, err := e.ExecuteDeposit(collateralToken, 1_000_000, kp.Pub, field.FromUint64(3))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	note := entities.Note{Index: dep.NoteIndex, Address: kp.Pub, Token: collateralToken, Amount: 1_000_000, Blinding: field.FromUint64(3)}
	msg := field.H(field.FromUint64(uint64(collateralToken)), field.FromUint64(1_000_000))
	sig, err := cryptoring.Sign(kp, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := execution.WithdrawalRequest{
		Token:      collateralToken,
		Amount:     1_000_000,
		NotesIn:    []entities.Note{note},
		RefundAddr: kp.Pub,
		Signature:  sig,
	}
	if _, err := e.ExecuteWithdrawal(req); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
}

func TestAmendOrderChangesPrice(t *testing.T) {
	e := newTestEngine(t)
	kp, _ := cryptoring.GenerateKeyPair()
	dep, err := e.ExecuteDeposit(baseToken, 1_000_000_000, kp.Pub, field.FromUint64(4))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	note := entities.Note{Index: dep.NoteIndex, Address: kp.Pub, Token: baseToken, Amount: 1_000_000_000, Blinding: field.FromUint64(4)}
	order := &entities.Order{
		OrderID:    uint64(marketID),
		Side:       entities.Ask,
		Price:      2000,
		Qty:        1_000_000_000,
		QtyLeft:    1_000_000_000,
		UserID:     "maker",
		Kind:       entities.SpotBody,
		Spot:       &entities.SpotOrderBody{NotesIn: []entities.Note{note}},
		SubmittedAt: time.Now(),
	}
	if _, err := e.SubmitSpotOrder(order, false); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.AmendOrder(marketID, order.OrderID, 2500, false); err != nil {
		t.Fatalf("amend: %v", err)
	}
}
