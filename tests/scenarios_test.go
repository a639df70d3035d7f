// Package tests holds end-to-end scenarios exercising pkg/engine the way
// spec §8's "End-to-end scenarios" describes, each driving the same
// Engine a deployment would run rather than calling pkg/execution
// directly.
package tests

import (
	"testing"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/engine"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/execution"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/tree"
)

const (
	collateralToken = uint32(0) // USDC-like
	btcToken        = uint32(1)
	marketID        = uint32(1)
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	partitions := newMemPartitionStore()
	merkle := tree.NewBatch(partitions)
	hist := newMemHistoryStore()
	xscr := newMemTranscriptStore()
	oracle := batch.NewOracleAggregator(map[uint32]*cryptoring.ObserverKey{}, 0)

	e := engine.New(execution.Params{
		DustThreshold:                map[uint32]uint64{collateralToken: 100, btcToken: 1000},
		DecimalsPerAsset:             map[uint32]uint8{collateralToken: 6, btcToken: 9},
		LiquidatorFeeBps:             50,
		InitialMarginFractionBps:     1000,
		MaintenanceMarginFractionBps: 300,
	}, merkle, hist, xscr, oracle)
	e.RegisterMarket(engine.MarketConfig{MarketID: marketID, BaseToken: btcToken, QuoteToken: collateralToken, FeeBps: 0, SlippageCapBps: 5000})
	return e
}

func depositBTC(t *testing.T, e *engine.Engine, kp *cryptoring.KeyPair, amount uint64, blind uint64) entities.Note {
	t.Helper()
	res, err := e.ExecuteDeposit(btcToken, amount, kp.Pub, field.FromUint64(blind))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	return entities.Note{Index: res.NoteIndex, Address: kp.Pub, Token: btcToken, Amount: amount, Blinding: field.FromUint64(blind)}
}

func restingAsk(orderID uint64, price, qty uint64, user string, note entities.Note) *entities.Order {
	return &entities.Order{
		OrderID: orderID,
		Side:    entities.Ask,
		Price:   price,
		Qty:     qty,
		QtyLeft: qty,
		UserID:  user,
		Kind:    entities.SpotBody,
		Spot:    &entities.SpotOrderBody{NotesIn: []entities.Note{note}},
	}
}

// signOrder computes o.SigningMessage() and assigns Signature in place,
// mirroring how a client would sign before submitting.
func signOrder(t *testing.T, kp *cryptoring.KeyPair, o *entities.Order) {
	t.Helper()
	sig, err := cryptoring.Sign(kp, o.SigningMessage())
	if err != nil {
		t.Fatalf("sign order %d: %v", o.OrderID, err)
	}
	o.Signature = sig
}

// TestDepositSpotSwapWithdrawal is spec §8 scenario 1: a note-funded maker
// and a note-funded taker cross fully, then the taker withdraws its
// proceeds.
func TestDepositSpotSwapWithdrawal(t *testing.T) {
	e := newTestEngine(t)
	akp, _ := cryptoring.GenerateKeyPair() // buyer (taker, bid, pays USDC, receives BTC)
	bkp, _ := cryptoring.GenerateKeyPair() // seller (maker, ask, sells BTC, leaves BTC change)

	aUSDC := func() entities.Note {
		res, err := e.ExecuteDeposit(collateralToken, 200_000, akp.Pub, field.FromUint64(11))
		if err != nil {
			t.Fatalf("deposit usdc: %v", err)
		}
		return entities.Note{Index: res.NoteIndex, Address: akp.Pub, Token: collateralToken, Amount: 200_000, Blinding: field.FromUint64(11)}
	}()
	// 3,000 BTC funds the maker's resting ask; only 1,000 fills, leaving
	// 2,000 BTC change, comfortably above the btcToken dust threshold (so
	// the maker's refund note actually gets minted).
	bBTC := depositBTC(t, e, bkp, 3_000, 22)

	ask := restingAsk(uint64(marketID)|(1<<32), 20, 1_000, "B", bBTC)
	signOrder(t, bkp, ask)
	if _, err := e.SubmitSpotOrder(ask, false); err != nil {
		t.Fatalf("resting ask: %v", err)
	}

	bid := &entities.Order{
		OrderID: uint64(marketID) | (2 << 32),
		Side:    entities.Bid,
		Price:   20,
		Qty:     1_000,
		QtyLeft: 1_000,
		UserID:  "A",
		Kind:    entities.SpotBody,
		Spot:    &entities.SpotOrderBody{NotesIn: []entities.Note{aUSDC}},
	}
	signOrder(t, akp, bid)
	res, err := e.SubmitSpotOrder(bid, false)
	if err != nil {
		t.Fatalf("taker bid: %v", err)
	}
	if len(res.Settled) != 1 {
		t.Fatalf("expected exactly one swap record, got %d", len(res.Settled))
	}
	fill := res.Settled[0]
	if fill.MakerOutIndex == nil || fill.MakerRefundIndex == nil {
		t.Fatal("expected maker to receive both a proceeds note and a BTC refund note")
	}

	// The taker bid spends USDC and receives BTC; its received note reuses
	// its input note's owner/blinding (buildSpotFill sets fill.Taker.RefundAddr
	// to the taker's own input note), so its blinding is the one used for the
	// original deposit.
	takerOut := entities.Note{Index: fill.TakerOutIndex, Address: akp.Pub, Token: btcToken, Amount: 1_000, Blinding: field.FromUint64(11)}
	if got := takerOut.Hash(); !got.Equal(fill.TakerOutHash) {
		t.Fatalf("reconstructed taker-out note hash mismatch: got %s want %s", got, fill.TakerOutHash)
	}

	withdrawMsg := field.H(field.FromUint64(uint64(btcToken)), field.FromUint64(1_000))
	sig, err := cryptoring.Sign(akp, withdrawMsg)
	if err != nil {
		t.Fatalf("sign withdrawal: %v", err)
	}
	wreq := execution.WithdrawalRequest{
		Token:      btcToken,
		Amount:     1_000,
		NotesIn:    []entities.Note{takerOut},
		RefundAddr: akp.Pub,
		Signature:  sig,
	}
	if _, err := e.ExecuteWithdrawal(wreq); err != nil {
		t.Fatalf("withdrawal: %v", err)
	}
}

// TestPartialFillSequencing is spec §8 scenario 2: a taker sells 10,000 BTC
// base units into two resting bids of 3,000 and 4,000, leaving 3,000
// resting/refunded. Both maker fills are settled against the taker's one
// funding note, so its refund note must land at (and stay at) one stable
// slot across both fills rather than a freshly allocated one each time.
func TestPartialFillSequencing(t *testing.T) {
	e := newTestEngine(t)
	maker1, _ := cryptoring.GenerateKeyPair()
	maker2, _ := cryptoring.GenerateKeyPair()
	taker, _ := cryptoring.GenerateKeyPair()

	depUSDC := func(kp *cryptoring.KeyPair, amount, blind uint64) entities.Note {
		res, err := e.ExecuteDeposit(collateralToken, amount, kp.Pub, field.FromUint64(blind))
		if err != nil {
			t.Fatalf("deposit usdc: %v", err)
		}
		return entities.Note{Index: res.NoteIndex, Address: kp.Pub, Token: collateralToken, Amount: amount, Blinding: field.FromUint64(blind)}
	}

	n1 := depUSDC(maker1, 3_000*20_000, 1)
	n2 := depUSDC(maker2, 4_000*20_000, 2)
	bid1 := &entities.Order{OrderID: uint64(marketID) | (1 << 32), Side: entities.Bid, Price: 20_000, Qty: 3_000, QtyLeft: 3_000, UserID: "m1", Kind: entities.SpotBody, Spot: &entities.SpotOrderBody{NotesIn: []entities.Note{n1}}}
	bid2 := &entities.Order{OrderID: uint64(marketID) | (2 << 32), Side: entities.Bid, Price: 20_000, Qty: 4_000, QtyLeft: 4_000, UserID: "m2", Kind: entities.SpotBody, Spot: &entities.SpotOrderBody{NotesIn: []entities.Note{n2}}}
	signOrder(t, maker1, bid1)
	signOrder(t, maker2, bid2)
	if _, err := e.SubmitSpotOrder(bid1, false); err != nil {
		t.Fatalf("bid1: %v", err)
	}
	if _, err := e.SubmitSpotOrder(bid2, false); err != nil {
		t.Fatalf("bid2: %v", err)
	}

	takerBTC := depositBTC(t, e, taker, 10_000, 9)
	ask := &entities.Order{OrderID: uint64(marketID) | (3 << 32), Side: entities.Ask, Price: 20_000, Qty: 10_000, QtyLeft: 10_000, UserID: "taker", Kind: entities.SpotBody, Spot: &entities.SpotOrderBody{NotesIn: []entities.Note{takerBTC}}}
	signOrder(t, taker, ask)
	res, err := e.SubmitSpotOrder(ask, false)
	if err != nil {
		t.Fatalf("taker ask: %v", err)
	}
	if len(res.Settled) != 2 {
		t.Fatalf("expected two swap records in commit order, got %d", len(res.Settled))
	}
	if res.RestingQty != 3_000 {
		t.Fatalf("expected 3,000 BTC base units to rest unmatched, got %d", res.RestingQty)
	}

	first, second := res.Settled[0], res.Settled[1]
	if first.TakerRefundIndex == nil || second.TakerRefundIndex == nil {
		t.Fatal("expected both fills to produce a taker refund note (7,000 then 3,000 BTC, both above the dust threshold)")
	}
	if *first.TakerRefundIndex != takerBTC.Index || *second.TakerRefundIndex != takerBTC.Index {
		t.Fatalf("expected the taker's refund note to reuse its funding note's slot %d across both fills, got %d then %d",
			takerBTC.Index, *first.TakerRefundIndex, *second.TakerRefundIndex)
	}
	wantFirstRefund := entities.Note{Index: takerBTC.Index, Address: taker.Pub, Token: btcToken, Amount: 7_000, Blinding: takerBTC.Blinding}
	if !wantFirstRefund.Hash().Equal(*first.TakerRefundHash) {
		t.Fatalf("unexpected first-fill refund hash: got %s want %s", first.TakerRefundHash, wantFirstRefund.Hash())
	}
	wantSecondRefund := entities.Note{Index: takerBTC.Index, Address: taker.Pub, Token: btcToken, Amount: 3_000, Blinding: takerBTC.Blinding}
	if !wantSecondRefund.Hash().Equal(*second.TakerRefundHash) {
		t.Fatalf("unexpected second-fill refund hash: got %s want %s", second.TakerRefundHash, wantSecondRefund.Hash())
	}
}

// TestFinalizeBatchDeterminism is spec §8 scenario 5: finalizing two
// independently constructed engines over the same sequence of deposits
// yields bit-identical (prev_root, new_root) pairs.
func TestFinalizeBatchDeterminism(t *testing.T) {
	kp, _ := cryptoring.GenerateKeyPair()
	build := func() *engine.Engine {
		e := newTestEngine(t)
		if _, err := e.ExecuteDeposit(btcToken, 1_000_000_000, kp.Pub, field.FromUint64(1)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
		return e
	}
	e1, e2 := build(), build()
	r1, err := e1.FinalizeBatch()
	if err != nil {
		t.Fatalf("finalize e1: %v", err)
	}
	r2, err := e2.FinalizeBatch()
	if err != nil {
		t.Fatalf("finalize e2: %v", err)
	}
	if r1.NewRoot != r2.NewRoot {
		t.Fatalf("expected identical new roots for identical transcripts, got %s vs %s", r1.NewRoot, r2.NewRoot)
	}
	if r1.PrevRoot != r2.PrevRoot {
		t.Fatalf("expected identical prev roots, got %s vs %s", r1.PrevRoot, r2.PrevRoot)
	}
}

// TestFinalizeBatchNoOpOnUnchangedState is the companion round-trip property
// from spec §8: finalizing twice in a row with no intervening writes
// produces identical prev_root == new_root on the second call.
func TestFinalizeBatchNoOpOnUnchangedState(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.FinalizeBatch(); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	res, err := e.FinalizeBatch()
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if res.PrevRoot != res.NewRoot {
		t.Fatalf("expected no-op finalize to hold prev_root == new_root, got %s != %s", res.PrevRoot, res.NewRoot)
	}
}
