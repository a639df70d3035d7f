package tests

import (
	"testing"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/execution"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

const ethToken = uint32(2)

// TestOpenPositionThenLiquidation is spec §8 scenario 3: A opens Long 10 ETH
// at entry 2000 with 4000 USDC margin (5x leverage), the index price falls
// far enough to breach maintenance margin, and a liquidator closes it. The
// liquidator earns a fee off the realized equity and the remainder (here a
// shortfall, since entry-to-mark Long losses exceed the margin buffer at
// this price) is drawn from the insurance fund.
func TestOpenPositionThenLiquidation(t *testing.T) {
	e := newTestEngine(t)
	akp, _ := cryptoring.GenerateKeyPair()
	lkp, _ := cryptoring.GenerateKeyPair()

	dep, err := e.ExecuteDeposit(collateralToken, 4_000, akp.Pub, field.FromUint64(31))
	if err != nil {
		t.Fatalf("deposit margin: %v", err)
	}
	marginNote := entities.Note{Index: dep.NoteIndex, Address: akp.Pub, Token: collateralToken, Amount: 4_000, Blinding: field.FromUint64(31)}

	openRes, err := e.OpenPosition(execution.PerpFill{
		SyntheticToken:  ethToken,
		CollateralToken: collateralToken,
		FillQty:         10,
		FillPrice:       2_000,
		Leverage:        5,
		Header:          entities.PositionHeader{SyntheticToken: ethToken, PositionAddress: akp.Pub},
		Side:            entities.Long,
		NotesIn:         []entities.Note{marginNote},
		RefundNote:      marginNote,
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if openRes.NewPosition.Margin != 4_000 || openRes.NewPosition.PositionSize != 10 {
		t.Fatalf("unexpected opened position: %+v", openRes.NewPosition)
	}

	const marketPrice = 1_600 // drops the position's equity to its maintenance-margin floor
	liquidatorAddr := entities.Note{Address: lkp.Pub, Blinding: field.FromUint64(99)}
	liqRes, err := e.SubmitLiquidationOrder(openRes.NewPosition, marketPrice, collateralToken, 50, 0, liquidatorAddr)
	if err != nil {
		t.Fatalf("liquidation: %v", err)
	}
	if liqRes.RemainingPosition != nil {
		t.Fatalf("expected a full liquidation (no AllowPartialLiquidation flag), got remaining %+v", liqRes.RemainingPosition)
	}

	const wantFee = 10 * marketPrice * 50 / 10000 // 80
	if liqRes.LiquidatorHash.IsZero() {
		t.Fatal("expected a non-zero liquidator fee note hash")
	}
	wantLeftover := int64(0) - int64(wantFee) // equity at this price is exactly 0
	if liqRes.InsuranceDelta != wantLeftover {
		t.Fatalf("expected insurance delta %d, got %d", wantLeftover, liqRes.InsuranceDelta)
	}
	if got := e.GetStateInfo().InsuranceFund; got != wantLeftover {
		t.Fatalf("expected insurance fund to reflect the liquidation shortfall, got %d want %d", got, wantLeftover)
	}
}

// TestSpotSwapRollsBackOnMakerSignatureFailure is spec §8 scenario 4: a spot
// swap passes every check except the maker's signature, which does not
// verify against its order's signing message. Expect the state tree
// unchanged from before the transaction, the maker restored to the book at
// its original price/time slot, the taker's order not advanced, and a
// SignatureError surfaced.
func TestSpotSwapRollsBackOnMakerSignatureFailure(t *testing.T) {
	e := newTestEngine(t)
	akp, _ := cryptoring.GenerateKeyPair() // taker, buys BTC
	bkp, _ := cryptoring.GenerateKeyPair() // maker, sells BTC, signs with the wrong key

	depA, err := e.ExecuteDeposit(collateralToken, 200_000, akp.Pub, field.FromUint64(41))
	if err != nil {
		t.Fatalf("deposit usdc: %v", err)
	}
	aUSDC := entities.Note{Index: depA.NoteIndex, Address: akp.Pub, Token: collateralToken, Amount: 200_000, Blinding: field.FromUint64(41)}
	bBTC := depositBTC(t, e, bkp, 100, 42)

	ask := restingAsk(uint64(marketID)|(1<<32), 20_000, 5, "B", bBTC)
	wrongKp, _ := cryptoring.GenerateKeyPair()
	signOrder(t, wrongKp, ask) // signed by a key that doesn't own bBTC
	if _, err := e.SubmitSpotOrder(ask, false); err != nil {
		t.Fatalf("resting ask: %v", err)
	}

	stateBefore := e.GetStateInfo()

	bid := &entities.Order{
		OrderID: uint64(marketID) | (2 << 32),
		Side:    entities.Bid,
		Price:   20_000,
		Qty:     5,
		QtyLeft: 5,
		UserID:  "A",
		Kind:    entities.SpotBody,
		Spot:    &entities.SpotOrderBody{NotesIn: []entities.Note{aUSDC}},
	}
	signOrder(t, akp, bid)
	res, err := e.SubmitSpotOrder(bid, false)
	if err == nil {
		t.Fatal("expected the swap to fail on the maker's bad signature")
	}
	if !xerrors.Is(err, xerrors.KindSignature) {
		t.Fatalf("expected a SignatureError, got %v (%T)", err, err)
	}
	if len(res.Settled) != 0 {
		t.Fatalf("expected no settled fills, got %d", len(res.Settled))
	}

	stateAfter := e.GetStateInfo()
	if stateAfter.Slots != stateBefore.Slots {
		t.Fatalf("expected the tree to be unchanged by the failed fill, slots before=%d after=%d", stateBefore.Slots, stateAfter.Slots)
	}

	// The maker should be back on the book at its original price; the
	// retry treats the taker as a marketable order with nothing left to
	// cross (its only counterparty was excluded), so it is not advanced
	// and is not left resting either.
	_, hasBid, askQty, hasAsk, err := e.GetLiquidity(marketID)
	if err != nil {
		t.Fatalf("get liquidity: %v", err)
	}
	if !hasAsk || askQty != 5 {
		t.Fatalf("expected the maker's 5 BTC ask still resting, got hasAsk=%v qty=%d", hasAsk, askQty)
	}
	if hasBid {
		t.Fatal("expected the taker's bid not to be resting after a no-match retry")
	}
}
