package orderbook

import (
	"testing"
	"time"

	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

func mkOrder(id uint64, side entities.OrderSide, price, qty uint64, user string) *entities.Order {
	return &entities.Order{OrderID: id, Side: side, Price: price, Qty: qty, QtyLeft: qty, UserID: user}
}

func TestSubmitRestsNonCrossingOrder(t *testing.T) {
	b := NewBook(1, 0)
	out, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "alice"), false, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Fills) != 0 || out.RestingQty != 5 {
		t.Fatalf("expected resting order, got %+v", out)
	}
}

func TestSubmitCrossesAndPairsTakerMaker(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Ask, 100, 5, "maker"), false, "maker"); err != nil {
		t.Fatal(err)
	}
	out, err := b.Submit(mkOrder(2, entities.Bid, 100, 5, "taker"), false, "taker")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Fills) != 2 {
		t.Fatalf("expected one taker-maker pair, got %d fills", len(out.Fills))
	}
	if out.Fills[0].Kind != FillTaker || out.Fills[0].OrderID != 2 {
		t.Fatalf("expected taker leg first: %+v", out.Fills[0])
	}
	if out.Fills[1].Kind != FillMaker || out.Fills[1].OrderID != 1 {
		t.Fatalf("expected maker leg second: %+v", out.Fills[1])
	}
	if out.RestingQty != 0 {
		t.Fatalf("expected fully filled taker, got resting %d", out.RestingQty)
	}
}

func TestSubmitPartialFillSequencing(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Bid, 20000, 3, "maker1"), false, "maker1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(mkOrder(2, entities.Bid, 20000, 4, "maker2"), false, "maker2"); err != nil {
		t.Fatal(err)
	}
	out, err := b.Submit(mkOrder(3, entities.Ask, 20000, 10, "taker"), true, "taker")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Fills) != 4 {
		t.Fatalf("expected two taker-maker pairs (4 fills), got %d", len(out.Fills))
	}
	if out.RestingQty != 3 {
		t.Fatalf("expected 3 unfilled (market order drops remainder), got %d", out.RestingQty)
	}
}

func TestSubmitMarketOrderNoMatch(t *testing.T) {
	b := NewBook(1, 0)
	out, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "taker"), true, "taker")
	if err != nil {
		t.Fatal(err)
	}
	if !out.NoMatch {
		t.Fatalf("expected NoMatch, got %+v", out)
	}
}

func TestSubmitNonCrossingLimitInsertsWithoutMatch(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Ask, 100, 5, "maker"), false, "maker"); err != nil {
		t.Fatal(err)
	}
	out, err := b.Submit(mkOrder(2, entities.Bid, 90, 5, "taker"), false, "taker")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Fills) != 0 || out.RestingQty != 5 {
		t.Fatalf("expected no match below best ask, got %+v", out)
	}
}

func TestCancelRemovesOwnedOrder(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "alice"), false, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := b.Cancel(1, entities.Bid, "bob"); !xerrors.Is(err, xerrors.KindOrderbook) {
		t.Fatalf("expected OrderbookError for wrong owner, got %v", err)
	}
	if err := b.Cancel(1, entities.Bid, "alice"); err != nil {
		t.Fatalf("unexpected error cancelling own order: %v", err)
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("expected book empty after cancel")
	}
}

func TestReducePendingAndRestorePendingAreInverses(t *testing.T) {
	b := NewBook(1, 0)
	maker := mkOrder(1, entities.Ask, 100, 5, "maker")
	if _, err := b.Submit(maker, false, "maker"); err != nil {
		t.Fatal(err)
	}
	taker := mkOrder(2, entities.Bid, 100, 5, "taker")
	if _, err := b.Submit(taker, false, "taker"); err != nil {
		t.Fatal(err)
	}
	// maker fully filled -> moved to pendingRemoved with pendingQty 5.
	if len(b.Snapshot()) != 0 {
		t.Fatalf("expected maker removed from resting book while pending")
	}
	if err := b.RestorePending(maker, 5); err != nil {
		t.Fatalf("restore_pending failed: %v", err)
	}
	snap := b.Snapshot()
	if len(snap) != 1 || snap[0].QtyLeft != 5 {
		t.Fatalf("expected maker restored with qty 5, got %+v", snap)
	}
	// a second match reserves the restored maker again; reduce_pending then
	// commits that whole reservation.
	if _, err := b.Submit(mkOrder(3, entities.Bid, 100, 5, "taker"), false, "taker"); err != nil {
		t.Fatal(err)
	}
	if err := b.ReducePending(1, 5, false); err != nil {
		t.Fatalf("reduce_pending failed: %v", err)
	}
}

func TestReducePendingForcedCancelRemovesRegardlessOfResidual(t *testing.T) {
	b := NewBook(1, 0)
	maker := mkOrder(1, entities.Ask, 100, 10, "maker")
	if _, err := b.Submit(maker, false, "maker"); err != nil {
		t.Fatal(err)
	}
	taker := mkOrder(2, entities.Bid, 100, 4, "taker")
	if _, err := b.Submit(taker, false, "taker"); err != nil {
		t.Fatal(err)
	}
	if err := b.ReducePending(1, 4, true); err != nil {
		t.Fatalf("reduce_pending forced_cancel failed: %v", err)
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("expected order removed irrespective of residual quantity")
	}
}

func TestRetrySkipsExcludedMakers(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "maker1"), false, "maker1"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(mkOrder(2, entities.Bid, 100, 5, "maker2"), false, "maker2"); err != nil {
		t.Fatal(err)
	}
	taker := mkOrder(3, entities.Ask, 100, 5, "taker")
	excluded := map[uint64]bool{1: true}
	out, err := b.Retry(taker, taker.QtyLeft, "taker", excluded)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Fills) != 2 || out.Fills[1].OrderID != 2 {
		t.Fatalf("expected excluded maker 1 skipped in favor of maker 2, got %+v", out.Fills)
	}
}

func TestAmendMatchOnlyRequiresMoreAggressivePrice(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "alice"), false, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := b.Amend(1, 90, time.Time{}, true); !xerrors.Is(err, xerrors.KindOrderbook) {
		t.Fatalf("expected rejection of less aggressive match_only amend, got %v", err)
	}
}

func TestAmendRepositionsOrder(t *testing.T) {
	b := NewBook(1, 0)
	if _, err := b.Submit(mkOrder(1, entities.Bid, 100, 5, "alice"), false, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := b.Amend(1, 150, time.Time{}, false); err != nil {
		t.Fatal(err)
	}
	snap := b.Snapshot()
	if len(snap) != 1 || snap[0].Price != 150 {
		t.Fatalf("expected order repriced to 150, got %+v", snap)
	}
}
