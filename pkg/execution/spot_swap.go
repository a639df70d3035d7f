package execution

import (
	"github.com/0xzex/zex-core/pkg/concurrency"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// SpotFill is one matched crossing between a taker and a maker spot order
// at a single clearing price, the unit pkg/orderbook hands to execution
// after the book decides who crosses whom (spec §4.2/§4.3). Grounded on
// original_source/invisible_backend/src/transactions/swap.rs.
type SpotFill struct {
	BaseToken  uint32
	QuoteToken uint32
	FillQty    uint64 // in base-token units
	FillPrice  uint64 // quote per base; the quote amount is FillQty*FillPrice, with no decimal scaling
	FeeBps     uint64

	Taker Leg
	Maker Leg
}

// Leg is one side's contribution to a fill: either its own notes (a
// note-funded taker) or a resting order tab (a market-maker maker).
type Leg struct {
	Side        entities.OrderSide
	NotesIn     []entities.Note
	RefundAddr  entities.Note // Address/Blinding reused for the refund note owner/blinding
	Tab         *entities.OrderTab

	// OrderID, Price and Signature authenticate a note-funded leg's owner
	// against the same message entities.Order.SigningMessage computes;
	// unused when Tab is set, since the order tab was already authenticated
	// at open_order_tab time.
	OrderID   uint64
	Price     uint64
	Signature cryptoring.Signature
}

// legSigningMessage mirrors entities.Order.SigningMessage so a leg split out
// of its originating order verifies against the same message the owner
// actually signed.
func legSigningMessage(orderID uint64, side entities.OrderSide, price uint64, notes []entities.Note) field.Element {
	elems := make([]field.Element, 0, len(notes)+3)
	elems = append(elems, field.FromUint64(orderID), field.FromUint64(uint64(side)), field.FromUint64(price))
	for _, n := range notes {
		elems = append(elems, n.Hash())
	}
	return field.Hvec(elems...)
}

// resolveFundingNotes returns the notes actually available to spend for a
// leg: its order's originally declared notes on the first fill against that
// order, or the single refund note a prior partial fill left resident at
// its reserved slot (spec §8 scenario 2: "the refund slot is reused across
// fills, same index" — by the second fill the declared notes are already
// zeroed, so they are no longer what is actually spendable).
func resolveFundingNotes(refunds *concurrency.RefundTracker, orderID uint64, declared []entities.Note) []entities.Note {
	if pr, ok := refunds.Get(orderID); ok {
		return []entities.Note{pr.Note}
	}
	return declared
}

// settleLegRefund zeros a leg's spent notes and writes any leftover change
// to the leg's stable per-order refund slot (the order's first declared
// note's index), rather than allocating a fresh slot each fill. It records
// or clears the order's tracked pending refund so the next fill against the
// same order (in this settlement or a later one) finds the right slot.
func settleLegRefund(u *unit, refunds *concurrency.RefundTracker, orderID uint64, declared, spent []entities.Note, change uint64, token uint32, owner entities.Note, dust uint64) (*uint64, *field.Element) {
	refundSlot := declared[0].Index
	for _, n := range spent {
		if n.Index == refundSlot {
			continue
		}
		u.write(n.Index, tree.LeafNote, field.Zero)
	}
	if change > 0 && !(entities.Note{Amount: change}).IsDust(dust) {
		refund := entities.Note{Index: refundSlot, Address: owner.Address, Token: token, Amount: change, Blinding: owner.Blinding}
		h := refund.Hash()
		u.write(refundSlot, tree.LeafNote, h)
		refunds.Set(orderID, concurrency.PendingRefund{Note: refund})
		return &refundSlot, &h
	}
	u.write(refundSlot, tree.LeafNote, field.Zero)
	refunds.Clear(orderID)
	return nil, nil
}

// SpotFillResult reports the new note/tab state produced by one fill.
type SpotFillResult struct {
	TakerRefundIndex *uint64
	TakerRefundHash  *field.Element
	TakerOutIndex    uint64
	TakerOutHash     field.Element

	// Maker{Refund,Out}{Index,Hash} are populated only when the maker leg
	// was note-funded rather than an order tab (NewTab nil).
	MakerRefundIndex *uint64
	MakerRefundHash  *field.Element
	MakerOutIndex    *uint64
	MakerOutHash     *field.Element

	NewTab *entities.OrderTab
}

func quoteAmount(baseQty, price uint64) uint64 {
	return baseQty * price
}

// ExecuteSpotSwap settles one taker/maker crossing: the taker's input notes
// (base if selling, quote if buying) are spent, a change note is refunded
// for any unspent remainder after fees, and a new note for the received
// asset is minted. When the maker leg carries an order tab instead of
// notes, the tab's base/quote balances are adjusted in place rather than
// spending maker notes (spec §3's "order tab" market-maker liquidity).
func ExecuteSpotSwap(ctx *Ctx, requestToken string, fill SpotFill) (SpotFillResult, error) {
	if fill.FillQty == 0 {
		return SpotFillResult{}, xerrors.Validation("spot fill qty must be positive")
	}
	spend := quoteAmount(fill.FillQty, fill.FillPrice)

	takerSpendToken := fill.QuoteToken
	takerSpendAmount := spend
	takerRecvToken := fill.BaseToken
	takerRecvAmount := fill.FillQty
	if fill.Taker.Side == entities.Ask {
		takerSpendToken, takerRecvToken = fill.BaseToken, fill.QuoteToken
		takerSpendAmount, takerRecvAmount = fill.FillQty, spend
	}

	makerSpendToken, makerRecvToken := takerRecvToken, takerSpendToken
	makerSpendAmount, makerRecvAmount := takerRecvAmount, takerSpendAmount

	// takerSpent/makerSpent are what a leg can actually spend right now: the
	// order's originally declared notes on its first fill, or the single
	// refund note a prior partial fill against the same order left resident
	// (resolveFundingNotes). The declared notes stay fixed across fills and
	// are what the owner's signature was computed over; resolved notes are
	// what the tree still holds.
	takerSpent := resolveFundingNotes(ctx.Refunds, fill.Taker.OrderID, fill.Taker.NotesIn)
	if err := requireDistinctIndices(takerSpent); err != nil {
		return SpotFillResult{}, err
	}
	if err := requireSameToken(takerSpent, takerSpendToken); err != nil {
		return SpotFillResult{}, err
	}
	for _, n := range takerSpent {
		if err := verifyNote(ctx.Tree, n); err != nil {
			return SpotFillResult{}, err
		}
	}
	takerMsg := legSigningMessage(fill.Taker.OrderID, fill.Taker.Side, fill.Taker.Price, fill.Taker.NotesIn)
	if err := aggregateNoteSignature(fill.Taker.NotesIn, takerMsg, fill.Taker.Signature); err != nil {
		return SpotFillResult{}, err
	}
	total := sumNoteAmounts(takerSpent)
	fee := (takerSpendAmount * fill.FeeBps) / 10000
	if total < takerSpendAmount+fee {
		return SpotFillResult{}, xerrors.Validation("taker notes %d cover neither spend %d plus fee %d", total, takerSpendAmount, fee)
	}
	change := total - takerSpendAmount - fee

	// Validate the maker leg before any write so a rejected fill never
	// mutates the tree (spec §5 "all-or-nothing"; rollback only undoes
	// writes already applied, so checks that can fail must run first).
	var newTab *entities.OrderTab
	var makerSpent []entities.Note
	var makerTotal uint64
	if fill.Maker.Tab != nil {
		tab := *fill.Maker.Tab
		if fill.Taker.Side == entities.Bid {
			if tab.BaseAmount < fill.FillQty {
				return SpotFillResult{}, xerrors.Validation("order tab %d has insufficient base liquidity", tab.TabIdx)
			}
			tab.BaseAmount -= fill.FillQty
			tab.QuoteAmount += spend
		} else {
			if tab.QuoteAmount < spend {
				return SpotFillResult{}, xerrors.Validation("order tab %d has insufficient quote liquidity", tab.TabIdx)
			}
			tab.QuoteAmount -= spend
			tab.BaseAmount += fill.FillQty
		}
		newTab = &tab
	} else {
		makerSpent = resolveFundingNotes(ctx.Refunds, fill.Maker.OrderID, fill.Maker.NotesIn)
		if err := requireDistinctIndices(makerSpent); err != nil {
			return SpotFillResult{}, err
		}
		if err := requireSameToken(makerSpent, makerSpendToken); err != nil {
			return SpotFillResult{}, err
		}
		for _, n := range makerSpent {
			if err := verifyNote(ctx.Tree, n); err != nil {
				return SpotFillResult{}, err
			}
		}
		makerMsg := legSigningMessage(fill.Maker.OrderID, fill.Maker.Side, fill.Maker.Price, fill.Maker.NotesIn)
		if err := aggregateNoteSignature(fill.Maker.NotesIn, makerMsg, fill.Maker.Signature); err != nil {
			return SpotFillResult{}, err
		}
		makerTotal = sumNoteAmounts(makerSpent)
		if makerTotal < makerSpendAmount {
			return SpotFillResult{}, xerrors.Validation("maker notes %d cover neither fill amount %d", makerTotal, makerSpendAmount)
		}
	}

	u := ctx.begin(requestToken)

	result := SpotFillResult{}
	result.TakerRefundIndex, result.TakerRefundHash = settleLegRefund(
		u, ctx.Refunds, fill.Taker.OrderID, fill.Taker.NotesIn, takerSpent,
		change, takerSpendToken, fill.Taker.RefundAddr, ctx.Params.dust(takerSpendToken))

	outIdx := ctx.Tree.FirstZeroIdx()
	out := entities.Note{Index: outIdx, Address: fill.Taker.RefundAddr.Address, Token: takerRecvToken, Amount: takerRecvAmount, Blinding: fill.Taker.RefundAddr.Blinding}
	outHash := out.Hash()
	u.write(outIdx, tree.LeafNote, outHash)
	result.TakerOutIndex = outIdx
	result.TakerOutHash = outHash

	if newTab != nil {
		h := newTab.Hash()
		u.write(newTab.TabIdx, tree.LeafOrderTab, h)
		result.NewTab = newTab
	} else if len(makerSpent) > 0 {
		makerChange := makerTotal - makerSpendAmount
		result.MakerRefundIndex, result.MakerRefundHash = settleLegRefund(
			u, ctx.Refunds, fill.Maker.OrderID, fill.Maker.NotesIn, makerSpent,
			makerChange, makerSpendToken, fill.Maker.RefundAddr, ctx.Params.dust(makerSpendToken))

		makerOutIdx := ctx.Tree.FirstZeroIdx()
		makerOut := entities.Note{Index: makerOutIdx, Address: fill.Maker.RefundAddr.Address, Token: makerRecvToken, Amount: makerRecvAmount, Blinding: fill.Maker.RefundAddr.Blinding}
		makerOutHash := makerOut.Hash()
		u.write(makerOutIdx, tree.LeafNote, makerOutHash)
		result.MakerOutIndex = &makerOutIdx
		result.MakerOutHash = &makerOutHash
	}
	u.commit()

	ctx.collectFee(takerSpendToken, fee)
	if ctx.Counters != nil {
		ctx.Counters.AddSpotVolume(spend)
	}

	rec := transcript.Record{
		"transaction_type": "spot_swap",
		"base_token":       fill.BaseToken,
		"quote_token":      fill.QuoteToken,
		"fill_qty":         fill.FillQty,
		"fill_price":       fill.FillPrice,
		"fee":              fee,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return SpotFillResult{}, err
	}
	return result, nil
}
