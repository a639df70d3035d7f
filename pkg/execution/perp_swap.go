package execution

import (
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// PerpFill is one matched crossing between a perpetual taker and maker
// order, settled against a position that is either freshly opened or
// already resting at PositionIndex. Grounded on
// original_source/invisible_backend/src/transactions/
// perpetual_swap.rs and perpetual/perp_position.rs.
type PerpFill struct {
	SyntheticToken  uint32
	CollateralToken uint32
	FillQty         uint64
	FillPrice       uint64
	Leverage        uint64
	FeeBps          uint64

	// PositionIndex is nil when this fill opens a brand-new position.
	PositionIndex *uint64
	Existing      *entities.Position
	Header        entities.PositionHeader
	Side          entities.Side

	// OpenOrderFields funds a fresh position's initial margin from notes.
	NotesIn    []entities.Note
	RefundNote entities.Note // Address/Blinding reused for refund + position owner
}

type PerpFillResult struct {
	PositionIndex    uint64
	NewPosition      entities.Position
	RefundNoteIndex  *uint64
	RefundNoteHash   *field.Element
}

// ExecuteOpenPosition funds a new position's initial margin from input
// notes and writes the fresh position leaf at size=FillQty, entry=FillPrice.
func ExecuteOpenPosition(ctx *Ctx, requestToken string, fill PerpFill) (PerpFillResult, error) {
	if fill.FillQty == 0 {
		return PerpFillResult{}, xerrors.Validation("perp fill qty must be positive")
	}
	if err := requireDistinctIndices(fill.NotesIn); err != nil {
		return PerpFillResult{}, err
	}
	if err := requireSameToken(fill.NotesIn, fill.CollateralToken); err != nil {
		return PerpFillResult{}, err
	}
	for _, n := range fill.NotesIn {
		if err := verifyNote(ctx.Tree, n); err != nil {
			return PerpFillResult{}, err
		}
	}

	notional := fill.FillQty * fill.FillPrice
	requiredMargin := notional / max64(fill.Leverage, 1)
	fee := (notional * fill.FeeBps) / 10000
	total := sumNoteAmounts(fill.NotesIn)
	if total < requiredMargin+fee {
		return PerpFillResult{}, xerrors.Validation("notes %d do not cover margin %d plus fee %d", total, requiredMargin, fee)
	}
	change := total - requiredMargin - fee

	u := ctx.begin(requestToken)
	for _, n := range fill.NotesIn {
		u.write(n.Index, tree.LeafNote, field.Zero)
	}

	result := PerpFillResult{}
	if change > 0 && !(entities.Note{Amount: change}).IsDust(ctx.Params.dust(fill.CollateralToken)) {
		idx := ctx.Tree.FirstZeroIdx()
		refund := entities.Note{Index: idx, Address: fill.RefundNote.Address, Token: fill.CollateralToken, Amount: change, Blinding: fill.RefundNote.Blinding}
		h := refund.Hash()
		u.write(idx, tree.LeafNote, h)
		result.RefundNoteIndex = &idx
		result.RefundNoteHash = &h
	}

	posIdx := ctx.Tree.FirstZeroIdx()
	pos := entities.Position{
		Index:            posIdx,
		Header:           fill.Header,
		OrderSide:        fill.Side,
		PositionSize:     fill.FillQty,
		Margin:           requiredMargin,
		EntryPrice:       fill.FillPrice,
		LastFundingIdx:   ctx.currentFundingIdx(),
	}
	pos.LiquidationPrice = liquidationPrice(pos.OrderSide, pos.PositionSize, pos.EntryPrice, pos.Margin)
	pos.BankruptcyPrice = bankruptcyPrice(pos.OrderSide, pos.PositionSize, pos.EntryPrice, pos.Margin)
	h := pos.Hash()
	u.write(posIdx, tree.LeafPosition, h)
	u.commit()

	ctx.collectFee(fill.CollateralToken, fee)
	if ctx.Counters != nil {
		ctx.Counters.AddPerpVolume(notional)
	}
	if ctx.Funding != nil {
		ctx.Funding.NoteMinFundingIdx(fill.SyntheticToken, pos.LastFundingIdx)
	}

	result.PositionIndex = posIdx
	result.NewPosition = pos

	rec := transcript.Record{
		"transaction_type": "open_position",
		"synthetic_token":  fill.SyntheticToken,
		"size":             fill.FillQty,
		"entry_price":      fill.FillPrice,
		"position_index":   posIdx,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return PerpFillResult{}, err
	}
	return result, nil
}

// ExecuteIncreasePosition adds to an existing position's size, folding the
// new fill into a size-weighted entry price, and debits any additional
// margin required for the larger notional from fresh input notes.
func ExecuteIncreasePosition(ctx *Ctx, requestToken string, fill PerpFill) (PerpFillResult, error) {
	if fill.Existing == nil {
		return PerpFillResult{}, xerrors.Validation("increase requires an existing position")
	}
	pos := *fill.Existing
	if err := ctx.Tree.VerifyExistence(pos.Index, pos.Hash()); err != nil {
		return PerpFillResult{}, err
	}

	newEntry := weightedEntryPrice(pos.PositionSize, pos.EntryPrice, fill.FillQty, fill.FillPrice)
	addedNotional := fill.FillQty * fill.FillPrice
	addedMargin := addedNotional / max64(fill.Leverage, 1)
	fee := (addedNotional * fill.FeeBps) / 10000

	u := ctx.begin(requestToken)
	var refundIdx *uint64
	var refundHash *field.Element
	if len(fill.NotesIn) > 0 {
		if err := requireSameToken(fill.NotesIn, fill.CollateralToken); err != nil {
			return PerpFillResult{}, err
		}
		for _, n := range fill.NotesIn {
			if err := verifyNote(ctx.Tree, n); err != nil {
				return PerpFillResult{}, err
			}
		}
		total := sumNoteAmounts(fill.NotesIn)
		if total < addedMargin+fee {
			return PerpFillResult{}, xerrors.Validation("notes %d do not cover added margin %d plus fee %d", total, addedMargin, fee)
		}
		for _, n := range fill.NotesIn {
			u.write(n.Index, tree.LeafNote, field.Zero)
		}
		change := total - addedMargin - fee
		if change > 0 && !(entities.Note{Amount: change}).IsDust(ctx.Params.dust(fill.CollateralToken)) {
			idx := ctx.Tree.FirstZeroIdx()
			refund := entities.Note{Index: idx, Address: fill.RefundNote.Address, Token: fill.CollateralToken, Amount: change, Blinding: fill.RefundNote.Blinding}
			h := refund.Hash()
			u.write(idx, tree.LeafNote, h)
			refundIdx, refundHash = &idx, &h
		}
	}

	pos.PositionSize += fill.FillQty
	pos.EntryPrice = newEntry
	pos.Margin += addedMargin
	pos.LiquidationPrice = liquidationPrice(pos.OrderSide, pos.PositionSize, pos.EntryPrice, pos.Margin)
	pos.BankruptcyPrice = bankruptcyPrice(pos.OrderSide, pos.PositionSize, pos.EntryPrice, pos.Margin)
	h := pos.Hash()
	u.write(pos.Index, tree.LeafPosition, h)
	u.commit()

	ctx.collectFee(fill.CollateralToken, fee)
	if ctx.Counters != nil {
		ctx.Counters.AddPerpVolume(addedNotional)
	}

	rec := transcript.Record{
		"transaction_type": "increase_position",
		"position_index":   pos.Index,
		"added_size":       fill.FillQty,
		"new_entry_price":  pos.EntryPrice,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return PerpFillResult{}, err
	}
	return PerpFillResult{PositionIndex: pos.Index, NewPosition: pos, RefundNoteIndex: refundIdx, RefundNoteHash: refundHash}, nil
}

// ExecuteClosePosition realizes PnL against a closing fill, returns margin
// plus PnL (or margin minus loss) to the trader as a fresh collateral note,
// and zeros the position leaf once fully closed.
func ExecuteClosePosition(ctx *Ctx, requestToken string, pos entities.Position, closeQty, closePrice uint64, collateralToken uint32, ownerNote entities.Note) (PerpFillResult, error) {
	if err := ctx.Tree.VerifyExistence(pos.Index, pos.Hash()); err != nil {
		return PerpFillResult{}, err
	}
	if closeQty > pos.PositionSize {
		return PerpFillResult{}, xerrors.Validation("close qty %d exceeds position size %d", closeQty, pos.PositionSize)
	}

	pnl := unrealizedPnL(pos.OrderSide, closeQty, pos.EntryPrice, closePrice)
	marginReleased := (pos.Margin * closeQty) / pos.PositionSize
	payout := int64(marginReleased) + pnl
	if payout < 0 {
		payout = 0
	}

	u := ctx.begin(requestToken)
	remaining := pos.PositionSize - closeQty
	newPos := pos
	newPos.PositionSize = remaining
	newPos.Margin -= marginReleased
	if remaining == 0 {
		u.write(pos.Index, tree.LeafPosition, field.Zero)
	} else {
		newPos.LiquidationPrice = liquidationPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
		newPos.BankruptcyPrice = bankruptcyPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
		u.write(pos.Index, tree.LeafPosition, newPos.Hash())
	}

	var outIdx uint64
	var outHash field.Element
	if payout > 0 {
		outIdx = ctx.Tree.FirstZeroIdx()
		out := entities.Note{Index: outIdx, Address: ownerNote.Address, Token: collateralToken, Amount: uint64(payout), Blinding: ownerNote.Blinding}
		outHash = out.Hash()
		u.write(outIdx, tree.LeafNote, outHash)
	}
	u.commit()

	if ctx.Counters != nil {
		ctx.Counters.AddPerpVolume(closeQty * closePrice)
	}

	rec := transcript.Record{
		"transaction_type": "close_position",
		"position_index":   pos.Index,
		"close_qty":        closeQty,
		"close_price":      closePrice,
		"pnl":              pnl,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return PerpFillResult{}, err
	}
	return PerpFillResult{PositionIndex: pos.Index, NewPosition: newPos, RefundNoteIndex: &outIdx, RefundNoteHash: &outHash}, nil
}

func max64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (c *Ctx) currentFundingIdx() uint32 {
	if c.Funding == nil {
		return 0
	}
	return c.Funding.CurrentIdx()
}
