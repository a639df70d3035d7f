package execution

import (
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// ExecuteMarginChange adds or removes margin from a resting position
// without touching its size, recomputing its liquidation/bankruptcy prices.
// A positive delta is funded from notesIn (change refunded); a negative
// delta mints a withdrawal note for the removed amount, rejected if it
// would drop margin below the maintenance-margin requirement at the
// position's entry price. Grounded on
// original_source/invisible_backend/src/transactions/
// change_position_margin.rs.
func ExecuteMarginChange(ctx *Ctx, requestToken string, pos entities.Position, delta int64, collateralToken uint32, notesIn []entities.Note, ownerNote entities.Note) (PerpFillResult, error) {
	if err := ctx.Tree.VerifyExistence(pos.Index, pos.Hash()); err != nil {
		return PerpFillResult{}, err
	}

	u := ctx.begin(requestToken)
	newPos := pos
	var refundIdx *uint64
	var refundHash *field.Element

	switch {
	case delta > 0:
		added := uint64(delta)
		if err := requireSameToken(notesIn, collateralToken); err != nil {
			return PerpFillResult{}, err
		}
		for _, n := range notesIn {
			if err := verifyNote(ctx.Tree, n); err != nil {
				return PerpFillResult{}, err
			}
		}
		total := sumNoteAmounts(notesIn)
		if total < added {
			return PerpFillResult{}, xerrors.Validation("notes %d below requested margin increase %d", total, added)
		}
		for _, n := range notesIn {
			u.write(n.Index, tree.LeafNote, field.Zero)
		}
		change := total - added
		if change > 0 && !(entities.Note{Amount: change}).IsDust(ctx.Params.dust(collateralToken)) {
			idx := ctx.Tree.FirstZeroIdx()
			refund := entities.Note{Index: idx, Address: ownerNote.Address, Token: collateralToken, Amount: change, Blinding: ownerNote.Blinding}
			h := refund.Hash()
			u.write(idx, tree.LeafNote, h)
			refundIdx, refundHash = &idx, &h
		}
		newPos.Margin += added

	case delta < 0:
		removed := uint64(-delta)
		mmRequirement := (pos.PositionSize * pos.EntryPrice * MaintenanceMarginBps) / 10000
		if pos.Margin < removed || pos.Margin-removed < mmRequirement {
			return PerpFillResult{}, xerrors.Validation("removing %d margin would breach maintenance margin", removed)
		}
		newPos.Margin -= removed
		idx := ctx.Tree.FirstZeroIdx()
		out := entities.Note{Index: idx, Address: ownerNote.Address, Token: collateralToken, Amount: removed, Blinding: ownerNote.Blinding}
		h := out.Hash()
		u.write(idx, tree.LeafNote, h)
		refundIdx, refundHash = &idx, &h

	default:
		return PerpFillResult{}, xerrors.Validation("margin change delta must be non-zero")
	}

	newPos.LiquidationPrice = liquidationPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
	newPos.BankruptcyPrice = bankruptcyPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
	u.write(pos.Index, tree.LeafPosition, newPos.Hash())
	u.commit()

	rec := transcript.Record{
		"transaction_type": "change_position_margin",
		"position_index":   pos.Index,
		"delta":            delta,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return PerpFillResult{}, err
	}
	return PerpFillResult{PositionIndex: pos.Index, NewPosition: newPos, RefundNoteIndex: refundIdx, RefundNoteHash: refundHash}, nil
}

// ExecuteOpenOrderTab creates a fresh market-maker liquidity record, funded
// by destroying the MM's base and quote notes. Grounded on
// original_source/invisible_backend/src/order_tab/mod.rs.
func ExecuteOpenOrderTab(ctx *Ctx, requestToken string, header entities.OrderTabHeader, baseNotes, quoteNotes []entities.Note, baseBlinding, quoteBlinding field.Element) (entities.OrderTab, error) {
	if err := requireSameToken(baseNotes, header.BaseToken); err != nil {
		return entities.OrderTab{}, err
	}
	if err := requireSameToken(quoteNotes, header.QuoteToken); err != nil {
		return entities.OrderTab{}, err
	}
	for _, n := range append(append([]entities.Note{}, baseNotes...), quoteNotes...) {
		if err := verifyNote(ctx.Tree, n); err != nil {
			return entities.OrderTab{}, err
		}
	}

	u := ctx.begin(requestToken)
	for _, n := range baseNotes {
		u.write(n.Index, tree.LeafNote, field.Zero)
	}
	for _, n := range quoteNotes {
		u.write(n.Index, tree.LeafNote, field.Zero)
	}

	idx := ctx.Tree.FirstZeroIdx()
	tab := entities.OrderTab{
		TabIdx:        idx,
		Header:        header,
		BaseAmount:    sumNoteAmounts(baseNotes),
		QuoteAmount:   sumNoteAmounts(quoteNotes),
		BaseBlinding:  baseBlinding,
		QuoteBlinding: quoteBlinding,
	}
	u.write(idx, tree.LeafOrderTab, tab.Hash())
	u.commit()

	rec := transcript.Record{
		"transaction_type": "open_order_tab",
		"tab_index":        idx,
		"base_token":       header.BaseToken,
		"quote_token":      header.QuoteToken,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return entities.OrderTab{}, err
	}
	return tab, nil
}

// ExecuteCloseOrderTab destroys a tab and returns its base/quote balances to
// the market maker as two fresh notes.
func ExecuteCloseOrderTab(ctx *Ctx, requestToken string, tab entities.OrderTab, baseBlinding, quoteBlinding field.Element) (baseIdx, quoteIdx uint64, err error) {
	if verr := ctx.Tree.VerifyExistence(tab.TabIdx, tab.Hash()); verr != nil {
		return 0, 0, verr
	}

	u := ctx.begin(requestToken)
	u.write(tab.TabIdx, tree.LeafOrderTab, field.Zero)

	baseIdx = ctx.Tree.FirstZeroIdx()
	baseNote := entities.Note{Index: baseIdx, Address: tab.Header.MMAddress, Token: tab.Header.BaseToken, Amount: tab.BaseAmount, Blinding: baseBlinding}
	u.write(baseIdx, tree.LeafNote, baseNote.Hash())

	quoteIdx = ctx.Tree.FirstZeroIdx()
	quoteNote := entities.Note{Index: quoteIdx, Address: tab.Header.MMAddress, Token: tab.Header.QuoteToken, Amount: tab.QuoteAmount, Blinding: quoteBlinding}
	u.write(quoteIdx, tree.LeafNote, quoteNote.Hash())
	u.commit()

	rec := transcript.Record{
		"transaction_type": "close_order_tab",
		"tab_index":        tab.TabIdx,
		"base_note_index":  baseIdx,
		"quote_note_index": quoteIdx,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return 0, 0, err
	}
	return baseIdx, quoteIdx, nil
}
