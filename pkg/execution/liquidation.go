package execution

import (
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// LiquidationResult reports the remaining position (if any), the
// liquidator's fee note, and how much the insurance fund moved by.
type LiquidationResult struct {
	RemainingPosition *entities.Position
	LiquidatorIndex   uint64
	LiquidatorHash    field.Element
	InsuranceDelta    int64
}

// ExecuteLiquidation settles an underwater position against the market
// price: the liquidator earns a fee off the realized equity, any leftover
// collateral funds the insurance pool, and any shortfall below bankruptcy
// is drawn from it instead. Grounded on
// original_source/invisible_backend/src/perpetual/liquidations/
// liquidation_engine.rs's execute() orchestration.
func ExecuteLiquidation(ctx *Ctx, requestToken string, pos entities.Position, marketPrice uint64, collateralToken uint32, liquidatorFeeBps uint64, partialQty uint64, liquidatorAddr entities.Note) (LiquidationResult, error) {
	if err := ctx.Tree.VerifyExistence(pos.Index, pos.Hash()); err != nil {
		return LiquidationResult{}, err
	}
	if !isUnderMaintenanceMargin(pos, marketPrice) {
		return LiquidationResult{}, xerrors.Validation("position %d is not below maintenance margin at price %d", pos.Index, marketPrice)
	}

	qty := pos.PositionSize
	partial := partialQty > 0 && partialQty < pos.PositionSize
	if partial {
		if !pos.Header.AllowPartialLiquidation {
			partial = false
		} else {
			remaining := pos.PositionSize - partialQty
			if remaining < ctx.Params.MinPartialLiqSize[pos.Header.SyntheticToken] {
				partial = false
			} else {
				qty = partialQty
			}
		}
	}

	pnl := unrealizedPnL(pos.OrderSide, qty, pos.EntryPrice, marketPrice)
	marginPortion := (pos.Margin * qty) / pos.PositionSize
	equity := int64(marginPortion) + pnl
	liquidatorFee := (qty * marketPrice * liquidatorFeeBps) / 10000

	u := ctx.begin(requestToken)

	var remaining *entities.Position
	if partial {
		newPos := pos
		newPos.PositionSize = pos.PositionSize - qty
		newPos.Margin = pos.Margin - marginPortion
		newPos.LiquidationPrice = liquidationPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
		newPos.BankruptcyPrice = bankruptcyPrice(newPos.OrderSide, newPos.PositionSize, newPos.EntryPrice, newPos.Margin)
		u.write(pos.Index, tree.LeafPosition, newPos.Hash())
		remaining = &newPos
	} else {
		u.write(pos.Index, tree.LeafPosition, field.Zero)
	}

	liqIdx := ctx.Tree.FirstZeroIdx()
	liqNote := entities.Note{Index: liqIdx, Address: liquidatorAddr.Address, Token: collateralToken, Amount: liquidatorFee, Blinding: liquidatorAddr.Blinding}
	liqHash := liqNote.Hash()
	u.write(liqIdx, tree.LeafNote, liqHash)
	u.commit()

	leftover := equity - int64(liquidatorFee)
	if ctx.Counters != nil {
		if leftover >= 0 {
			ctx.Counters.CreditInsuranceFund(uint64(leftover))
		} else {
			ctx.Counters.DebitInsuranceFund(uint64(-leftover))
		}
	}

	rec := transcript.Record{
		"transaction_type": "liquidation",
		"position_index":   pos.Index,
		"market_price":     marketPrice,
		"liquidated_qty":   qty,
		"liquidator_fee":   liquidatorFee,
		"insurance_delta":  leftover,
	}
	appendLeafWrites(rec, u.writes)
	if err := ctx.Log.Append(rec); err != nil {
		return LiquidationResult{}, err
	}
	return LiquidationResult{RemainingPosition: remaining, LiquidatorIndex: liqIdx, LiquidatorHash: liqHash, InsuranceDelta: leftover}, nil
}
