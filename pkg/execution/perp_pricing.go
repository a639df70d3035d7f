package execution

import "github.com/0xzex/zex-core/pkg/entities"

// MaintenanceMarginBps is the fraction of notional a position must keep as
// margin before it becomes liquidatable, expressed in basis points (500 ==
// 5%). Grounded on original_source/invisible_backend/src/perpetual/
// perp_position.rs's maintenance-margin constant.
const MaintenanceMarginBps = 500

// weightedEntryPrice folds an additional fill into a position's running
// entry price (original_source perp_position.rs's `_get_entry_price`):
// new_entry = (old_size*old_entry + fill_size*fill_price) / new_size.
func weightedEntryPrice(oldSize, oldEntry, fillSize, fillPrice uint64) uint64 {
	newSize := oldSize + fillSize
	if newSize == 0 {
		return 0
	}
	num := oldSize*oldEntry + fillSize*fillPrice
	return num / newSize
}

// bankruptcyPrice is the price at which a position's equity (margin + pnl)
// reaches exactly zero: entry - margin/size for a long, entry + margin/size
// for a short (perp_position.rs's `_get_bankruptcy_price`).
func bankruptcyPrice(side entities.Side, size, entry, margin uint64) uint64 {
	if size == 0 {
		return entry
	}
	perUnit := margin / size
	if side == entities.Long {
		if perUnit > entry {
			return 0
		}
		return entry - perUnit
	}
	return entry + perUnit
}

// liquidationPrice is the price at which equity falls to the maintenance
// margin requirement (size*entry*MaintenanceMarginBps/10000), leaving a
// buffer before bankruptcy that the liquidator's fee is drawn from
// (perp_position.rs's `_get_liquidation_price`).
func liquidationPrice(side entities.Side, size, entry, margin uint64) uint64 {
	if size == 0 {
		return entry
	}
	mmRequirement := (size * entry * MaintenanceMarginBps) / 10000
	if margin <= mmRequirement {
		return entry // already below maintenance margin at entry price
	}
	buffer := (margin - mmRequirement) / size
	if side == entities.Long {
		if buffer > entry {
			return 0
		}
		return entry - buffer
	}
	return entry + buffer
}

// unrealizedPnL is size*(mark-entry) for a long, size*(entry-mark) for a
// short, returned as a signed amount.
func unrealizedPnL(side entities.Side, size, entry, mark uint64) int64 {
	if side == entities.Long {
		return int64(size) * (int64(mark) - int64(entry))
	}
	return int64(size) * (int64(entry) - int64(mark))
}

// isUnderMaintenanceMargin reports whether a position's current equity has
// fallen to or below its maintenance margin requirement at the given mark
// price, the liquidation eligibility check (spec §4.3 liquidation).
func isUnderMaintenanceMargin(p entities.Position, mark uint64) bool {
	pnl := unrealizedPnL(p.OrderSide, p.PositionSize, p.EntryPrice, mark)
	equity := int64(p.Margin) + pnl
	mmRequirement := int64((p.PositionSize * mark * MaintenanceMarginBps) / 10000)
	return equity <= mmRequirement
}
