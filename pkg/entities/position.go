package entities

import (
	"math/big"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/field"
)

// PositionHeader is immutable once a position exists (spec §3).
type PositionHeader struct {
	SyntheticToken          uint32
	AllowPartialLiquidation bool
	PositionAddress         cryptoring.Point
	VlpToken                uint32
	MaxVlpSupply            uint64
}

func boolField(b bool) field.Element {
	if b {
		return field.FromUint64(1)
	}
	return field.FromUint64(0)
}

// Hash computes Hvec([partial_liq_flag, synthetic_token, position_address,
// vlp_token, max_vlp_supply]).
func (h PositionHeader) Hash() field.Element {
	return field.Hvec(
		boolField(h.AllowPartialLiquidation),
		field.FromUint64(uint64(h.SyntheticToken)),
		h.PositionAddress.XField(),
		field.FromUint64(uint64(h.VlpToken)),
		field.FromUint64(h.MaxVlpSupply),
	)
}

// Position is a perpetual-futures contract stored as one tree leaf.
type Position struct {
	Index            uint64
	Header           PositionHeader
	OrderSide        Side
	PositionSize     uint64
	Margin           uint64
	EntryPrice       uint64
	LiquidationPrice uint64
	BankruptcyPrice  uint64
	LastFundingIdx   uint32
	VlpSupply        uint64
}

// sideFieldOf represents Long as 1 and Short as -1 reduced into the field
// (Go's big.Int.Mod is Euclidean, so this yields Modulus-1).
func sideFieldOf(s Side) field.Element {
	if s == Long {
		return field.FromUint64(1)
	}
	return field.FromBigInt(big.NewInt(-1))
}

// Hash computes Hvec([header.hash, side, size, entry_price,
// liquidation_price, last_funding_idx, vlp_supply]).
func (p Position) Hash() field.Element {
	return field.Hvec(
		p.Header.Hash(),
		sideFieldOf(p.OrderSide),
		field.FromUint64(p.PositionSize),
		field.FromUint64(p.EntryPrice),
		field.FromUint64(p.LiquidationPrice),
		field.FromUint64(uint64(p.LastFundingIdx)),
		field.FromUint64(p.VlpSupply),
	)
}

// IsLong/IsShort are small readability helpers used throughout pkg/execution.
func (p Position) IsLong() bool  { return p.OrderSide == Long }
func (p Position) IsShort() bool { return p.OrderSide == Short }
