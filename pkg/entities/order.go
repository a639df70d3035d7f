package entities

import (
	"time"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/field"
)

// OrderSide is the resting-book side, distinct from Side (position
// direction) even though both are expressed as Bid/Ask vs Long/Short.
type OrderSide int8

const (
	Bid OrderSide = 1
	Ask OrderSide = -1
)

// BodyKind distinguishes the two order-body shapes spec §3 names.
type BodyKind int8

const (
	SpotBody BodyKind = iota
	PerpetualBody
)

// SpotOrderBody is a limit order referencing either input notes (taker
// supplies its own notes) or a market-maker order tab.
type SpotOrderBody struct {
	NotesIn    []Note
	RefundNote *Note // nil until a partial-fill refund is produced
	TabIdx     *uint64
	FeeLimit   uint64 // max fee, expressed in bps of spent_collateral
}

// PerpetualOrderBody is a perpetual order referencing an existing position
// or, for a fresh open, the fields needed to create one.
type PerpetualOrderBody struct {
	PositionIndex   *uint64 // nil for a fresh open
	OpenOrderFields *OpenOrderFields
	Leverage        uint64
}

// OpenOrderFields carries the notes/refund needed to fund a new position's
// initial margin, mirroring spot orders' notes-in/refund shape.
type OpenOrderFields struct {
	NotesIn    []Note
	RefundNote *Note
	InitialMarginCollateral uint64
}

// Order is one resting or incoming book entry (spec §3's "Orderbook order").
type Order struct {
	OrderID      uint64 // lower 32 bits encode the market id
	Side         OrderSide
	Price        uint64
	Qty          uint64
	QtyLeft      uint64
	UserID       string
	Expiration   time.Time
	Signature    cryptoring.Signature
	Kind         BodyKind
	Spot         *SpotOrderBody
	Perp         *PerpetualOrderBody
	SubmittedAt  time.Time
}

// MarketID extracts the market id encoded in the lower 32 bits of OrderID.
func (o Order) MarketID() uint32 {
	return uint32(o.OrderID & 0xFFFFFFFF)
}

// IsExpired reports whether the order has passed its expiration time (zero
// time means "no expiry").
func (o Order) IsExpired(now time.Time) bool {
	return !o.Expiration.IsZero() && now.After(o.Expiration)
}

// Remaining reports unfilled quantity.
func (o Order) Remaining() uint64 {
	return o.QtyLeft
}

// NotesIn returns the notes funding this order, regardless of body kind.
func (o Order) NotesIn() []Note {
	switch o.Kind {
	case SpotBody:
		if o.Spot != nil {
			return o.Spot.NotesIn
		}
	case PerpetualBody:
		if o.Perp != nil && o.Perp.OpenOrderFields != nil {
			return o.Perp.OpenOrderFields.NotesIn
		}
	}
	return nil
}

// SigningMessage folds the order's economic terms and the hashes of its
// funding notes into the single field element Signature is computed over,
// the same aggregate-note-owner convention pkg/execution's withdrawal path
// uses for its token/amount message.
func (o Order) SigningMessage() field.Element {
	notes := o.NotesIn()
	elems := make([]field.Element, 0, len(notes)+3)
	elems = append(elems, field.FromUint64(o.OrderID), field.FromUint64(uint64(o.Side)), field.FromUint64(o.Price))
	for _, n := range notes {
		elems = append(elems, n.Hash())
	}
	return field.Hvec(elems...)
}
