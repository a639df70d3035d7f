package entities

import (
	"math/big"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/field"
)

// OrderTabHeader binds a market maker's public key to a token pair.
type OrderTabHeader struct {
	BaseToken  uint32
	QuoteToken uint32
	MMAddress  cryptoring.Point
}

func (h OrderTabHeader) Hash() field.Element {
	return field.Hvec(
		field.FromUint64(uint64(h.BaseToken)),
		field.FromUint64(uint64(h.QuoteToken)),
		h.MMAddress.XField(),
	)
}

// commit realizes the hiding commitment C(v,b) = H(v,b) spec §3 defines for
// an order tab's base/quote/vlp amounts.
func commit(value uint64, blinding field.Element) field.Element {
	return field.H(field.FromUint64(value), blinding)
}

// OrderTab is a persistent market-maker liquidity record (spec §3). It lives
// in the same global state tree as notes and positions.
type OrderTab struct {
	TabIdx        uint64
	Header        OrderTabHeader
	BaseAmount    uint64
	QuoteAmount   uint64
	VlpSupply     uint64
	BaseBlinding  field.Element
	QuoteBlinding field.Element
}

// Hash computes Hvec([header.hash, C(base), C(quote), C(vlp_supply,
// base_blinding+quote_blinding)]).
func (t OrderTab) Hash() field.Element {
	sum := new(big.Int).Add(t.BaseBlinding.BigInt(), t.QuoteBlinding.BigInt())
	vlpBlinding := field.FromBigInt(sum)
	return field.Hvec(
		t.Header.Hash(),
		commit(t.BaseAmount, t.BaseBlinding),
		commit(t.QuoteAmount, t.QuoteBlinding),
		commit(t.VlpSupply, vlpBlinding),
	)
}
