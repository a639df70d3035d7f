package api

// Envelope is the response shape spec §6 mandates for every RPC method:
// "successful: bool and error_message: string; successful calls also
// return domain-specific payloads."
type Envelope struct {
	Successful   bool        `json:"successful"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Payload      interface{} `json:"payload,omitempty"`
}

func ok(payload interface{}) Envelope {
	return Envelope{Successful: true, Payload: payload}
}

func fail(err error) Envelope {
	return Envelope{Successful: false, ErrorMessage: err.Error()}
}

// ==============================
// WebSocket event payloads (spec §6)
// ==============================

// SwapResultEvent is sent to each counterparty of a settled spot swap.
type SwapResultEvent struct {
	UserID       string `json:"user_id"`
	BaseToken    uint32 `json:"base_token"`
	QuoteToken   uint32 `json:"quote_token"`
	FillQty      uint64 `json:"fill_qty"`
	FillPrice    uint64 `json:"fill_price"`
	TakerOutIdx  uint64 `json:"taker_out_idx"`
}

// PerpetualSwapEvent is sent to each counterparty of a settled perp fill.
type PerpetualSwapEvent struct {
	UserID        string `json:"user_id"`
	MarketID      uint32 `json:"market_id"`
	FillQty       uint64 `json:"fill_qty"`
	FillPrice     uint64 `json:"fill_price"`
	PositionIndex uint64 `json:"position_index"`
}

// SwapFilledEvent is the public trade ticker broadcast for every fill.
type SwapFilledEvent struct {
	MarketID    uint32 `json:"market_id"`
	Amount      uint64 `json:"amount"`
	Price       uint64 `json:"price"`
	TakerIsBuy  bool   `json:"taker_is_buy"`
	Timestamp   int64  `json:"timestamp"`
	TakerUserID string `json:"taker_user_id"`
	MakerUserID string `json:"maker_user_id"`
}

// NewPositionsEvent notifies the privileged relay of a freshly opened or
// modified position, so it can track funding/liquidation exposure.
type NewPositionsEvent struct {
	PositionIndex uint64 `json:"position_index"`
	MarketID      uint32 `json:"market_id"`
	Size          uint64 `json:"size"`
	EntryPrice    uint64 `json:"entry_price"`
}

// ==============================
// REST request payloads
// ==============================

// CancelOrderRequest is the payload for POST /v1/cancel_order.
type CancelOrderRequest struct {
	MarketID uint32 `json:"market_id"`
	OrderID  uint64 `json:"order_id"`
	Side     int8   `json:"side"`
	UserID   string `json:"user_id"`
}

// AmendOrderRequest is the payload for POST /v1/amend_order.
type AmendOrderRequest struct {
	MarketID  uint32 `json:"market_id"`
	OrderID   uint64 `json:"order_id"`
	NewPrice  uint64 `json:"new_price"`
	MatchOnly bool   `json:"match_only"`
}

// LiquidityResponse is the payload for GET /v1/get_liquidity.
type LiquidityResponse struct {
	BestBid    uint64 `json:"best_bid"`
	HasBid     bool   `json:"has_bid"`
	BestAsk    uint64 `json:"best_ask"`
	HasAsk     bool   `json:"has_ask"`
}

// StateInfoResponse is the payload for GET /v1/get_state_info.
type StateInfoResponse struct {
	Slots         uint64 `json:"slots"`
	BatchIndex    uint64 `json:"batch_index"`
	InsuranceFund int64  `json:"insurance_fund"`
}

// FundingInfoResponse is the payload for GET /v1/get_funding_info.
type FundingInfoResponse struct {
	CurrentIdx uint32 `json:"current_idx"`
}
