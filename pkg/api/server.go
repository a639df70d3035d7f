// Package api is the outward-facing adapter spec §6 names: a thin REST +
// WebSocket surface over pkg/engine carrying no business logic of its own.
// Grounded on the teacher's pkg/api (mux routing, rs/cors, gorilla/websocket
// hub), re-pointed from pkg/app/perp to pkg/engine.
package api

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/engine"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/execution"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// Server exposes pkg/engine's RPC-shaped methods over HTTP and pushes the
// spec §6 WebSocket events to subscribers.
type Server struct {
	eng    *engine.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer wires a router over eng; log may be nil, in which case a no-op
// logger is used.
func NewServer(eng *engine.Engine, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		eng:    eng,
		router: mux.NewRouter(),
		hub:    NewHub(),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/submit_limit_order", s.handleSubmitSpotOrder).Methods("POST")
	v1.HandleFunc("/submit_perpetual_order", s.handleSubmitPerpOrder).Methods("POST")
	v1.HandleFunc("/submit_liquidation_order", s.handleSubmitLiquidationOrder).Methods("POST")
	v1.HandleFunc("/cancel_order", s.handleCancelOrder).Methods("POST")
	v1.HandleFunc("/amend_order", s.handleAmendOrder).Methods("POST")
	v1.HandleFunc("/execute_deposit", s.handleExecuteDeposit).Methods("POST")
	v1.HandleFunc("/execute_withdrawal", s.handleExecuteWithdrawal).Methods("POST")
	v1.HandleFunc("/split_notes", s.handleSplitNotes).Methods("POST")
	v1.HandleFunc("/change_position_margin", s.handleChangePositionMargin).Methods("POST")
	v1.HandleFunc("/open_order_tab", s.handleOpenOrderTab).Methods("POST")
	v1.HandleFunc("/close_order_tab", s.handleCloseOrderTab).Methods("POST")
	v1.HandleFunc("/finalize_batch", s.handleFinalizeBatch).Methods("POST")
	v1.HandleFunc("/update_index_price", s.handleUpdateIndexPrice).Methods("POST")
	v1.HandleFunc("/restore_orderbook", s.handleRestoreOrderbook).Methods("POST")
	v1.HandleFunc("/get_liquidity", s.handleGetLiquidity).Methods("GET")
	v1.HandleFunc("/get_orders", s.handleGetOrders).Methods("GET")
	v1.HandleFunc("/get_state_info", s.handleGetStateInfo).Methods("GET")
	v1.HandleFunc("/get_funding_info", s.handleGetFundingInfo).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, ok(map[string]string{"status": "up"}))
	}).Methods("GET")
}

// Start runs the HTTP server with the teacher's CORS policy.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// BroadcastSwapFilled pushes the public trade ticker (spec §6 SWAP_FILLED).
func (s *Server) BroadcastSwapFilled(evt SwapFilledEvent) {
	s.hub.BroadcastToChannel("swap_filled", WSMessage{Type: "SWAP_FILLED", Data: evt})
}

// BroadcastSwapResult notifies one counterparty of a settled spot swap.
func (s *Server) BroadcastSwapResult(evt SwapResultEvent) {
	s.hub.BroadcastToChannel("swap_result:"+evt.UserID, WSMessage{Type: "SWAP_RESULT", Data: evt})
}

// BroadcastPerpetualSwap notifies one counterparty of a settled perp fill.
func (s *Server) BroadcastPerpetualSwap(evt PerpetualSwapEvent) {
	s.hub.BroadcastToChannel("perpetual_swap:"+evt.UserID, WSMessage{Type: "PERPETUAL_SWAP", Data: evt})
}

// BroadcastNewPositions notifies the privileged relay channel.
func (s *Server) BroadcastNewPositions(evt NewPositionsEvent) {
	s.hub.BroadcastToChannel("new_positions", WSMessage{Type: "NEW_POSITIONS", Data: evt})
}

// ==============================
// REST handlers — decode, call engine, envelope the result. No business
// logic belongs here (spec §6).
// ==============================

func (s *Server) handleSubmitSpotOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Order    *entities.Order `json:"order"`
		IsMarket bool            `json:"is_market"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	result, err := s.eng.SubmitSpotOrder(req.Order, req.IsMarket)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

// handleSubmitPerpOrder settles a single already-matched perpetual fill by
// opening a position through Engine.OpenPosition. Unlike spot orders it does
// not go through pkg/orderbook.Book and has no taker/maker retry loop; see
// DESIGN.md.
func (s *Server) handleSubmitPerpOrder(w http.ResponseWriter, r *http.Request) {
	var req execution.PerpFill
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	result, err := s.eng.OpenPosition(req)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleSubmitLiquidationOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position         entities.Position `json:"position"`
		MarketPrice      uint64            `json:"market_price"`
		CollateralToken  uint32            `json:"collateral_token"`
		LiquidatorFeeBps uint64            `json:"liquidator_fee_bps"`
		PartialQty       uint64            `json:"partial_qty"`
		LiquidatorAddr   entities.Note     `json:"liquidator_addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	result, err := s.eng.SubmitLiquidationOrder(req.Position, req.MarketPrice, req.CollateralToken, req.LiquidatorFeeBps, req.PartialQty, req.LiquidatorAddr)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleChangePositionMargin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position        entities.Position `json:"position"`
		Delta           int64             `json:"delta"`
		CollateralToken uint32            `json:"collateral_token"`
		NotesIn         []entities.Note   `json:"notes_in"`
		OwnerNote       entities.Note     `json:"owner_note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	result, err := s.eng.ChangePositionMargin(req.Position, req.Delta, req.CollateralToken, req.NotesIn, req.OwnerNote)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleOpenOrderTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Header        entities.OrderTabHeader `json:"header"`
		BaseNotes     []entities.Note         `json:"base_notes"`
		QuoteNotes    []entities.Note         `json:"quote_notes"`
		BaseBlinding  field.Element           `json:"base_blinding"`
		QuoteBlinding field.Element           `json:"quote_blinding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	tab, err := s.eng.OpenOrderTab(req.Header, req.BaseNotes, req.QuoteNotes, req.BaseBlinding, req.QuoteBlinding)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(tab))
}

func (s *Server) handleCloseOrderTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tab           entities.OrderTab `json:"tab"`
		BaseBlinding  field.Element     `json:"base_blinding"`
		QuoteBlinding field.Element     `json:"quote_blinding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	baseIdx, quoteIdx, err := s.eng.CloseOrderTab(req.Tab, req.BaseBlinding, req.QuoteBlinding)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(map[string]uint64{"base_note_index": baseIdx, "quote_note_index": quoteIdx}))
}

func (s *Server) handleUpdateIndexPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token        uint32             `json:"token"`
		Timestamp    int64              `json:"timestamp"`
		Observations []batch.Observation `json:"observations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	price, err := s.eng.UpdateIndexPrice(req.Token, req.Timestamp, req.Observations)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(map[string]uint64{"index_price": price}))
}

func (s *Server) handleRestoreOrderbook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MarketID uint32            `json:"market_id"`
		Orders   []*entities.Order `json:"orders"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	if err := s.eng.RestoreOrderbook(req.MarketID, req.Orders); err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(nil))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	err := s.eng.CancelOrder(req.MarketID, req.OrderID, entities.OrderSide(req.Side), req.UserID)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(nil))
}

func (s *Server) handleAmendOrder(w http.ResponseWriter, r *http.Request) {
	var req AmendOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	if err := s.eng.AmendOrder(req.MarketID, req.OrderID, req.NewPrice, req.MatchOnly); err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(nil))
}

func (s *Server) handleExecuteDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID       uint32        `json:"token_id"`
		Amount        uint64        `json:"amount"`
		Owner         entities.Note `json:"owner_note"` // reuses Note.Address/Blinding fields for owner/blinding
		WalletAddress string        `json:"wallet_address"`
		Nonce         string        `json:"nonce"`
		Deadline      string        `json:"deadline"`
		WalletSig     string        `json:"wallet_signature"` // 0x-prefixed 65-byte ECDSA signature
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	if req.WalletAddress != "" {
		if err := verifyBridgeSignature("deposit", req.TokenID, req.Amount, req.WalletAddress, req.Nonce, req.Deadline, req.WalletSig); err != nil {
			respondJSON(w, fail(err))
			return
		}
	}
	result, err := s.eng.ExecuteDeposit(req.TokenID, req.Amount, req.Owner.Address, req.Owner.Blinding)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

// verifyBridgeSignature checks the L1 wallet's EIP-712 authorization for a
// deposit or withdrawal, the outer signature spec §4.3.1/§4.3.2's bridge
// crossing carries in addition to the core's own aggregated note-owner
// check (pkg/cryptoring/wallet_auth.go).
func verifyBridgeSignature(kind string, token uint32, amount uint64, walletAddr, nonce, deadline, sigHex string) error {
	nonceInt, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return xerrors.Validation("invalid nonce %q", nonce)
	}
	deadlineInt, ok := new(big.Int).SetString(deadline, 10)
	if !ok {
		return xerrors.Validation("invalid deadline %q", deadline)
	}
	sig, err := hexToBytes(sigHex)
	if err != nil {
		return xerrors.Validation("invalid wallet signature: %v", err)
	}
	req := &cryptoring.BridgeRequest{
		Kind:     kind,
		Token:    token,
		Amount:   new(big.Int).SetUint64(amount),
		Nonce:    nonceInt,
		Deadline: deadlineInt,
		Owner:    ethcommon.HexToAddress(walletAddr),
	}
	valid, err := cryptoring.VerifyBridgeRequest(cryptoring.DefaultDomain(), req, sig)
	if err != nil {
		return xerrors.Signature("wallet signature check failed: %v", err)
	}
	if !valid {
		return xerrors.Signature("wallet signature does not match claimed owner")
	}
	return nil
}

func hexToBytes(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func (s *Server) handleExecuteWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		execution.WithdrawalRequest
		WalletAddress string `json:"wallet_address"`
		Nonce         string `json:"nonce"`
		Deadline      string `json:"deadline"`
		WalletSig     string `json:"wallet_signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	if req.WalletAddress != "" {
		if err := verifyBridgeSignature("withdrawal", req.Token, req.Amount, req.WalletAddress, req.Nonce, req.Deadline, req.WalletSig); err != nil {
			respondJSON(w, fail(err))
			return
		}
	}
	result, err := s.eng.ExecuteWithdrawal(req.WithdrawalRequest)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleSplitNotes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotesIn  []entities.Note `json:"notes_in"`
		NotesOut []entities.Note `json:"notes_out"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, fail(xerrors.Format("invalid request body: %v", err)))
		return
	}
	result, err := s.eng.SplitNotes(req.NotesIn, req.NotesOut)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleFinalizeBatch(w http.ResponseWriter, r *http.Request) {
	result, err := s.eng.FinalizeBatch()
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(result))
}

func (s *Server) handleGetLiquidity(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketIDQuery(r)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	bid, hasBid, ask, hasAsk, err := s.eng.GetLiquidity(marketID)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(LiquidityResponse{BestBid: bid, HasBid: hasBid, BestAsk: ask, HasAsk: hasAsk}))
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	marketID, err := parseMarketIDQuery(r)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	orders, err := s.eng.GetOrders(marketID)
	if err != nil {
		respondJSON(w, fail(err))
		return
	}
	respondJSON(w, ok(orders))
}

func (s *Server) handleGetStateInfo(w http.ResponseWriter, r *http.Request) {
	info := s.eng.GetStateInfo()
	respondJSON(w, ok(StateInfoResponse{Slots: info.Slots, BatchIndex: info.BatchIndex, InsuranceFund: info.InsuranceFund}))
}

func (s *Server) handleGetFundingInfo(w http.ResponseWriter, r *http.Request) {
	info := s.eng.GetFundingInfo()
	respondJSON(w, ok(FundingInfoResponse{CurrentIdx: info.CurrentIdx}))
}

func parseMarketIDQuery(r *http.Request) (uint32, error) {
	raw := r.URL.Query().Get("market_id")
	if raw == "" {
		return 0, xerrors.Format("market_id query parameter required")
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, xerrors.Format("invalid market_id: %v", err)
	}
	return uint32(id), nil
}

func respondJSON(w http.ResponseWriter, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	if !env.Successful {
		w.WriteHeader(http.StatusBadRequest)
	}
	_ = json.NewEncoder(w).Encode(env)
}
