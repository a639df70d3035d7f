// Package engine is the top-level orchestrator spec §2's "data flow for a
// limit order" describes: it owns one pkg/orderbook.Book per market, the
// shared pkg/tree.Superficial state, the pkg/execution context, and the
// pkg/batch controller, and wires them together behind the RPC method names
// spec §6 lists. It is the component pkg/api calls into; it carries no
// transport concerns of its own, mirroring how the teacher's
// pkg/app/perp.App sits between pkg/api and the account/orderbook/mempool
// packages it coordinates.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/concurrency"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/execution"
	"github.com/0xzex/zex-core/pkg/field"
	"github.com/0xzex/zex-core/pkg/orderbook"
	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// MarketConfig names one tradable market's token pair and slippage cap.
type MarketConfig struct {
	MarketID       uint32
	BaseToken      uint32
	QuoteToken     uint32
	FeeBps         uint64
	SlippageCapBps uint64
}

// Engine bundles every resource handle pkg/execution's Ctx needs plus the
// per-market orderbooks and the batch controller, and exposes one method
// per spec §6 RPC verb.
type Engine struct {
	mu      sync.RWMutex
	markets map[uint32]MarketConfig
	books   map[uint32]*orderbook.Book

	tabsMu sync.Mutex
	tabs   map[uint64]*entities.OrderTab // TabIdx -> live tab, off-tree (spec §3: the tree commits only the tab's hash)

	Tree     *tree.Superficial
	Log      *transcript.Transcript
	ExecCtx  *execution.Ctx
	Batch    *batch.Controller
	Pause    *concurrency.PauseGate
	seqOrder uint64
	seqMu    sync.Mutex
}

// New constructs an engine over a fresh superficial tree. hist/xscr/oracle
// may be nil-backed no-ops in tests that never finalize a batch.
func New(execParams execution.Params, merkle *tree.Batch, hist batch.HistoryStore, xscr batch.TranscriptStore, oracle *batch.OracleAggregator) *Engine {
	t := tree.NewSuperficial()
	log := transcript.New()
	ctx := &execution.Ctx{
		Tree:     t,
		Log:      log,
		Rollback: concurrency.NewRollbackMailbox(),
		Locks:    concurrency.NewOrderLocks(),
		Refunds:  concurrency.NewRefundTracker(),
		Counters: batch.NewCounters(),
		Funding:  batch.NewFundingController(),
		Params:   execParams,
	}
	ctrl := batch.NewController(t, merkle, hist, xscr, oracle)
	ctrl.Counters = ctx.Counters
	ctrl.Funding = ctx.Funding
	return &Engine{
		markets: make(map[uint32]MarketConfig),
		books:   make(map[uint32]*orderbook.Book),
		tabs:    make(map[uint64]*entities.OrderTab),
		Tree:    t,
		Log:     log,
		ExecCtx: ctx,
		Batch:   ctrl,
		Pause:   concurrency.NewPauseGate(),
	}
}

// RegisterMarket adds (or replaces) one market's orderbook.
func (e *Engine) RegisterMarket(cfg MarketConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.markets[cfg.MarketID] = cfg
	e.books[cfg.MarketID] = orderbook.NewBook(cfg.MarketID, cfg.SlippageCapBps)
}

func (e *Engine) book(marketID uint32) (*orderbook.Book, MarketConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[marketID]
	if !ok {
		return nil, MarketConfig{}, xerrors.NotFound("unknown market %d", marketID)
	}
	return b, e.markets[marketID], nil
}

// nextToken mints a fresh rollback-mailbox / leaf-write execution-unit
// token (spec §9: "a per-execution-unit mailbox passed as a parameter, not
// keyed by system thread identity").
func (e *Engine) nextToken(prefix string) string {
	e.seqMu.Lock()
	e.seqOrder++
	n := e.seqOrder
	e.seqMu.Unlock()
	return fmt.Sprintf("%s-%d", prefix, n)
}

// putTab records (or clears, when tab is nil) the live order tab an order's
// TabIdx refers to, since the Merkle tree only ever commits the tab's hash
// (spec §3).
func (e *Engine) putTab(idx uint64, tab *entities.OrderTab) {
	e.tabsMu.Lock()
	defer e.tabsMu.Unlock()
	if tab == nil {
		delete(e.tabs, idx)
		return
	}
	e.tabs[idx] = tab
}

func (e *Engine) getTab(idx uint64) (*entities.OrderTab, bool) {
	e.tabsMu.Lock()
	defer e.tabsMu.Unlock()
	t, ok := e.tabs[idx]
	return t, ok
}

// ---- spot limit/market orders -------------------------------------------------

// SubmitSpotOrderResult reports every settled fill plus any quantity left
// resting (or dropped, for a market order).
type SubmitSpotOrderResult struct {
	Settled         []execution.SpotFillResult
	RestingQty      uint64
	NoMatch         bool
	TooMuchSlippage bool
}

// SubmitSpotOrder implements spec §2's limit-order data flow: the book
// drains against the opposite side, and every produced taker-maker pair is
// settled through pkg/execution, in commit order, with per-maker locking,
// rollback-on-failure and automatic retry against the next maker (spec §5).
func (e *Engine) SubmitSpotOrder(order *entities.Order, isMarket bool) (SubmitSpotOrderResult, error) {
	release := e.Pause.BeginWork()
	defer release()

	book, mkt, err := e.book(order.MarketID())
	if err != nil {
		return SubmitSpotOrderResult{}, err
	}
	if order.Spot == nil {
		return SubmitSpotOrderResult{}, xerrors.Format("submit_limit_order requires a spot order body")
	}

	outcome, err := book.Submit(order, isMarket, order.UserID)
	if err != nil {
		return SubmitSpotOrderResult{}, err
	}
	if outcome.NoMatch {
		return SubmitSpotOrderResult{NoMatch: true}, nil
	}
	if outcome.TooMuchSlippage {
		return SubmitSpotOrderResult{TooMuchSlippage: true}, xerrors.Orderbook("TooMuchSlippage")
	}

	settled, resting, err := e.settleSpotFills(order, outcome, book, mkt, map[uint64]bool{})
	return SubmitSpotOrderResult{Settled: settled, RestingQty: resting}, err
}

func (e *Engine) settleSpotFills(order *entities.Order, outcome orderbook.MatchOutcome, book *orderbook.Book, mkt MarketConfig, excluded map[uint64]bool) ([]execution.SpotFillResult, uint64, error) {
	var settled []execution.SpotFillResult

	for i := 0; i+1 < len(outcome.Fills); i += 2 {
		takerLeg := outcome.Fills[i]
		makerLeg := outcome.Fills[i+1]

		makerOrder, ok := book.Lookup(makerLeg.OrderID)
		if !ok || makerOrder.Spot == nil {
			return settled, 0, xerrors.NotFound("maker order %d body missing", makerLeg.OrderID)
		}

		if err := e.ExecCtx.Locks.Acquire(makerLeg.OrderID); err != nil {
			return settled, 0, err
		}
		fill, err := e.buildSpotFill(order, makerOrder, mkt, takerLeg.Qty, takerLeg.Price)
		if err != nil {
			e.ExecCtx.Locks.Release(makerLeg.OrderID)
			return settled, 0, err
		}
		result, execErr := execution.ExecuteSpotSwap(e.ExecCtx, e.nextToken("spot"), fill)
		e.ExecCtx.Locks.Release(makerLeg.OrderID)

		if execErr == nil && result.NewTab != nil {
			e.putTab(result.NewTab.TabIdx, result.NewTab)
		}

		if execErr != nil {
			// roll this failed maker, and every not-yet-attempted maker in
			// this batch, back onto the book; the taker retries against
			// whatever is left, blacklisting the maker that just failed.
			remaining := makerLeg.Qty
			if rerr := book.RestorePending(makerOrder, makerLeg.Qty); rerr != nil {
				return settled, 0, rerr
			}
			excluded[makerLeg.OrderID] = true

			for j := i + 2; j+1 < len(outcome.Fills); j += 2 {
				tail := outcome.Fills[j+1]
				tailOrder, ok := book.Lookup(tail.OrderID)
				if ok {
					_ = book.RestorePending(tailOrder, tail.Qty)
				}
				remaining += tail.Qty
			}
			remaining += outcome.RestingQty

			retryOutcome, rerr := book.Retry(order, remaining, order.UserID, excluded)
			if rerr != nil {
				return settled, 0, rerr
			}
			if retryOutcome.NoMatch || retryOutcome.TooMuchSlippage {
				return settled, retryOutcome.RestingQty, execErr
			}
			more, resting, err2 := e.settleSpotFills(order, retryOutcome, book, mkt, excluded)
			return append(settled, more...), resting, err2
		}

		if err := book.ReducePending(makerLeg.OrderID, makerLeg.Qty, false); err != nil {
			return settled, 0, err
		}
		settled = append(settled, result)
	}
	return settled, outcome.RestingQty, nil
}

func (e *Engine) buildSpotFill(taker, maker *entities.Order, mkt MarketConfig, qty, price uint64) (execution.SpotFill, error) {
	fill := execution.SpotFill{
		BaseToken:  mkt.BaseToken,
		QuoteToken: mkt.QuoteToken,
		FillQty:    qty,
		FillPrice:  price,
		FeeBps:     mkt.FeeBps,
		Taker:      execution.Leg{Side: taker.Side, NotesIn: taker.Spot.NotesIn, OrderID: taker.OrderID, Price: taker.Price, Signature: taker.Signature},
		Maker:      execution.Leg{Side: maker.Side, OrderID: maker.OrderID, Price: maker.Price, Signature: maker.Signature},
	}
	if len(taker.Spot.NotesIn) > 0 {
		fill.Taker.RefundAddr = taker.Spot.NotesIn[0]
	}
	if maker.Spot.TabIdx != nil {
		tab, ok := e.getTab(*maker.Spot.TabIdx)
		if !ok {
			return execution.SpotFill{}, xerrors.NotFound("order tab %d not resident", *maker.Spot.TabIdx)
		}
		fill.Maker.Tab = tab
	} else {
		fill.Maker.NotesIn = maker.Spot.NotesIn
		if len(maker.Spot.NotesIn) > 0 {
			fill.Maker.RefundAddr = maker.Spot.NotesIn[0]
		}
	}
	return fill, nil
}

// CancelOrder removes a resting order owned by userID (spec §6 cancel_order).
func (e *Engine) CancelOrder(marketID uint32, orderID uint64, side entities.OrderSide, userID string) error {
	release := e.Pause.BeginWork()
	defer release()
	book, _, err := e.book(marketID)
	if err != nil {
		return err
	}
	return book.Cancel(orderID, side, userID)
}

// AmendOrder reprices a resting order to newPrice (spec §6 amend_order); with
// matchOnly the new price must be more aggressive and the order is
// resubmitted at it (see orderbook.Book.Amend). No signature is taken or
// checked for an amend, here or in the API layer.
func (e *Engine) AmendOrder(marketID uint32, orderID uint64, newPrice uint64, matchOnly bool) error {
	release := e.Pause.BeginWork()
	defer release()
	book, _, err := e.book(marketID)
	if err != nil {
		return err
	}
	return book.Amend(orderID, newPrice, time.Time{}, matchOnly)
}

// ---- deposits / withdrawals / splits / margin / tabs --------------------------

// ExecuteDeposit implements spec §6 execute_deposit.
func (e *Engine) ExecuteDeposit(tokenID uint32, amount uint64, owner cryptoring.Point, blinding field.Element) (execution.DepositResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteDeposit(e.ExecCtx, e.nextToken("deposit"), tokenID, amount, owner, blinding)
}

// ExecuteWithdrawal implements spec §6 execute_withdrawal.
func (e *Engine) ExecuteWithdrawal(req execution.WithdrawalRequest) (execution.WithdrawalResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteWithdrawal(e.ExecCtx, e.nextToken("withdrawal"), req)
}

// SplitNotes implements spec §6 split_notes.
func (e *Engine) SplitNotes(notesIn, notesOut []entities.Note) (execution.SplitResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteSplitNotes(e.ExecCtx, e.nextToken("split"), notesIn, notesOut)
}

// ChangePositionMargin implements spec §6 change_position_margin.
func (e *Engine) ChangePositionMargin(pos entities.Position, delta int64, collateralToken uint32, notesIn []entities.Note, ownerNote entities.Note) (execution.PerpFillResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteMarginChange(e.ExecCtx, e.nextToken("margin"), pos, delta, collateralToken, notesIn, ownerNote)
}

// OpenOrderTab implements spec §6 open_order_tab.
func (e *Engine) OpenOrderTab(header entities.OrderTabHeader, baseNotes, quoteNotes []entities.Note, baseBlinding, quoteBlinding field.Element) (entities.OrderTab, error) {
	release := e.Pause.BeginWork()
	defer release()
	tab, err := execution.ExecuteOpenOrderTab(e.ExecCtx, e.nextToken("open_tab"), header, baseNotes, quoteNotes, baseBlinding, quoteBlinding)
	if err == nil {
		e.putTab(tab.TabIdx, &tab)
	}
	return tab, err
}

// CloseOrderTab implements spec §6 close_order_tab.
func (e *Engine) CloseOrderTab(tab entities.OrderTab, baseBlinding, quoteBlinding field.Element) (baseIdx, quoteIdx uint64, err error) {
	release := e.Pause.BeginWork()
	defer release()
	baseIdx, quoteIdx, err = execution.ExecuteCloseOrderTab(e.ExecCtx, e.nextToken("close_tab"), tab, baseBlinding, quoteBlinding)
	if err == nil {
		e.putTab(tab.TabIdx, nil)
	}
	return baseIdx, quoteIdx, err
}

// ---- perpetuals -----------------------------------------------------------

// OpenPosition implements the perpetual-order open effect (spec §4.3.4).
func (e *Engine) OpenPosition(fill execution.PerpFill) (execution.PerpFillResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteOpenPosition(e.ExecCtx, e.nextToken("perp_open"), fill)
}

// IncreasePosition implements the perpetual-order modify-add effect.
func (e *Engine) IncreasePosition(fill execution.PerpFill) (execution.PerpFillResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteIncreasePosition(e.ExecCtx, e.nextToken("perp_add"), fill)
}

// ClosePosition implements the perpetual-order close effect.
func (e *Engine) ClosePosition(pos entities.Position, closeQty, closePrice uint64, collateralToken uint32, ownerNote entities.Note) (execution.PerpFillResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteClosePosition(e.ExecCtx, e.nextToken("perp_close"), pos, closeQty, closePrice, collateralToken, ownerNote)
}

// SubmitLiquidationOrder implements spec §6 submit_liquidation_order.
func (e *Engine) SubmitLiquidationOrder(pos entities.Position, marketPrice uint64, collateralToken uint32, liquidatorFeeBps uint64, partialQty uint64, liquidatorAddr entities.Note) (execution.LiquidationResult, error) {
	release := e.Pause.BeginWork()
	defer release()
	return execution.ExecuteLiquidation(e.ExecCtx, e.nextToken("liq"), pos, marketPrice, collateralToken, liquidatorFeeBps, partialQty, liquidatorAddr)
}

// ---- batch lifecycle -------------------------------------------------------

// FinalizeBatch implements spec §6 finalize_batch, quiescing ordinary
// request processing for the duration of the snapshot (spec §5 "Global
// pause flag").
func (e *Engine) FinalizeBatch() (batch.FinalizeResult, error) {
	var result batch.FinalizeResult
	var err error
	e.Pause.Quiesce(func() {
		result, err = e.Batch.Finalize(e.Log)
	})
	return result, err
}

// UpdateIndexPrice implements spec §6 update_index_price.
func (e *Engine) UpdateIndexPrice(token uint32, timestamp int64, obs []batch.Observation) (uint64, error) {
	release := e.Pause.BeginWork()
	defer release()
	return e.Batch.Oracle.Submit(token, timestamp, obs)
}

// RestoreOrderbook implements spec §6 restore_orderbook: reseeds one
// market's book from a snapshot dump of previously-active orders.
func (e *Engine) RestoreOrderbook(marketID uint32, orders []*entities.Order) error {
	release := e.Pause.BeginWork()
	defer release()
	book, _, err := e.book(marketID)
	if err != nil {
		return err
	}
	book.Restore(orders)
	return nil
}

// Restore runs the batch controller's cold-start recovery (spec §4.4).
func (e *Engine) Restore() error {
	return e.Batch.Restore()
}

// ---- read-only queries -----------------------------------------------------

// GetLiquidity implements spec §6 get_liquidity: current best bid/ask for a
// market.
func (e *Engine) GetLiquidity(marketID uint32) (bid uint64, hasBid bool, ask uint64, hasAsk bool, err error) {
	book, _, err := e.book(marketID)
	if err != nil {
		return 0, false, 0, false, err
	}
	bid, hasBid, ask, hasAsk = book.BestBidAsk()
	return
}

// GetOrders implements spec §6 get_orders: every resting order in a market.
func (e *Engine) GetOrders(marketID uint32) ([]*entities.Order, error) {
	book, _, err := e.book(marketID)
	if err != nil {
		return nil, err
	}
	return book.Snapshot(), nil
}

// StateInfo summarizes the commitment engine for spec §6 get_state_info.
type StateInfo struct {
	Slots         uint64
	BatchIndex    uint64
	InsuranceFund int64
}

func (e *Engine) GetStateInfo() StateInfo {
	return StateInfo{
		Slots:         e.Tree.Len(),
		BatchIndex:    e.Batch.BatchIndex(),
		InsuranceFund: e.ExecCtx.Counters.InsuranceFund(),
	}
}

// FundingInfo reports one token's current funding index, used by spec §6
// get_funding_info.
type FundingInfo struct {
	CurrentIdx uint32
}

func (e *Engine) GetFundingInfo() FundingInfo {
	return FundingInfo{CurrentIdx: e.ExecCtx.Funding.CurrentIdx()}
}
