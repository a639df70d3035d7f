// Package orderbook implements spec §4.2: per-market price-time priority
// bid/ask queues with place, amend, cancel, partial fill, and deterministic
// maker-taker pairing. Grounded on the teacher's
// pkg/app/core/orderbook/orderbook.go (heap-backed best-bid/ask, FIFO per
// price level, O(1) cancel index), generalized from bare qty ints to
// note/tab/position-referencing entities.Order bodies and extended with the
// retry/amend/reduce_pending/restore_pending operations spec §4.2 names.
package orderbook

import (
	"container/heap"
	"sync"
	"time"

	"github.com/0xzex/zex-core/pkg/entities"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// FillKind distinguishes a produced Filled result's role in a taker-maker
// pair, since "the stream's index parity identifies the role" (spec §5).
type FillKind int8

const (
	FillTaker FillKind = iota
	FillMaker
)

// Filled is one leg of a matched crossing. Results always come in
// taker-then-maker pairs per counter-party (spec §4.2).
type Filled struct {
	Kind       FillKind
	OrderID    uint64
	UserID     string
	Price      uint64
	Qty        uint64 // base-asset quantity filled
	QuoteQty   uint64 // Qty*Price, set on every fill
}

// MatchOutcome is the result of one submit/retry call: either a sequence of
// fills, or a failure reason that leaves the book unchanged for this call.
type MatchOutcome struct {
	Fills       []Filled
	RestingQty  uint64 // quantity left unfilled: resting on the book for a limit order, dropped for a market order
	NoMatch     bool
	TooMuchSlippage bool
}

// entry is the book-resident wrapper around an order: its price-time key and
// current reservation bookkeeping.
type entry struct {
	order      *entities.Order
	insertedAt time.Time
	pendingQty uint64 // quantity matched but not yet settled (spec §5 "pending")
}

// Book is one market's bid/ask orderbook. Orders are keyed by
// (price, timestamp, order_id); ties break by insertion timestamp then
// order id, matching spec §4.2's stated policy.
type Book struct {
	mu sync.Mutex

	marketID uint32

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[uint64][]*entry // price -> FIFO queue, highest price first via heap
	asks map[uint64][]*entry

	byID map[uint64]*entry // order id -> resident entry, for O(1) cancel/amend/reduce/restore

	// pendingRemoved holds makers whose entire resting quantity was consumed
	// by a match but whose settlement has not yet confirmed; restore_pending
	// reinserts them at their original (price, time) slot if still present.
	pendingRemoved map[uint64]*entry

	slippageCapBps uint64 // cap on market-order price drift from the best opposing price, 0 = no cap
}

// NewBook creates an empty book for one market.
func NewBook(marketID uint32, slippageCapBps uint64) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)
	return &Book{
		marketID:       marketID,
		bidHeap:        bidHeap,
		askHeap:        askHeap,
		bids:           make(map[uint64][]*entry),
		asks:           make(map[uint64][]*entry),
		byID:           make(map[uint64]*entry),
		pendingRemoved: make(map[uint64]*entry),
		slippageCapBps: slippageCapBps,
	}
}

func (b *Book) bestBidLocked() (uint64, bool) { return b.bidHeap.Peek() }
func (b *Book) bestAskLocked() (uint64, bool) { return b.askHeap.Peek() }

func (b *Book) insertLocked(e *entry) {
	p := e.order.Price
	if e.order.Side == entities.Bid {
		if len(b.bids[p]) == 0 {
			heap.Push(b.bidHeap, p)
		}
		b.bids[p] = append(b.bids[p], e)
	} else {
		if len(b.asks[p]) == 0 {
			heap.Push(b.askHeap, p)
		}
		b.asks[p] = append(b.asks[p], e)
	}
	b.byID[e.order.OrderID] = e
}

func (b *Book) removeFromHeapLocked(side entities.OrderSide, price uint64) {
	if side == entities.Bid {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
	} else {
		for i := 0; i < b.askHeap.Len(); i++ {
			if (*b.askHeap)[i] == price {
				heap.Remove(b.askHeap, i)
				return
			}
		}
	}
}

// removeLocked drops e from its price-level queue and, if the level is now
// empty, from the heap. It does not touch byID (callers decide whether the
// order is gone for good or parked in pendingRemoved).
func (b *Book) removeLocked(e *entry) {
	side := e.order.Side
	price := e.order.Price
	queue := b.bids
	if side == entities.Ask {
		queue = b.asks
	}
	arr := queue[price]
	for i, x := range arr {
		if x == e {
			queue[price] = append(arr[:i], arr[i+1:]...)
			break
		}
	}
	if len(queue[price]) == 0 {
		delete(queue, price)
		b.removeFromHeapLocked(side, price)
	}
}

func crosses(takerSide entities.OrderSide, takerPrice, makerPrice uint64) bool {
	if takerSide == entities.Bid {
		return takerPrice >= makerPrice
	}
	return makerPrice >= takerPrice
}

// slippageExceeded reports whether fillPrice has drifted past the
// configured cap from the reference (first-fill) price, distinct from
// NoMatch per spec §4.2.
func (b *Book) slippageExceeded(refPrice, fillPrice uint64, side entities.OrderSide) bool {
	if b.slippageCapBps == 0 || refPrice == 0 {
		return false
	}
	var driftBps uint64
	if side == entities.Bid {
		if fillPrice <= refPrice {
			return false
		}
		driftBps = (fillPrice - refPrice) * 10000 / refPrice
	} else {
		if fillPrice >= refPrice {
			return false
		}
		driftBps = (refPrice - fillPrice) * 10000 / refPrice
	}
	return driftBps > b.slippageCapBps
}

// Submit inserts a resting order or crosses it against the opposite book
// (spec §4.2). isMarket orders never rest: any unfilled remainder is
// dropped rather than inserted.
func (b *Book) Submit(order *entities.Order, isMarket bool, userID string) (MatchOutcome, error) {
	return b.match(order, isMarket, userID, nil)
}

// Retry re-matches a previously partially successful order, skipping maker
// ids already excluded for this taker so a repeatedly-failing maker cannot
// cause an infinite retry loop (spec §4.2).
func (b *Book) Retry(order *entities.Order, prevQtyLeft uint64, takerID string, excludedMakerIDs map[uint64]bool) (MatchOutcome, error) {
	order.QtyLeft = prevQtyLeft
	return b.match(order, true, takerID, excludedMakerIDs)
}

func (b *Book) match(order *entities.Order, isMarket bool, userID string, excluded map[uint64]bool) (MatchOutcome, error) {
	if order.OrderID == 0 {
		return MatchOutcome{}, xerrors.Orderbook("order id must be non-zero")
	}
	if order.Qty == 0 {
		return MatchOutcome{}, xerrors.Orderbook("order qty must be positive")
	}
	if order.QtyLeft == 0 {
		order.QtyLeft = order.Qty
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.byID[order.OrderID]; exists {
		return MatchOutcome{}, xerrors.Orderbook("duplicate order id %d", order.OrderID)
	}

	var fills []Filled
	var refPrice uint64

	for order.QtyLeft > 0 {
		var makerPrice uint64
		var ok bool
		if order.Side == entities.Bid {
			makerPrice, ok = b.bestAskLocked()
		} else {
			makerPrice, ok = b.bestBidLocked()
		}
		if !ok {
			break
		}
		if !isMarket && !crosses(order.Side, order.Price, makerPrice) {
			break
		}

		queue := b.asks
		if order.Side == entities.Ask {
			queue = b.bids
		}
		level := queue[makerPrice]
		if len(level) == 0 {
			if order.Side == entities.Bid {
				b.removeFromHeapLocked(entities.Ask, makerPrice)
			} else {
				b.removeFromHeapLocked(entities.Bid, makerPrice)
			}
			continue
		}
		maker := level[0]
		if excluded[maker.order.OrderID] {
			// rotate this maker to the back of its price level rather than
			// matching it again this call.
			level = append(level[1:], maker)
			queue[makerPrice] = level
			if allExcluded(level, excluded) {
				break
			}
			continue
		}

		if refPrice == 0 {
			refPrice = makerPrice
		}
		if b.slippageExceeded(refPrice, makerPrice, order.Side) {
			return MatchOutcome{Fills: fills, RestingQty: order.QtyLeft, TooMuchSlippage: true}, nil
		}

		fillQty := order.QtyLeft
		if maker.order.QtyLeft < fillQty {
			fillQty = maker.order.QtyLeft
		}

		quoteQty := crossQuoteQty(order.Side, fillQty, makerPrice)

		order.QtyLeft -= fillQty
		maker.order.QtyLeft -= fillQty
		maker.pendingQty += fillQty

		fills = append(fills,
			Filled{Kind: FillTaker, OrderID: order.OrderID, UserID: userID, Price: makerPrice, Qty: fillQty, QuoteQty: quoteQty},
			Filled{Kind: FillMaker, OrderID: maker.order.OrderID, UserID: maker.order.UserID, Price: makerPrice, Qty: fillQty, QuoteQty: quoteQty},
		)

		if maker.order.QtyLeft == 0 {
			b.removeLocked(maker)
			delete(b.byID, maker.order.OrderID)
			b.pendingRemoved[maker.order.OrderID] = maker
		}
	}

	if len(fills) == 0 {
		if isMarket {
			return MatchOutcome{NoMatch: true}, nil
		}
		b.insertLocked(&entry{order: order, insertedAt: time.Now()})
		return MatchOutcome{RestingQty: order.QtyLeft}, nil
	}

	if order.QtyLeft > 0 && !isMarket {
		b.insertLocked(&entry{order: order, insertedAt: time.Now()})
	}
	return MatchOutcome{Fills: fills, RestingQty: order.QtyLeft}, nil
}

func allExcluded(level []*entry, excluded map[uint64]bool) bool {
	for _, e := range level {
		if !excluded[e.order.OrderID] {
			return false
		}
	}
	return true
}

// crossQuoteQty computes the quote-asset amount for a fill as the exact
// product baseQty*price. It applies no decimal scaling and no rounding, so
// the buyer and the seller get the same amount; takerSide is not used.
func crossQuoteQty(takerSide entities.OrderSide, baseQty, price uint64) uint64 {
	return baseQty * price
}

// Amend repositions a resting order at newPrice. If matchOnly is set,
// newPrice must be more aggressive than the current price and the order is
// resubmitted through Submit at newPrice, so whatever quantity does not
// cross rests at newPrice; otherwise it is removed and reinserted at the new
// price (spec §4.2).
func (b *Book) Amend(orderID uint64, newPrice uint64, newExpiration time.Time, matchOnly bool) error {
	b.mu.Lock()
	e, ok := b.byID[orderID]
	if !ok {
		b.mu.Unlock()
		return xerrors.NotFound("order %d not resting", orderID)
	}
	if matchOnly {
		moreAggressive := (e.order.Side == entities.Bid && newPrice > e.order.Price) ||
			(e.order.Side == entities.Ask && newPrice < e.order.Price)
		if !moreAggressive {
			b.mu.Unlock()
			return xerrors.Orderbook("amend match_only requires a more aggressive price")
		}
	}
	b.removeLocked(e)
	delete(b.byID, orderID)
	order := e.order
	order.Price = newPrice
	if !newExpiration.IsZero() {
		order.Expiration = newExpiration
	}
	b.mu.Unlock()

	if matchOnly {
		outcome, err := b.Submit(order, false, order.UserID)
		_ = outcome
		return err
	}
	b.mu.Lock()
	b.insertLocked(&entry{order: order, insertedAt: time.Now()})
	b.mu.Unlock()
	return nil
}

// Cancel removes a resting order if owned by userID (spec §4.2).
func (b *Book) Cancel(orderID uint64, side entities.OrderSide, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byID[orderID]
	if !ok {
		return xerrors.NotFound("order %d not resting", orderID)
	}
	if e.order.UserID != userID {
		return xerrors.Orderbook("order %d not owned by %s", orderID, userID)
	}
	b.removeLocked(e)
	delete(b.byID, orderID)
	return nil
}

// ReducePending commits a filled quantity against the maker's pending
// reservation. With forcedCancel set the order is removed outright
// regardless of residual quantity (spec §4.2/§8).
func (b *Book) ReducePending(orderID uint64, qty uint64, forcedCancel bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.pendingRemoved[orderID]; ok {
		if qty > e.pendingQty {
			return xerrors.Orderbook("reduce_pending %d exceeds reservation for order %d", qty, orderID)
		}
		e.pendingQty -= qty
		if forcedCancel || e.pendingQty == 0 {
			delete(b.pendingRemoved, orderID)
		}
		return nil
	}
	e, ok := b.byID[orderID]
	if !ok {
		return xerrors.NotFound("order %d not tracked", orderID)
	}
	if qty > e.pendingQty {
		return xerrors.Orderbook("reduce_pending %d exceeds reservation for order %d", qty, orderID)
	}
	e.pendingQty -= qty
	if forcedCancel {
		b.removeLocked(e)
		delete(b.byID, orderID)
	}
	return nil
}

// RestorePending rolls back a pending reservation when a swap fails; the
// maker resumes its prior queue position if its order id is still tracked
// (spec §4.2). restore_pending and reduce_pending are inverses of each
// other for the same quantity (spec §8).
func (b *Book) RestorePending(order *entities.Order, qty uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.pendingRemoved[order.OrderID]; ok {
		if qty > e.pendingQty {
			return xerrors.Orderbook("restore_pending %d exceeds reservation for order %d", qty, order.OrderID)
		}
		e.pendingQty -= qty
		e.order.QtyLeft += qty
		b.insertLocked(e)
		// move it ahead of later arrivals at its price so it regains its
		// original time priority.
		queue := b.bids
		if e.order.Side == entities.Ask {
			queue = b.asks
		}
		level := queue[e.order.Price]
		for i := len(level) - 1; i > 0 && level[i-1].insertedAt.After(e.insertedAt); i-- {
			level[i-1], level[i] = level[i], level[i-1]
		}
		delete(b.pendingRemoved, order.OrderID)
		return nil
	}
	e, ok := b.byID[order.OrderID]
	if !ok {
		return xerrors.NotFound("order %d not tracked", order.OrderID)
	}
	if qty > e.pendingQty {
		return xerrors.Orderbook("restore_pending %d exceeds reservation for order %d", qty, order.OrderID)
	}
	e.pendingQty -= qty
	e.order.QtyLeft += qty
	return nil
}

// Lookup returns the resident order for orderID, whether it is still
// resting or merely pending settlement after a full-fill match (spec §5
// "pending" reservation window).
func (b *Book) Lookup(orderID uint64) (*entities.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.byID[orderID]; ok {
		return e.order, true
	}
	if e, ok := b.pendingRemoved[orderID]; ok {
		return e.order, true
	}
	return nil, false
}

// Snapshot returns every resting order across both sides, for
// restore_orderbook dumps and get_orders queries (spec §6).
func (b *Book) Snapshot() []*entities.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*entities.Order, 0, len(b.byID))
	for _, e := range b.byID {
		out = append(out, e.order)
	}
	return out
}

// BestBidAsk reports the current top of book, used by the get_liquidity
// query (spec §6).
func (b *Book) BestBidAsk() (bid uint64, hasBid bool, ask uint64, hasAsk bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, hasBid = b.bestBidLocked()
	ask, hasAsk = b.bestAskLocked()
	return
}

// Restore rebuilds the book from a snapshot of previously-active orders,
// the restore_orderbook admin endpoint's backing operation (spec §6).
func (b *Book) Restore(orders []*entities.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range orders {
		if o.QtyLeft == 0 {
			continue
		}
		b.insertLocked(&entry{order: o, insertedAt: o.SubmittedAt})
	}
}
