// Package batch implements spec §4.4: the funding-rate/oracle-median batch
// controller, the per-batch counters, the insurance fund, and the finalize/
// restore orchestration over pkg/tree and pkg/transcript. Grounded on
// original_source/invisible_backend/src/perpetual/funding_rates.rs and
// perpetual/perp_helpers/price_updates.rs.
package batch

import (
	"math/big"
	"sync"
)

// TicksPerWindow is the number of 1-minute oracle ticks accumulated before a
// funding rate is committed to history (spec §4.4 "480-tick window").
const TicksPerWindow = 480

// FundingHistory is the persisted record spec §6 names verbatim: per-token
// rate/price series plus the global and per-token funding indices.
type FundingHistory struct {
	FundingRates   map[uint32][]int64  `json:"funding_rates"`
	FundingPrices  map[uint32][]uint64 `json:"funding_prices"`
	CurrentIdx     uint32              `json:"current_funding_idx"`
	MinFundingIdxs map[uint32]uint32   `json:"min_funding_idxs"`
}

func NewFundingHistory() FundingHistory {
	return FundingHistory{
		FundingRates:   make(map[uint32][]int64),
		FundingPrices:  make(map[uint32][]uint64),
		MinFundingIdxs: make(map[uint32]uint32),
	}
}

// FundingController accumulates per-minute (bid, ask, index) observations
// and commits a funding rate once TicksPerWindow ticks have landed.
type FundingController struct {
	mu          sync.Mutex
	history     FundingHistory
	accumulator map[uint32]*big.Int
	ticks       int
}

func NewFundingController() *FundingController {
	return &FundingController{
		history:     NewFundingHistory(),
		accumulator: make(map[uint32]*big.Int),
	}
}

// Observe folds one minute's top-of-book/index triple into the running
// per-token deviation sum (spec §4.4): deviation = max(0,bid-idx) -
// max(0,idx-ask), scaled by 1e5/(3*idx) matching the premium-index formula.
func (f *FundingController) Observe(token uint32, bid, ask, idx uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	premium := deviation(bid, ask, idx)
	if f.accumulator[token] == nil {
		f.accumulator[token] = new(big.Int)
	}
	f.accumulator[token].Add(f.accumulator[token], premium)
	f.history.FundingPrices[token] = append(f.history.FundingPrices[token], idx)
}

// Tick advances the minute counter; once TicksPerWindow ticks have
// accumulated it commits one funding rate per observed token, paired with
// that token's latest observed index price as its funding price, and resets
// the accumulator. Returns true if a rate was committed this call.
func (f *FundingController) Tick() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ticks++
	if f.ticks < TicksPerWindow {
		return false
	}
	f.ticks = 0
	for token, sum := range f.accumulator {
		rate := new(big.Int).Div(sum, big.NewInt(TicksPerWindow))
		committed := len(f.history.FundingRates[token])
		f.history.FundingRates[token] = append(f.history.FundingRates[token], rate.Int64())
		// keep exactly one funding price per committed rate: the window's
		// per-minute index prices collapse to the latest one.
		prices := f.history.FundingPrices[token]
		if len(prices) > 0 && len(prices) >= committed {
			f.history.FundingPrices[token] = append(prices[:committed], prices[len(prices)-1])
		}
		f.accumulator[token] = new(big.Int)
	}
	f.history.CurrentIdx++
	return true
}

func deviation(bid, ask, idx uint64) *big.Int {
	var posPart, negPart int64
	if bid > idx {
		posPart = int64(bid - idx)
	}
	if idx > ask {
		negPart = int64(idx - ask)
	}
	raw := posPart - negPart
	if idx == 0 {
		return big.NewInt(0)
	}
	scaled := new(big.Int).Mul(big.NewInt(raw), big.NewInt(100000))
	denom := new(big.Int).Mul(big.NewInt(3), new(big.Int).SetUint64(idx))
	return new(big.Int).Div(scaled, denom)
}

// History returns a snapshot of the committed funding history for
// persistence.
func (f *FundingController) History() FundingHistory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history
}

// Restore replaces the controller's history, used on cold-start recovery.
func (f *FundingController) Restore(h FundingHistory) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = h
	if f.history.FundingRates == nil {
		f.history.FundingRates = make(map[uint32][]int64)
	}
	if f.history.FundingPrices == nil {
		f.history.FundingPrices = make(map[uint32][]uint64)
	}
	if f.history.MinFundingIdxs == nil {
		f.history.MinFundingIdxs = make(map[uint32]uint32)
	}
}

// NoteMinFundingIdx records the funding index a position was opened at, so
// a later liquidity sweep can tell how far behind the slowest position is
// (spec §4.3's per-token min_funding_idxs bookkeeping).
func (f *FundingController) NoteMinFundingIdx(token uint32, idx uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.history.MinFundingIdxs[token]
	if !ok || idx < cur {
		f.history.MinFundingIdxs[token] = idx
	}
}

// RateAndPriceRange returns the rates/prices committed for a token from
// fromIdx (inclusive) through the last committed entry, applied to a
// position catching up on accrued funding.
func (f *FundingController) RateAndPriceRange(token uint32, fromIdx uint32) (rates []int64, prices []uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allRates := f.history.FundingRates[token]
	allPrices := f.history.FundingPrices[token]
	if int(fromIdx) >= len(allRates) {
		return nil, nil
	}
	end := len(allRates)
	if len(allPrices) < end {
		end = len(allPrices)
	}
	return append([]int64(nil), allRates[fromIdx:end]...), append([]uint64(nil), allPrices[fromIdx:end]...)
}

func (f *FundingController) CurrentIdx() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history.CurrentIdx
}
