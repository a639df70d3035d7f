package batch

import (
	"sort"
	"sync"

	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/xerrors"
)

// PriceBound is one side of a token's observed min/max price window, kept so
// the engine can bound how stale an index price used in a liquidation is
// (spec §4.4 "min/max price data").
type PriceBound struct {
	Price     uint64 `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// PriceHistory is the persisted record spec §6 names verbatim.
type PriceHistory struct {
	LatestIndexPrice map[uint32]uint64     `json:"latest_index_price"`
	MinPriceData     map[uint32]PriceBound `json:"min_price_data"`
	MaxPriceData     map[uint32]PriceBound `json:"max_price_data"`
}

func NewPriceHistory() PriceHistory {
	return PriceHistory{
		LatestIndexPrice: make(map[uint32]uint64),
		MinPriceData:     make(map[uint32]PriceBound),
		MaxPriceData:     make(map[uint32]PriceBound),
	}
}

// Observation is one registered oracle observer's signed (token, timestamp,
// price) triple (spec §4.4).
type Observation struct {
	ObserverID uint32
	Token      uint32
	Timestamp  int64
	Price      uint64
	Signature  []byte
}

// OracleAggregator holds the registered observer set and threshold, and
// folds batches of per-observer observations into a validated median price.
type OracleAggregator struct {
	mu        sync.Mutex
	observers map[uint32]*cryptoring.ObserverKey
	threshold int
	history   PriceHistory
}

func NewOracleAggregator(observers map[uint32]*cryptoring.ObserverKey, threshold int) *OracleAggregator {
	return &OracleAggregator{
		observers: observers,
		threshold: threshold,
		history:   NewPriceHistory(),
	}
}

// Submit validates each observation's individual BLS signature, and if at
// least `threshold` observations for the same token/timestamp verify,
// commits the median price as the new latest index price and widens the
// min/max price window (spec §4.4).
func (o *OracleAggregator) Submit(token uint32, timestamp int64, obs []Observation) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var prices []uint64
	for _, ob := range obs {
		if ob.Token != token || ob.Timestamp != timestamp {
			continue
		}
		key, ok := o.observers[ob.ObserverID]
		if !ok {
			continue
		}
		msg := cryptoring.ObservationMessage(ob.Token, ob.Timestamp, ob.Price)
		if !cryptoring.VerifyObservation(key, ob.Signature, msg) {
			continue
		}
		prices = append(prices, ob.Price)
	}
	if len(prices) < o.threshold {
		return 0, xerrors.Oracle("only %d/%d observer signatures validated for token %d", len(prices), o.threshold, token)
	}

	median := medianUint64(prices)
	o.history.LatestIndexPrice[token] = median

	if cur, ok := o.history.MinPriceData[token]; !ok || median < cur.Price {
		o.history.MinPriceData[token] = PriceBound{Price: median, Timestamp: timestamp}
	}
	if cur, ok := o.history.MaxPriceData[token]; !ok || median > cur.Price {
		o.history.MaxPriceData[token] = PriceBound{Price: median, Timestamp: timestamp}
	}
	return median, nil
}

func medianUint64(vs []uint64) uint64 {
	sorted := append([]uint64(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func (o *OracleAggregator) LatestIndexPrice(token uint32) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.history.LatestIndexPrice[token]
	return p, ok
}

func (o *OracleAggregator) History() PriceHistory {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.history
}

func (o *OracleAggregator) Restore(h PriceHistory) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = h
	if o.history.LatestIndexPrice == nil {
		o.history.LatestIndexPrice = make(map[uint32]uint64)
	}
	if o.history.MinPriceData == nil {
		o.history.MinPriceData = make(map[uint32]PriceBound)
	}
	if o.history.MaxPriceData == nil {
		o.history.MaxPriceData = make(map[uint32]PriceBound)
	}
}
