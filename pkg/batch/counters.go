package batch

import "sync"

// Counters are the first-class per-batch tallies spec §3.3 adds: notional
// volume and fee revenue observed since the last finalize, plus the
// insurance fund's running balance (credited from liquidation leftover
// collateral, debited to cover bankrupt positions).
type Counters struct {
	mu             sync.Mutex
	spotVolume     uint64
	perpVolume     uint64
	feesCollected  uint64
	insuranceFund  int64
}

func NewCounters() *Counters { return &Counters{} }

func (c *Counters) AddSpotVolume(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spotVolume += v
}

func (c *Counters) AddPerpVolume(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.perpVolume += v
}

func (c *Counters) AddFees(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feesCollected += v
}

// CreditInsuranceFund adds leftover collateral from a liquidation (spec
// §4.3 "insurance_fund += leftover_collateral").
func (c *Counters) CreditInsuranceFund(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insuranceFund += int64(v)
}

// DebitInsuranceFund covers a bankrupt position's shortfall; the fund is
// allowed to go negative, signalling the exchange is itself undercollateralized.
func (c *Counters) DebitInsuranceFund(v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insuranceFund -= int64(v)
}

func (c *Counters) InsuranceFund() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insuranceFund
}

// Snapshot holds the tallies SnapshotAndReset returns; that call resets the
// per-batch ones (spot/perp volume, fees), while the insurance fund is
// cumulative and survives.
type Snapshot struct {
	SpotVolume    uint64 `json:"spot_volume"`
	PerpVolume    uint64 `json:"perp_volume"`
	FeesCollected uint64 `json:"fees_collected"`
	InsuranceFund int64  `json:"insurance_fund"`
}

func (c *Counters) SnapshotAndReset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		SpotVolume:    c.spotVolume,
		PerpVolume:    c.perpVolume,
		FeesCollected: c.feesCollected,
		InsuranceFund: c.insuranceFund,
	}
	c.spotVolume, c.perpVolume, c.feesCollected = 0, 0, 0
	return s
}

// RestoreInsuranceFund sets the fund balance directly, used on cold start.
func (c *Counters) RestoreInsuranceFund(v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insuranceFund = v
}
