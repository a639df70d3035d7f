// Package params holds engine-wide policy knobs: per-token decimal tables,
// dust thresholds, margin/liquidation fractions, and the oracle/funding
// tuning constants spec §9 asks an implementer to fix explicitly. Loaded
// the teacher's way, via godotenv with an ENV > .env > defaults priority.
package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/0xzex/zex-core/pkg/execution"
)

// TokenDecimals is one token's amount/price decimal precision, matching
// original_source's per-asset decimal tables (spec §3.3 supplement).
type TokenDecimals struct {
	Token         uint32
	AmountDecimals uint8
	PriceDecimals  uint8
	DustThreshold  uint64
	MinPartialLiq  uint64
}

// Oracle is the oracle policy. Only ObserverThreshold is passed to pkg/batch's
// OracleAggregator; the price-deviation bounds are not read anywhere.
type Oracle struct {
	ObserverThreshold int
	MinPriceDeviationBps uint64
	MaxPriceDeviationBps uint64
}

// Funding carries a configurable accumulation window (spec §4.4 "480-tick
// window"). It is not passed to pkg/batch's FundingController, which always
// uses its own batch.TicksPerWindow constant (480).
type Funding struct {
	TicksPerWindow int
}

// Liquidation bundles the margin fractions and fee rate spec §4.3.7 needs.
// ExecutionParams copies the first three into execution.Params, but
// pkg/execution reads none of them: a liquidation takes its fee bps from the
// request, and every margin check uses the fixed execution.MaintenanceMarginBps
// (5%). PartialMaintenanceMarginBps is not read anywhere.
type Liquidation struct {
	LiquidatorFeeBps             uint64
	InitialMarginFractionBps     uint64
	MaintenanceMarginFractionBps uint64
	PartialMaintenanceMarginBps  uint64 // partial-liquidation tier; not read (see above)
}

// Config is the full set of engine policy knobs; Tokens is keyed by token id.
type Config struct {
	Tokens             map[uint32]TokenDecimals
	CollateralToken    uint32
	CollateralDecimals uint8
	LeverageDecimals   uint8
	Oracle             Oracle
	Funding            Funding
	Liquidation        Liquidation
}

// Default seeds a three-token devnet config (a collateral/quote token plus
// two base tokens), mirroring the sample market set original_source ships
// with for local testing.
func Default() Config {
	return Config{
		Tokens: map[uint32]TokenDecimals{
			0: {Token: 0, AmountDecimals: 6, PriceDecimals: 6, DustThreshold: 100, MinPartialLiq: 0},     // USDC-like collateral
			1: {Token: 1, AmountDecimals: 9, PriceDecimals: 6, DustThreshold: 1_000, MinPartialLiq: 10_000_000},  // base asset A
			2: {Token: 2, AmountDecimals: 9, PriceDecimals: 6, DustThreshold: 1_000, MinPartialLiq: 10_000_000},  // base asset B
		},
		CollateralToken:    0,
		CollateralDecimals: 6,
		LeverageDecimals:   6,
		Oracle: Oracle{
			ObserverThreshold:    3,
			MinPriceDeviationBps: 1,
			MaxPriceDeviationBps: 2000,
		},
		Funding: Funding{TicksPerWindow: 480},
		Liquidation: Liquidation{
			LiquidatorFeeBps:             50,
			InitialMarginFractionBps:     1000, // 10%
			MaintenanceMarginFractionBps: 300,  // 3%
			PartialMaintenanceMarginBps:  400,  // 4% (spec §4.3.7 open question)
		},
	}
}

// ExecutionParams projects Config down to the execution.Params shape
// pkg/execution.Ctx is built from.
func (c Config) ExecutionParams() execution.Params {
	dust := make(map[uint32]uint64, len(c.Tokens))
	amountDec := make(map[uint32]uint8, len(c.Tokens))
	priceDec := make(map[uint32]uint8, len(c.Tokens))
	minLiq := make(map[uint32]uint64, len(c.Tokens))
	for id, t := range c.Tokens {
		dust[id] = t.DustThreshold
		amountDec[id] = t.AmountDecimals
		priceDec[id] = t.PriceDecimals
		minLiq[id] = t.MinPartialLiq
	}
	return execution.Params{
		DustThreshold:                dust,
		DecimalsPerAsset:             amountDec,
		PriceDecimalsPerAsset:        priceDec,
		CollateralDecimals:           c.CollateralDecimals,
		LeverageDecimals:             c.LeverageDecimals,
		MinPartialLiqSize:            minLiq,
		LiquidatorFeeBps:             c.Liquidation.LiquidatorFeeBps,
		InitialMarginFractionBps:     c.Liquidation.InitialMarginFractionBps,
		MaintenanceMarginFractionBps: c.Liquidation.MaintenanceMarginFractionBps,
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables, overriding Default(). Priority: ENV > .env > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ORACLE_OBSERVER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Oracle.ObserverThreshold = n
		}
	}
	if v := os.Getenv("FUNDING_TICKS_PER_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Funding.TicksPerWindow = n
		}
	}
	if v := os.Getenv("LIQUIDATOR_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Liquidation.LiquidatorFeeBps = n
		}
	}
	if v := os.Getenv("MAINTENANCE_MARGIN_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Liquidation.MaintenanceMarginFractionBps = n
		}
	}
	if v := os.Getenv("COLLATERAL_TOKEN"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.CollateralToken = uint32(n)
		}
	}
	// DUST_THRESHOLDS="0:100,1:1000,2:1000" overrides per-token dust floors.
	if v := os.Getenv("DUST_THRESHOLDS"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			kv := strings.SplitN(pair, ":", 2)
			if len(kv) != 2 {
				continue
			}
			token, err1 := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 32)
			dust, err2 := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 64)
			if err1 != nil || err2 != nil {
				continue
			}
			if t, ok := cfg.Tokens[uint32(token)]; ok {
				t.DustThreshold = dust
				cfg.Tokens[uint32(token)] = t
			}
		}
	}

	return cfg
}
