package storage

import (
	"encoding/json"
	"fmt"

	"github.com/0xzex/zex-core/pkg/batch"
)

// BatchStateStore persists the two singleton records spec §6 names verbatim:
// the funding history record and the price-data record, plus the
// insurance fund's running balance, each as one JSON blob under a fixed key
// (spec §4.4).
type BatchStateStore struct {
	db *DB
}

func NewBatchStateStore(db *DB) *BatchStateStore {
	return &BatchStateStore{db: db}
}

var _ batch.HistoryStore = (*BatchStateStore)(nil)

func (s *BatchStateStore) SaveFundingHistory(h batch.FundingHistory) error {
	blob, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("storage: marshal funding history: %w", err)
	}
	if err := s.db.set(fundingHistoryKey(), blob, true); err != nil {
		return fmt.Errorf("storage: save funding history: %w", err)
	}
	return nil
}

func (s *BatchStateStore) LoadFundingHistory() (batch.FundingHistory, bool, error) {
	blob, ok, err := s.db.get(fundingHistoryKey())
	if err != nil {
		return batch.FundingHistory{}, false, fmt.Errorf("storage: load funding history: %w", err)
	}
	if !ok {
		return batch.FundingHistory{}, false, nil
	}
	var h batch.FundingHistory
	if err := json.Unmarshal(blob, &h); err != nil {
		return batch.FundingHistory{}, false, fmt.Errorf("storage: unmarshal funding history: %w", err)
	}
	return h, true, nil
}

func (s *BatchStateStore) SavePriceHistory(h batch.PriceHistory) error {
	blob, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("storage: marshal price history: %w", err)
	}
	if err := s.db.set(priceHistoryKey(), blob, true); err != nil {
		return fmt.Errorf("storage: save price history: %w", err)
	}
	return nil
}

func (s *BatchStateStore) LoadPriceHistory() (batch.PriceHistory, bool, error) {
	blob, ok, err := s.db.get(priceHistoryKey())
	if err != nil {
		return batch.PriceHistory{}, false, fmt.Errorf("storage: load price history: %w", err)
	}
	if !ok {
		return batch.PriceHistory{}, false, nil
	}
	var h batch.PriceHistory
	if err := json.Unmarshal(blob, &h); err != nil {
		return batch.PriceHistory{}, false, fmt.Errorf("storage: unmarshal price history: %w", err)
	}
	return h, true, nil
}

func (s *BatchStateStore) SaveInsuranceFund(v int64) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("storage: marshal insurance fund: %w", err)
	}
	if err := s.db.set(insuranceFundKey(), blob, true); err != nil {
		return fmt.Errorf("storage: save insurance fund: %w", err)
	}
	return nil
}

func (s *BatchStateStore) LoadInsuranceFund() (int64, bool, error) {
	blob, ok, err := s.db.get(insuranceFundKey())
	if err != nil {
		return 0, false, fmt.Errorf("storage: load insurance fund: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	var v int64
	if err := json.Unmarshal(blob, &v); err != nil {
		return 0, false, fmt.Errorf("storage: unmarshal insurance fund: %w", err)
	}
	return v, true, nil
}
