package batch

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/0xzex/zex-core/pkg/transcript"
	"github.com/0xzex/zex-core/pkg/tree"
)

// HistoryStore is the persistence seam for the funding/price-data records
// (spec §6); implemented by pkg/storage.BatchStateStore.
type HistoryStore interface {
	SaveFundingHistory(FundingHistory) error
	LoadFundingHistory() (FundingHistory, bool, error)
	SavePriceHistory(PriceHistory) error
	LoadPriceHistory() (PriceHistory, bool, error)
	SaveInsuranceFund(int64) error
	LoadInsuranceFund() (int64, bool, error)
}

// TranscriptStore is the persistence seam for chunked transcripts.
type TranscriptStore interface {
	SaveChunk(batchIdx uint64, t *transcript.Transcript) error
	LatestChunk() (batchIdx uint64, recs []transcript.Record, found bool, err error)
}

// Controller is the top-level batch orchestrator: it owns the funding
// controller, oracle aggregator, counters and insurance fund, and drives
// the superficial tree's batch Merkle finalize/restore cycle (spec §4.4).
type Controller struct {
	Funding  *FundingController
	Oracle   *OracleAggregator
	Counters *Counters

	tree    *tree.Superficial
	merkle  *tree.Batch
	history HistoryStore
	xscr    TranscriptStore
	batchIx uint64
}

func NewController(t *tree.Superficial, m *tree.Batch, hist HistoryStore, xscr TranscriptStore, oracle *OracleAggregator) *Controller {
	return &Controller{
		Funding:  NewFundingController(),
		Oracle:   oracle,
		Counters: NewCounters(),
		tree:     t,
		merkle:   m,
		history:  hist,
		xscr:     xscr,
	}
}

// FinalizeResult summarizes one batch's closing Merkle transition.
type FinalizeResult struct {
	BatchIdx uint64
	// SnapshotID identifies this finalize event for external log
	// correlation (audit trails, chunk-store keys); unlike BatchIdx it
	// carries no ordering meaning on its own.
	SnapshotID string
	PrevRoot   string
	NewRoot    string
	Snapshot   Snapshot
}

// Finalize drains the tree's accumulated leaf deltas, rebuilds the touched
// partitions and the top tree in parallel, persists the transcript chunk and
// the funding/price/insurance-fund history, and resets per-batch state
// (spec §4.1 "fans out per-stride work to workers", §4.4 "resets per-batch
// state").
func (c *Controller) Finalize(log *transcript.Transcript) (FinalizeResult, error) {
	deltas := c.tree.DrainDeltas()
	prevRoot, newRoot, _, err := c.merkle.Finalize(deltas)
	if err != nil {
		return FinalizeResult{}, fmt.Errorf("batch: finalize merkle transition: %w", err)
	}

	if err := c.xscr.SaveChunk(c.batchIx, log); err != nil {
		return FinalizeResult{}, fmt.Errorf("batch: persist transcript chunk %d: %w", c.batchIx, err)
	}
	if err := c.history.SaveFundingHistory(c.Funding.History()); err != nil {
		return FinalizeResult{}, fmt.Errorf("batch: persist funding history: %w", err)
	}
	if err := c.history.SavePriceHistory(c.Oracle.History()); err != nil {
		return FinalizeResult{}, fmt.Errorf("batch: persist price history: %w", err)
	}
	snap := c.Counters.SnapshotAndReset()
	if err := c.history.SaveInsuranceFund(snap.InsuranceFund); err != nil {
		return FinalizeResult{}, fmt.Errorf("batch: persist insurance fund: %w", err)
	}

	log.Reset()
	result := FinalizeResult{
		BatchIdx:   c.batchIx,
		SnapshotID: uuid.New().String(),
		PrevRoot:   prevRoot.String(),
		NewRoot:    newRoot.String(),
		Snapshot:   snap,
	}
	c.batchIx++
	return result, nil
}

// Restore replays the most recently persisted transcript chunk's leaf
// writes into the (fresh) superficial tree and reloads the funding/price/
// insurance-fund history, the cold-start recovery path spec §4.4 names
// (the partition/top-tree state itself lives directly in pkg/storage and
// needs no replay — only the in-memory superficial overlay does).
func (c *Controller) Restore() error {
	idx, recs, found, err := c.xscr.LatestChunk()
	if err != nil {
		return fmt.Errorf("batch: load latest transcript chunk: %w", err)
	}
	if found {
		c.batchIx = idx + 1
		ReplayRecords(c.tree, recs)
	}

	if fh, ok, err := c.history.LoadFundingHistory(); err != nil {
		return fmt.Errorf("batch: load funding history: %w", err)
	} else if ok {
		c.Funding.Restore(fh)
	}
	if ph, ok, err := c.history.LoadPriceHistory(); err != nil {
		return fmt.Errorf("batch: load price history: %w", err)
	} else if ok {
		c.Oracle.Restore(ph)
	}
	if fund, ok, err := c.history.LoadInsuranceFund(); err != nil {
		return fmt.Errorf("batch: load insurance fund: %w", err)
	} else if ok {
		c.Counters.RestoreInsuranceFund(fund)
	}
	return nil
}

func (c *Controller) BatchIndex() uint64 { return c.batchIx }
