// cmd/node runs the off-chain execution core as a single process: it opens
// the pebble-backed store, builds pkg/engine over it, registers the
// configured markets and starts the REST/WebSocket API. There is no
// consensus or peer-to-peer layer in this core's scope (spec §1 Non-goals);
// a downstream prover and any multi-party agreement on batch roots are
// external collaborators.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xzex/zex-core/pkg/api"
	"github.com/0xzex/zex-core/pkg/batch"
	"github.com/0xzex/zex-core/pkg/cryptoring"
	"github.com/0xzex/zex-core/pkg/engine"
	"github.com/0xzex/zex-core/pkg/storage"
	"github.com/0xzex/zex-core/pkg/tree"
	"github.com/0xzex/zex-core/pkg/util"
	"github.com/0xzex/zex-core/params"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data/zexdb"
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir_create_failed", "err", err)
	}
	db, err := storage.Open(dataDir)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "err", err)
	}
	defer db.Close()

	partitions := storage.NewPartitionStore(db)
	merkle := tree.NewBatch(partitions)
	history := storage.NewBatchStateStore(db)
	xscr := storage.NewTranscriptStore(db)

	// Observer keys are registered operationally (out of this core's scope);
	// an empty set with the configured threshold means update_index_price
	// rejects every submission until observers are provisioned.
	observers := map[uint32]*cryptoring.ObserverKey{}
	oracle := batch.NewOracleAggregator(observers, cfg.Oracle.ObserverThreshold)

	eng := engine.New(cfg.ExecutionParams(), merkle, history, xscr, oracle)

	if err := eng.Restore(); err != nil {
		sugar.Warnw("batch_restore_skipped", "err", err)
	}

	// BTC-USDC and ETH-USDC against the devnet collateral token, mirroring
	// original_source's sample market set.
	eng.RegisterMarket(engine.MarketConfig{MarketID: 1, BaseToken: 1, QuoteToken: cfg.CollateralToken, FeeBps: 10, SlippageCapBps: 500})
	eng.RegisterMarket(engine.MarketConfig{MarketID: 2, BaseToken: 2, QuoteToken: cfg.CollateralToken, FeeBps: 10, SlippageCapBps: 500})

	apiServer := api.NewServer(eng, sugar)
	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "api_addr", apiAddr, "data_dir", dataDir)
	<-ctx.Done()
	sugar.Info("node_shutting_down")
}
