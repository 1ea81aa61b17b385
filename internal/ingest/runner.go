// Package ingest pulls V3 pool logs from an RPC node and turns them into
// replayable events.
package ingest

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"clmmBacktest/internal/dex"
	"clmmBacktest/internal/model"
)

// RunConfig holds runtime settings for ingestion.
type RunConfig struct {
	FromBlock    uint64
	ToBlock      uint64
	Addresses    []common.Address
	Topic0       []common.Hash
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// LogSource is the chain surface ingestion needs. *chain.Client satisfies it.
type LogSource interface {
	dex.ContractCaller
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Stats summarizes a run.
type Stats struct {
	From    uint64
	To      uint64
	Batches int
	Logs    int
	Events  int
	Errors  int
	Skipped int
	// FirstEvent is the first event written, if any.
	FirstEvent *model.Event
}

// Runner streams logs from the chain, converts them and hands each block
// range to a sink.
type Runner struct {
	cfg         RunConfig
	chain       LogSource
	transformer *Transformer
	checkpoint  Checkpointer
	logger      *zap.Logger
	seen        map[string]struct{}
}

// NewRunner builds a Runner. A nil checkpoint disables resuming.
func NewRunner(cfg RunConfig, source LogSource, transformer *Transformer, checkpoint Checkpointer, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:         cfg,
		chain:       source,
		transformer: transformer,
		checkpoint:  checkpoint,
		logger:      logger,
		seen:        make(map[string]struct{}),
	}
}

// StartBlock returns the first block to fetch and whether it comes from a
// checkpoint.
func (r *Runner) StartBlock(ctx context.Context) (uint64, bool, error) {
	from := r.cfg.FromBlock
	if r.checkpoint == nil {
		return from, false, nil
	}
	last, ok, err := r.checkpoint.Load(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && last >= from {
		return last + 1, true, nil
	}
	return from, false, nil
}

// Run executes the ingestion loop.
func (r *Runner) Run(ctx context.Context, sink Sink) (Stats, error) {
	var stats Stats
	if r.chain == nil {
		return stats, fmt.Errorf("chain client is nil")
	}
	if sink == nil {
		return stats, fmt.Errorf("sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return stats, fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Addresses) == 0 {
		return stats, fmt.Errorf("at least one address is required")
	}

	chainID, err := r.chain.GetChainID(ctx)
	if err != nil {
		return stats, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return stats, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}

	from, resumed, err := r.StartBlock(ctx)
	if err != nil {
		return stats, err
	}
	if resumed {
		r.logger.Info("resume from checkpoint", zap.Uint64("from", from))
	}
	to := r.cfg.ToBlock
	if to == 0 {
		if to, err = r.chain.LatestBlockNumber(ctx); err != nil {
			return stats, fmt.Errorf("get latest block: %w", err)
		}
	}
	stats.From, stats.To = from, to
	if from > to {
		r.logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return stats, nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return stats, err
	}
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := r.fetch(ctx, chainID.Uint64(), blockRange)
		if err != nil {
			return stats, err
		}
		if err := sink.WriteBatch(ctx, batch); err != nil {
			return stats, fmt.Errorf("write batch %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		if r.checkpoint != nil {
			if err := r.checkpoint.Save(ctx, blockRange.To); err != nil {
				return stats, fmt.Errorf("save checkpoint: %w", err)
			}
		}

		stats.Batches++
		stats.Logs += len(batch.Logs)
		stats.Events += len(batch.Events)
		stats.Errors += len(batch.Errors)
		if stats.FirstEvent == nil && len(batch.Events) > 0 {
			first := batch.Events[0]
			stats.FirstEvent = &first
		}
		r.logger.Info("batch complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("logs", len(batch.Logs)),
			zap.Int("events", len(batch.Events)),
			zap.Int("errors", len(batch.Errors)),
		)
	}
	return stats, nil
}

func (r *Runner) fetch(ctx context.Context, chainID uint64, blockRange BlockRange) (Batch, error) {
	r.logger.Debug("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return Batch{}, fmt.Errorf("filter logs: %w", err)
	}

	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed || r.isDuplicate(log) {
			continue
		}
		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return Batch{}, fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		records = append(records, buildLogRecord(chainID, log, ts, ingestedAt))
	}

	out := r.transformer.Transform(records)
	for _, de := range out.Errors {
		r.logger.Warn("log not converted",
			zap.Uint64("block_number", de.BlockNumber),
			zap.Uint64("log_index", de.LogIndex),
			zap.String("stage", de.Stage),
			zap.String("error", de.Error),
		)
	}
	return Batch{
		Range:  blockRange,
		Logs:   records,
		Events: out.Events,
		Errors: out.Errors,
		Pools:  out.Pools,
	}, nil
}

// PoolStateBefore reads a pool's slot0 just before from, for seeding a replay
// whose history does not start at the pool's initialization.
func (r *Runner) PoolStateBefore(ctx context.Context, pool common.Address, from uint64) (model.PoolMeta, error) {
	block := uint64(0)
	if from > 0 {
		block = from - 1
	}
	var meta model.PoolMeta
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		meta, err = dex.FetchPoolState(ctx, r.chain, pool, block)
		return err
	})
	return meta, err
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, fromBlock, toBlock, r.cfg.Addresses, r.cfg.Topic0)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = r.chain.BlockTimestamp(ctx, blockNumber)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", blockNumber))
		}
		return err
	})
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}
