package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clmmBacktest/internal/chain"
	"clmmBacktest/internal/config"
	"clmmBacktest/internal/dex"
	"clmmBacktest/internal/ingest"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/storage/postgres"
)

func runIngest(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadIngest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	addresses, err := ingest.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}
	topic0, err := ingest.ParseTopic0(cfg.Topic0)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	if cfg.ChainID != 0 {
		if err := chainClient.CheckChainID(ctx, cfg.ChainID); err != nil {
			return err
		}
	}

	decoder, err := dex.NewV3PoolDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}
	if len(topic0) == 0 {
		topic0 = decoder.Topics()
	}
	transformer := ingest.NewTransformer(decoder, dex.DecodeContext{
		Context:        ctx,
		Chain:          chainClient,
		PoolMetaCache:  dex.NewPoolMetaCache(),
		TokenMetaCache: dex.NewTokenMetaCache(),
		Logger:         logger,
	}, dex.ConvertOptions{SwapPriceLimit: cfg.SwapPriceLimit})

	var (
		store      *postgres.Store
		checkpoint ingest.Checkpointer
		sinks      ingest.MultiSink
	)
	if cfg.PGDSN != "" {
		store, err = postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}
	if cfg.CheckpointEnabled {
		if store != nil {
			checkpoint = ingest.NewStateCheckpoint(store, checkpointName(addresses))
		} else {
			checkpoint = ingest.NewFileCheckpoint(cfg.Checkpoint)
		}
	}

	runner := ingest.NewRunner(ingest.RunConfig{
		FromBlock:    cfg.FromBlock,
		ToBlock:      cfg.ToBlock,
		Addresses:    addresses,
		Topic0:       topic0,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, chainClient, transformer, checkpoint, logger)

	_, resumed, err := runner.StartBlock(ctx)
	if err != nil {
		return err
	}
	fileSink, err := ingest.NewFileSink(cfg.Out, cfg.Errors, cfg.RawOut, resumed)
	if err != nil {
		return err
	}
	defer fileSink.Close()
	sinks = append(sinks, fileSink)
	if store != nil {
		sinks = append(sinks, ingest.NewStoreSink(store))
	}

	logger.Info("ingest start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("addresses", len(addresses)),
		zap.Int("topic0", len(topic0)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.Bool("resumed", resumed),
		zap.Bool("postgres", store != nil),
	)

	stats, err := runner.Run(ctx, sinks)
	if err != nil {
		return err
	}
	if err := fileSink.Close(); err != nil {
		return err
	}

	logger.Info("ingest complete",
		zap.Uint64("from", stats.From),
		zap.Uint64("to", stats.To),
		zap.Int("batches", stats.Batches),
		zap.Int("logs", stats.Logs),
		zap.Int("events", stats.Events),
		zap.Int("errors", stats.Errors),
	)
	if !resumed && stats.FirstEvent != nil && stats.FirstEvent.Kind != model.EventInitialize {
		warnMissingInitialize(ctx, runner, addresses, stats.From, logger)
	}
	return nil
}

// warnMissingInitialize reports the pool price just before the first fetched
// block, since a replay of this history needs it as its seed.
func warnMissingInitialize(ctx context.Context, runner *ingest.Runner, addresses []common.Address, from uint64, logger *zap.Logger) {
	for _, addr := range addresses {
		meta, err := runner.PoolStateBefore(ctx, addr, from)
		if err != nil {
			logger.Warn("history has no initialize event and the pool state could not be read",
				zap.String("pool", addr.Hex()), zap.Error(err))
			continue
		}
		logger.Warn("history has no initialize event, pass initial-sqrt-price to replay it",
			zap.String("pool", addr.Hex()),
			zap.Uint64("block", from),
			zap.String("sqrt_price_x96", meta.Slot0.SqrtPriceX96),
			zap.Int32("tick", meta.Slot0.Tick),
			zap.String("liquidity", meta.Liquidity),
		)
	}
}

func checkpointName(addresses []common.Address) string {
	parts := make([]string, len(addresses))
	for i, addr := range addresses {
		parts[i] = strings.ToLower(addr.Hex())
	}
	return "ingest:" + strings.Join(parts, ",")
}

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}

	ctx, stop := signalContext()
	defer stop()

	decodeCtx := dex.DecodeContext{
		Context: ctx,
		Logger:  logger,
	}
	if cfg.RPCURL != "" {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		decodeCtx.Chain = chainClient
		decodeCtx.PoolMetaCache = dex.NewPoolMetaCache()
		decodeCtx.TokenMetaCache = dex.NewTokenMetaCache()
	}

	decoder, err := dex.NewV3PoolDecoder(dex.DecoderConfig{Topic0Map: cfg.Topic0Map})
	if err != nil {
		return err
	}
	transformer := ingest.NewTransformer(decoder, decodeCtx, dex.ConvertOptions{SwapPriceLimit: cfg.SwapPriceLimit})

	fileSink, err := ingest.NewFileSink(cfg.Out, cfg.Errors, "", false)
	if err != nil {
		return err
	}
	defer fileSink.Close()
	sinks := ingest.MultiSink{fileSink}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		sinks = append(sinks, ingest.NewStoreSink(store))
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("metadata", decodeCtx.Chain != nil),
	)

	stats, err := ingest.DecodeFile(ctx, cfg.In, transformer, sinks)
	if err != nil {
		return err
	}
	if err := fileSink.Close(); err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.Logs),
		zap.Int("decoded", stats.Events),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Errors),
	)
	return nil
}
