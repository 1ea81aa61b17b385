package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clmmBacktest/internal/backtest"
	"clmmBacktest/internal/config"
	"clmmBacktest/internal/pricing"
	"clmmBacktest/internal/report"
	"clmmBacktest/internal/storage"
	"clmmBacktest/internal/storage/postgres"
	"clmmBacktest/internal/strategy"
)

func runBacktest(cmd *cobra.Command, _ []string) error {
	return runStrategies(cmd, false)
}

func runCompare(cmd *cobra.Command, _ []string) error {
	return runStrategies(cmd, true)
}

func runStrategies(cmd *cobra.Command, compare bool) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadBacktest(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if !compare && len(cfg.Strategies) > 1 {
		return fmt.Errorf("backtest runs one strategy, %d configured; use compare", len(cfg.Strategies))
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	seed, err := seedPool(cfg.Pool)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cfg.Source, cfg.Pool.Address)
	if err != nil {
		return err
	}
	defer src.Close()
	if cfg.SaveRun && src.store == nil {
		return fmt.Errorf("save-run requires pg-dsn")
	}
	prices, err := loadPrices(ctx, cfg, src.store, logger)
	if err != nil {
		return err
	}

	jobs := make([]backtest.Job, 0, len(cfg.Strategies))
	names := make([]string, 0, len(cfg.Strategies))
	for _, sc := range cfg.Strategies {
		strat, err := strategy.New(sc.Strategy, backtest.Params(sc.Params))
		if err != nil {
			return err
		}
		jobs = append(jobs, backtest.Job{
			Config:   runConfig(cfg, sc, prices),
			Strategy: strat,
			Seed:     seed,
			Open: func(ctx context.Context) (storage.Cursor, error) {
				return src.Open(ctx, cfg.To)
			},
		})
		names = append(names, sc.Name)
	}

	parallel := 1
	if compare {
		parallel = cfg.Parallel
	}
	logger.Info("backtest start",
		zap.String("pool", cfg.Pool.Address),
		zap.Strings("runs", names),
		zap.Uint64("from", cfg.From),
		zap.Uint64("to", cfg.To),
		zap.Int("parallel", parallel),
		zap.Bool("seeded", seed.Initialized()),
	)

	results, runErr := backtest.RunAll(ctx, jobs, parallel, logger)

	var writeErr error
	for i, res := range results {
		if res == nil {
			continue
		}
		if err := writeResult(ctx, cfg, cfg.Strategies[i], res, src.store, compare, logger); err != nil {
			writeErr = errors.Join(writeErr, fmt.Errorf("%s: %w", names[i], err))
		}
	}

	pair := tokenPair(cfg.Pool)
	if compare {
		report.WriteComparison(os.Stdout, names, results, pair)
	} else if len(results) == 1 && results[0] != nil {
		report.WriteSummary(os.Stdout, results[0].Summary, pair)
	}
	return errors.Join(runErr, writeErr)
}

func runConfig(cfg config.BacktestConfig, sc config.StrategyConfig, prices backtest.PriceFunc) backtest.Config {
	return backtest.Config{
		Name: sc.Name,
		Pool: cfg.Pool.Address,
		Token0: backtest.TokenInfo{
			Address:  cfg.Pool.Token0.Address,
			Symbol:   cfg.Pool.Token0.Symbol,
			Decimals: cfg.Pool.Token0.Decimals,
		},
		Token1: backtest.TokenInfo{
			Address:  cfg.Pool.Token1.Address,
			Symbol:   cfg.Pool.Token1.Symbol,
			Decimals: cfg.Pool.Token1.Decimals,
		},
		From: cfg.From,
		To:   cfg.To,
		Policy: backtest.DecisionPolicy{
			EveryNEvents:      cfg.Policy.EveryNEvents,
			Interval:          cfg.Policy.Interval,
			OnLiquidityEvents: cfg.Policy.LiquidityEvents,
		},
		InitialToken0:    new(uint256.Int).Set(cfg.InitialToken0),
		InitialToken1:    new(uint256.Int).Set(cfg.InitialToken1),
		Params:           backtest.Params(sc.Params),
		SwapToleranceBps: cfg.SwapToleranceBps(),
		MaxSlippageBps:   cfg.MaxSlippageBps,
		CloseAtEnd:       cfg.CloseAtEnd,
		MaxGap:           cfg.MaxGap,
		Prices:           prices,
	}
}

// loadPrices merges the price file, static prices and stored series. With no
// prices at all, USD values stay zero.
func loadPrices(ctx context.Context, cfg config.BacktestConfig, store *postgres.Store, logger *zap.Logger) (backtest.PriceFunc, error) {
	table := pricing.NewTable()
	if cfg.Prices != "" {
		loaded, err := pricing.LoadFile(cfg.Prices)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	for token, price := range cfg.StaticPrices {
		table.SetStatic(token, price)
	}
	if store != nil {
		n, err := store.LoadPrices(ctx, []string{cfg.Pool.Token0.Address, cfg.Pool.Token1.Address}, table)
		if err != nil {
			return nil, fmt.Errorf("load stored prices: %w", err)
		}
		logger.Info("stored prices loaded", zap.Int("points", n))
	}
	if table.Len() == 0 && len(cfg.StaticPrices) == 0 {
		logger.Warn("no USD prices configured, USD values are reported as zero")
		return nil, nil
	}
	return table.Lookup, nil
}

// outputPath keeps path for a single run and adds the run name before the
// extension when several runs share one config.
func outputPath(path, name string, perRun bool) string {
	if path == "" || !perRun {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + name + ext
}

func writeResult(ctx context.Context, cfg config.BacktestConfig, sc config.StrategyConfig, res *backtest.Result, store *postgres.Store, perRun bool, logger *zap.Logger) error {
	if path := outputPath(cfg.SamplesOut, sc.Name, perRun); path != "" {
		if err := writeLines(path, res.Samples); err != nil {
			return fmt.Errorf("write samples: %w", err)
		}
	}
	if path := outputPath(cfg.PositionsOut, sc.Name, perRun); path != "" {
		if err := writeLines(path, res.Positions); err != nil {
			return fmt.Errorf("write positions: %w", err)
		}
	}
	for _, rej := range res.Rejected {
		logger.Warn("action rejected",
			zap.String("run", sc.Name),
			zap.Uint64("ts", rej.Timestamp),
			zap.String("action", rej.Action.String()),
			zap.String("reason", rej.Reason),
		)
	}
	if !cfg.SaveRun {
		return nil
	}
	params := map[string]any{"name": sc.Name}
	for k, v := range sc.Params {
		params[k] = v
	}
	runID, err := store.SaveRun(ctx, params, res)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	logger.Info("run saved", zap.String("run", sc.Name), zap.Int64("run_id", runID))
	return nil
}

func writeLines[T any](path string, values []T) error {
	w, err := storage.NewJSONLWriter(path, false)
	if err != nil {
		return err
	}
	for _, v := range values {
		if err := w.Write(v); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
