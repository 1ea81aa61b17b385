package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "backtester",
		Short:        "Concentrated liquidity pool replay and strategy backtester",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Pull pool logs from an RPC node into replay events",
		RunE:  runIngest,
	}

	ingestCmd.Flags().String("rpc", "", "RPC URL")
	ingestCmd.Flags().Uint64("chain-id", 0, "expected chain id, 0 skips the check")
	ingestCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	ingestCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	ingestCmd.Flags().StringSlice("address", nil, "pool addresses (comma-separated)")
	ingestCmd.Flags().StringSlice("topic0", nil, "topic0 filter (comma-separated), defaults to every pool event")
	ingestCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	ingestCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	ingestCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL path")
	ingestCmd.Flags().String("raw-out", "", "optional raw logs JSONL path")
	ingestCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	ingestCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	ingestCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	ingestCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	ingestCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	ingestCmd.Flags().Bool("swap-price-limit", false, "use each swap's final price as its replay price limit")
	ingestCmd.Flags().String("pg-dsn", "", "Postgres DSN; also keeps the checkpoint in indexer_state")
	ingestCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(ingestCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode raw logs into replay events",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("rpc", "", "optional RPC URL for pool metadata")
	decodeCmd.Flags().String("in", "", "input raw logs JSONL")
	decodeCmd.Flags().String("out", "./data/events.jsonl", "output events JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	decodeCmd.Flags().Bool("swap-price-limit", false, "use each swap's final price as its replay price limit")
	decodeCmd.Flags().String("pg-dsn", "", "optional Postgres DSN to store decoded events")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a pool's history without a strategy",
		RunE:  runReplay,
	}
	addPoolFlags(replayCmd)
	replayCmd.Flags().String("until", "", "stop after this timestamp (unix seconds or RFC3339)")
	replayCmd.Flags().Duration("max-gap", 6*time.Hour, "warn when consecutive events are further apart")
	replayCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(replayCmd)

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run one strategy over a pool's history",
		RunE:  runBacktest,
	}
	addBacktestFlags(backtestCmd)
	backtestCmd.Flags().String("strategy", "", "strategy name")
	backtestCmd.Flags().String("params", "", "strategy params (comma-separated key=value)")

	root.AddCommand(backtestCmd)

	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Run the strategies listed in the config file side by side",
		RunE:  runCompare,
	}
	addBacktestFlags(compareCmd)
	compareCmd.Flags().Int("parallel", 4, "runs executed at once")

	root.AddCommand(compareCmd)

	pricesCmd := &cobra.Command{
		Use:   "prices",
		Short: "Load a USD price series file into Postgres",
		RunE:  runPrices,
	}
	pricesCmd.Flags().String("in", "", "price points JSONL")
	pricesCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	pricesCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(pricesCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved backtest runs of a pool",
		RunE:  runRuns,
	}
	runsCmd.Flags().String("pool", "", "pool address")
	runsCmd.Flags().String("pg-dsn", "", "Postgres DSN")

	root.AddCommand(runsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addPoolFlags(cmd *cobra.Command) {
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().String("token0", "", "token0 address")
	cmd.Flags().String("token0-symbol", "", "token0 symbol")
	cmd.Flags().Uint("token0-decimals", 0, "token0 decimals")
	cmd.Flags().String("token1", "", "token1 address")
	cmd.Flags().String("token1-symbol", "", "token1 symbol")
	cmd.Flags().Uint("token1-decimals", 0, "token1 decimals")
	cmd.Flags().Uint32("fee", 3000, "pool fee in hundredths of a bip")
	cmd.Flags().Int32("tick-spacing", 60, "pool tick spacing")
	cmd.Flags().String("initial-sqrt-price", "", "starting sqrtPriceX96 when the history has no initialize event")
	cmd.Flags().String("initial-tick", "", "starting tick when the history has no initialize event")
	cmd.Flags().String("events", "", "events JSONL path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN, used for events when --events is empty")
}

func addBacktestFlags(cmd *cobra.Command) {
	addPoolFlags(cmd)
	cmd.Flags().String("from", "", "window start (unix seconds or RFC3339)")
	cmd.Flags().String("to", "", "window end (unix seconds or RFC3339)")
	cmd.Flags().String("token0-amount", "", "initial token0 balance (raw units)")
	cmd.Flags().String("token1-amount", "", "initial token1 balance (raw units)")
	cmd.Flags().Int("decision-every", 0, "decide every N events")
	cmd.Flags().Duration("decision-interval", time.Hour, "decide at most once per interval")
	cmd.Flags().Bool("decision-on-liquidity", false, "decide after every add or remove")
	cmd.Flags().Float64("swap-tolerance", 0.05, "wallet imbalance tolerated before a rebalancing swap")
	cmd.Flags().Uint32("max-slippage-bps", 100, "price move allowed for a rebalancing swap")
	cmd.Flags().Bool("close-at-end", true, "close open positions when the window ends")
	cmd.Flags().Duration("max-gap", 6*time.Hour, "warn when consecutive events are further apart")
	cmd.Flags().String("prices", "", "USD price points JSONL")
	cmd.Flags().String("static-prices", "", "fixed USD prices (comma-separated token=price)")
	cmd.Flags().String("samples-out", "./data/samples.jsonl", "portfolio samples JSONL")
	cmd.Flags().String("positions-out", "./data/positions.jsonl", "position lifecycle JSONL")
	cmd.Flags().Bool("save-run", false, "store the run in Postgres")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
