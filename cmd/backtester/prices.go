package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clmmBacktest/internal/pricing"
	"clmmBacktest/internal/report"
	"clmmBacktest/internal/storage"
	"clmmBacktest/internal/storage/postgres"
)

const priceBatchSize = 1000

func runPrices(cmd *cobra.Command, _ []string) error {
	in, _ := cmd.Flags().GetString("in")
	dsn, _ := cmd.Flags().GetString("pg-dsn")
	level, _ := cmd.Flags().GetString("log-level")
	if in == "" {
		return fmt.Errorf("in is required")
	}
	if dsn == "" {
		return fmt.Errorf("pg-dsn is required")
	}

	logger, err := newLogger(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	var (
		batch []pricing.Point
		total int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := store.UpsertPrices(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}
	err = storage.ScanJSONL(in, func(line int, raw []byte) error {
		var p pricing.Point
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("prices line %d: %w", line, err)
		}
		if p.Token == "" {
			return fmt.Errorf("prices line %d: missing token", line)
		}
		batch = append(batch, p)
		if len(batch) >= priceBatchSize {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return err
	}

	logger.Info("prices stored", zap.String("in", in), zap.Int("points", total))
	return nil
}

func runRuns(cmd *cobra.Command, _ []string) error {
	poolAddr, _ := cmd.Flags().GetString("pool")
	dsn, _ := cmd.Flags().GetString("pg-dsn")
	if poolAddr == "" || dsn == "" {
		return fmt.Errorf("pool and pg-dsn are required")
	}

	ctx, stop := signalContext()
	defer stop()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	runs, err := store.Runs(ctx, poolAddr)
	if err != nil {
		return err
	}
	report.WriteRuns(os.Stdout, runs)
	return nil
}
