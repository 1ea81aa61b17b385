package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clmmBacktest/internal/config"
	"clmmBacktest/internal/ledger"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/replay"
	"clmmBacktest/internal/report"
	"clmmBacktest/internal/storage"
	"clmmBacktest/internal/storage/postgres"
)

// eventSource opens a pool's event stream from a JSONL file or Postgres.
type eventSource struct {
	cfg   config.SourceConfig
	pool  string
	store *postgres.Store
}

// openSource connects to Postgres when a DSN is set, even for file events,
// since prices and saved runs live there too.
func openSource(ctx context.Context, cfg config.SourceConfig, pool string) (*eventSource, error) {
	src := &eventSource{cfg: cfg, pool: pool}
	if cfg.PGDSN == "" {
		return src, nil
	}
	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	src.store = store
	return src, nil
}

func (s *eventSource) Open(ctx context.Context, to uint64) (storage.Cursor, error) {
	if s.cfg.Events != "" {
		cursor, err := storage.OpenEventFile(s.cfg.Events)
		if err != nil {
			return nil, err
		}
		return storage.FilterPool(cursor, s.pool), nil
	}
	cursor, err := s.store.Events(ctx, s.pool, 0, to)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (s *eventSource) Close() {
	if s.store != nil {
		s.store.Close()
	}
}

// seedPool builds the empty pool and, when configured, starts it at a price.
// Otherwise the history must begin with an initialize event.
func seedPool(cfg config.PoolConfig) (*pool.State, error) {
	p, err := pool.New(cfg.Fee, cfg.TickSpacing)
	if err != nil {
		return nil, err
	}
	switch {
	case cfg.InitialSqrtPrice != nil:
		err = p.Initialize(cfg.InitialSqrtPrice)
	case cfg.InitialTick != nil:
		err = p.InitializeAtTick(*cfg.InitialTick)
	}
	if err != nil {
		return nil, fmt.Errorf("seed pool: %w", err)
	}
	return p, nil
}

func tokenPair(cfg config.PoolConfig) report.Pair {
	return report.Pair{
		Token0: report.Token{Symbol: cfg.Token0.Symbol, Decimals: cfg.Token0.Decimals},
		Token1: report.Token{Symbol: cfg.Token1.Symbol, Decimals: cfg.Token1.Decimals},
	}
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReplay(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	p, err := seedPool(cfg.Pool)
	if err != nil {
		return err
	}
	src, err := openSource(ctx, cfg.Source, cfg.Pool.Address)
	if err != nil {
		return err
	}
	defer src.Close()
	cursor, err := src.Open(ctx, cfg.Until)
	if err != nil {
		return err
	}
	defer cursor.Close()

	logger.Info("replay start",
		zap.String("pool", cfg.Pool.Address),
		zap.String("events", cfg.Source.Events),
		zap.Bool("seeded", p.Initialized()),
		zap.Uint64("until", cfg.Until),
	)

	res, runErr := replay.Run(ctx, cursor, p, ledger.New(), replay.Options{
		MaxGap: cfg.MaxGap,
		Until:  cfg.Until,
		Logger: logger,
	})
	if res != nil {
		report.WriteReplay(os.Stdout, res, tokenPair(cfg.Pool))
	}
	var inv *model.InvariantError
	if errors.As(runErr, &inv) {
		fields := []zap.Field{zap.String("reason", inv.Reason)}
		if inv.Event != nil {
			fields = append(fields, zap.String("event", inv.Event.String()))
		}
		if inv.Pool != nil {
			fields = append(fields, zap.Int32("tick", inv.Pool.Tick), zap.String("liquidity", inv.Pool.Liquidity))
		}
		logger.Error("replay halted", fields...)
	}
	return runErr
}
