package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"clmmBacktest/internal/ledger"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/storage"
)

// Stats counts what a replay applied.
type Stats struct {
	Events       int                    `json:"events"`
	Initializes  int                    `json:"initializes"`
	Swaps        int                    `json:"swaps"`
	Adds         int                    `json:"adds"`
	Removes      int                    `json:"removes"`
	Collects     int                    `json:"collects"`
	PartialFills int                    `json:"partial_fills"`
	TicksCrossed int                    `json:"ticks_crossed"`
	Volume0      *uint256.Int           `json:"volume0"`
	Volume1      *uint256.Int           `json:"volume1"`
	Fees0        *uint256.Int           `json:"fees0"`
	Fees1        *uint256.Int           `json:"fees1"`
	FirstTs      uint64                 `json:"first_ts"`
	LastTs       uint64                 `json:"last_ts"`
	Gaps         []model.DataGapWarning `json:"gaps,omitempty"`
}

func NewStats() *Stats {
	return &Stats{
		Volume0: new(uint256.Int),
		Volume1: new(uint256.Int),
		Fees0:   new(uint256.Int),
		Fees1:   new(uint256.Int),
	}
}

// Record folds one applied event into the counters.
func (s *Stats) Record(out Outcome) {
	ev := out.Event
	s.Events++
	if s.FirstTs == 0 || ev.Timestamp < s.FirstTs {
		s.FirstTs = ev.Timestamp
	}
	if ev.Timestamp > s.LastTs {
		s.LastTs = ev.Timestamp
	}
	switch ev.Kind {
	case model.EventInitialize:
		s.Initializes++
	case model.EventSwap:
		s.Swaps++
		if out.Swap == nil {
			return
		}
		s.Volume0.Add(s.Volume0, out.Amount0)
		s.Volume1.Add(s.Volume1, out.Amount1)
		if out.Swap.ZeroForOne {
			s.Fees0.Add(s.Fees0, out.Swap.FeePaid)
		} else {
			s.Fees1.Add(s.Fees1, out.Swap.FeePaid)
		}
		if out.Swap.LimitReached {
			s.PartialFills++
		}
		s.TicksCrossed += len(out.Swap.TicksCrossed)
	case model.EventAddLiquidity:
		s.Adds++
	case model.EventRemoveLiquidity:
		s.Removes++
	case model.EventCollectFees:
		s.Collects++
	}
}

// Options configures a plain pool replay.
type Options struct {
	MaxGap time.Duration
	// Until stops the replay after the last event at or before this timestamp. Zero means no bound.
	Until  uint64
	Logger *zap.Logger
}

// Result is the outcome of a plain pool replay.
type Result struct {
	Stats      *Stats            `json:"stats"`
	Pool       model.PoolSummary `json:"pool"`
	Positions  int               `json:"positions"`
	Incomplete bool              `json:"incomplete"`
}

// Run replays every event from cursor into p and l. A fatal error returns the
// partial result alongside it.
func Run(ctx context.Context, cursor storage.Cursor, p *pool.State, l *ledger.Ledger, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	app := NewApplicator(p, l)
	gaps := &GapDetector{MaxGap: opts.MaxGap}
	stats := NewStats()
	result := func(incomplete bool) *Result {
		return &Result{Stats: stats, Pool: p.Summary(), Positions: l.Len(), Incomplete: incomplete}
	}

	for {
		if err := ctx.Err(); err != nil {
			return result(true), err
		}
		ev, err := cursor.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result(true), fmt.Errorf("read event: %w", err)
		}
		if opts.Until > 0 && ev.Timestamp > opts.Until {
			break
		}
		if warn := gaps.Observe(ev); warn != nil {
			stats.Gaps = append(stats.Gaps, *warn)
			logger.Warn("data gap", zap.String("reason", warn.Reason), zap.Uint64("block", warn.BlockNumber), zap.Uint64("log_index", warn.LogIndex))
		}
		out, err := app.Apply(ev)
		if err != nil {
			return result(true), err
		}
		stats.Record(out)
	}

	logger.Info("replay complete",
		zap.Int("events", stats.Events),
		zap.Int("swaps", stats.Swaps),
		zap.Int("gaps", len(stats.Gaps)),
		zap.Int32("tick", p.Tick),
	)
	return result(false), nil
}
