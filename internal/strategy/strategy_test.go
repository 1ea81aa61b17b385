package strategy

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/backtest"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/storage"
	"clmmBacktest/internal/tickmath"
)

func snapshot(tick int32) backtest.Snapshot {
	return backtest.Snapshot{Tick: tick, TickSpacing: 60}
}

func position(id string, lower, upper int32) backtest.PositionView {
	return backtest.PositionView{ID: id, Lower: lower, Upper: upper, Liquidity: uint256.NewInt(1)}
}

func countOpens(actions []backtest.Action) int {
	n := 0
	for _, a := range actions {
		if a.Kind == backtest.ActionOpen || a.Kind == backtest.ActionRebalance {
			n++
		}
	}
	return n
}

func TestNoRebalanceNeverOpensTwice(t *testing.T) {
	s, err := New("no_rebalance", backtest.Params{"lower_tick": -600, "upper_tick": 600, "token_a_amount": "1000"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	opens := 0
	var own []backtest.PositionView
	for i := 0; i < 100; i++ {
		actions, err := s.Decide(snapshot(int32(i*97-5000)), own, uint64(i), nil)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		opens += countOpens(actions)
		if i == 0 {
			if len(actions) != 1 || actions[0].Lower != -600 || actions[0].Upper != 600 || actions[0].Amount0.Uint64() != 1000 {
				t.Fatalf("unexpected first actions %+v", actions)
			}
			own = []backtest.PositionView{position("strategy:1", -600, 600)}
		}
		if i == 50 {
			// losing the position must not trigger a reopen either
			own = nil
		}
	}
	if opens != 1 {
		t.Fatalf("expected exactly one open, got %d", opens)
	}
}

func TestNoRebalanceRetriesRejectedOpen(t *testing.T) {
	s, err := New("no_rebalance", backtest.Params{"lower_tick": -600, "upper_tick": 600})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// the runner rejected the first two opens, so no position shows up
	for i := 0; i < 3; i++ {
		actions, err := s.Decide(snapshot(0), nil, uint64(i), nil)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if countOpens(actions) != 1 {
			t.Fatalf("decision %d: expected an open, got %+v", i, actions)
		}
	}
	own := []backtest.PositionView{position("strategy:1", -600, 600)}
	if actions, _ := s.Decide(snapshot(0), own, 3, nil); len(actions) != 0 {
		t.Fatalf("held position should stop opens: %+v", actions)
	}
	if actions, _ := s.Decide(snapshot(0), nil, 4, nil); len(actions) != 0 {
		t.Fatalf("lost position must not be reopened: %+v", actions)
	}
}

func TestNoRebalanceInBacktestOpensOnce(t *testing.T) {
	ratio, err := tickmath.SqrtRatioAtTick(0)
	if err != nil {
		t.Fatalf("ratio: %v", err)
	}
	events := []model.Event{
		{Kind: model.EventInitialize, Timestamp: 1, Initialize: &model.InitializeParams{SqrtPriceX96: ratio}},
		{Kind: model.EventAddLiquidity, Timestamp: 1, LogIndex: 1, Add: &model.AddLiquidityParams{
			Owner: "0xLP", TickLower: -60000, TickUpper: 60000, Liquidity: uint256.NewInt(1_000_000_000_000),
		}},
	}
	for i := 0; i < 40; i++ {
		// large one-directional flow pushes the price out of the strategy's range
		events = append(events, model.Event{
			Kind:        model.EventSwap,
			Timestamp:   uint64(10 + i),
			BlockNumber: uint64(1 + i),
			Swap:        &model.SwapParams{AmountIn: uint256.NewInt(5_000_000_000), ZeroForOne: true},
		})
	}
	s, err := New("no_rebalance", backtest.Params{"lower_tick": -120, "upper_tick": 120})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	p, err := pool.New(3000, 60)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	r, err := backtest.NewRunner(backtest.Config{
		InitialToken0: uint256.NewInt(1_000_000),
		InitialToken1: uint256.NewInt(1_000_000),
		From:          5,
	}, p, s, nil)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	res, err := r.Run(context.Background(), storage.NewSliceCursor(events))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Summary.DecisionPoints != 40 {
		t.Fatalf("decision points %d", res.Summary.DecisionPoints)
	}
	if res.Summary.Opens != 1 {
		t.Fatalf("expected one open, got %d", res.Summary.Opens)
	}
	if res.Summary.InPositionSwaps >= res.Summary.SwapCount {
		t.Fatalf("price should have left the fixed range: %d/%d", res.Summary.InPositionSwaps, res.Summary.SwapCount)
	}
}

func TestSimpleRebalanceRecentersOutOfRange(t *testing.T) {
	s, err := New("simple_rebalance", backtest.Params{"range": 600})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	actions, err := s.Decide(snapshot(0), nil, 0, nil)
	if err != nil || len(actions) != 1 || actions[0].Kind != backtest.ActionOpen {
		t.Fatalf("expected open, got %+v %v", actions, err)
	}
	if actions[0].Lower != -300 || actions[0].Upper != 300 {
		t.Fatalf("range [%d,%d)", actions[0].Lower, actions[0].Upper)
	}

	own := []backtest.PositionView{position("strategy:1", -300, 300)}
	if actions, _ := s.Decide(snapshot(299), own, 1, nil); len(actions) != 0 {
		t.Fatalf("in range should hold, got %+v", actions)
	}
	actions, _ = s.Decide(snapshot(1000), own, 2, nil)
	if len(actions) != 1 || actions[0].Kind != backtest.ActionRebalance || actions[0].PositionID != "strategy:1" {
		t.Fatalf("expected rebalance, got %+v", actions)
	}
	if actions[0].Lower != 660 || actions[0].Upper != 1260 {
		t.Fatalf("recentered range [%d,%d)", actions[0].Lower, actions[0].Upper)
	}
	// upper bound is exclusive
	if actions, _ := s.Decide(snapshot(300), own, 3, nil); len(actions) != 1 {
		t.Fatalf("tick at upper bound is out of range")
	}
}

func TestOutOfRangeWaitsForConsecutiveEvents(t *testing.T) {
	s, err := New("out_of_range", backtest.Params{"range": 600, "out_of_range_events": 3})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	own := []backtest.PositionView{position("strategy:1", -300, 300)}
	ticks := []int32{500, 500, 0, 500, 500}
	for i, tick := range ticks {
		if actions, _ := s.Decide(snapshot(tick), own, uint64(i), nil); len(actions) != 0 {
			t.Fatalf("step %d: unexpected %+v", i, actions)
		}
	}
	actions, _ := s.Decide(snapshot(500), own, 9, nil)
	if len(actions) != 1 || actions[0].Kind != backtest.ActionRebalance {
		t.Fatalf("expected rebalance after three outside decisions, got %+v", actions)
	}
	if actions, _ := s.Decide(snapshot(500), own, 10, nil); len(actions) != 0 {
		t.Fatalf("counter should reset after rebalance")
	}
}

func TestCenteredRange(t *testing.T) {
	cases := []struct {
		tick, spacing, width int32
		lower, upper         int32
	}{
		{0, 60, 600, -300, 300},
		{7, 60, 100, -60, 60},
		{-1, 10, 10, -20, 0},
		{887200, 60, 600, 886620, 887220},
	}
	for _, tc := range cases {
		lower, upper := centeredRange(tc.tick, tc.spacing, tc.width)
		if lower != tc.lower || upper != tc.upper {
			t.Fatalf("centeredRange(%d,%d,%d) = [%d,%d), want [%d,%d)", tc.tick, tc.spacing, tc.width, lower, upper, tc.lower, tc.upper)
		}
		if lower%tc.spacing != 0 || upper%tc.spacing != 0 {
			t.Fatalf("unaligned range [%d,%d)", lower, upper)
		}
	}
}

func TestRegistryErrors(t *testing.T) {
	if _, err := New("martingale", nil); err == nil {
		t.Fatalf("unknown strategy should fail")
	}
	if _, err := New("no_rebalance", backtest.Params{"lower_tick": 60}); err == nil {
		t.Fatalf("missing upper_tick should fail")
	}
	if _, err := New("simple_rebalance", backtest.Params{"range": -5}); err == nil {
		t.Fatalf("negative range should fail")
	}
	if len(Names()) != 3 {
		t.Fatalf("names %v", Names())
	}
}
