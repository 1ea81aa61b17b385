package strategy

import (
	"fmt"

	"clmmBacktest/internal/backtest"
)

// SimpleRebalance keeps one range centered on the price and recenters it as
// soon as the price leaves it.
type SimpleRebalance struct {
	width   int32
	amounts amounts
}

func NewSimpleRebalance(params backtest.Params) (backtest.Strategy, error) {
	width, err := widthParam(params)
	if err != nil {
		return nil, err
	}
	a, err := amountParams(params)
	if err != nil {
		return nil, err
	}
	return &SimpleRebalance{width: width, amounts: a}, nil
}

func (s *SimpleRebalance) Decide(snap backtest.Snapshot, own []backtest.PositionView, _ uint64, _ backtest.Params) ([]backtest.Action, error) {
	lower, upper := centeredRange(snap.Tick, snap.TickSpacing, s.width)
	if len(own) == 0 {
		a0, a1 := s.amounts.cloned()
		return []backtest.Action{backtest.Open(lower, upper, a0, a1)}, nil
	}
	var actions []backtest.Action
	for _, pos := range own {
		if !inRange(snap.Tick, pos) {
			actions = append(actions, backtest.Rebalance(pos.ID, lower, upper, nil, nil))
		}
	}
	return actions, nil
}

// OutOfRange recenters only after the price has stayed outside the range for
// a number of consecutive decision points.
type OutOfRange struct {
	width     int32
	threshold int
	amounts   amounts
	outside   int
}

func NewOutOfRange(params backtest.Params) (backtest.Strategy, error) {
	width, err := widthParam(params)
	if err != nil {
		return nil, err
	}
	threshold, err := params.Int("out_of_range_events", 10)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("out_of_range_events must be positive: %d", threshold)
	}
	a, err := amountParams(params)
	if err != nil {
		return nil, err
	}
	return &OutOfRange{width: width, threshold: int(threshold), amounts: a}, nil
}

func (s *OutOfRange) Decide(snap backtest.Snapshot, own []backtest.PositionView, _ uint64, _ backtest.Params) ([]backtest.Action, error) {
	lower, upper := centeredRange(snap.Tick, snap.TickSpacing, s.width)
	if len(own) == 0 {
		s.outside = 0
		a0, a1 := s.amounts.cloned()
		return []backtest.Action{backtest.Open(lower, upper, a0, a1)}, nil
	}
	pos := own[0]
	if inRange(snap.Tick, pos) {
		s.outside = 0
		return nil, nil
	}
	s.outside++
	if s.outside < s.threshold {
		return nil, nil
	}
	s.outside = 0
	return []backtest.Action{backtest.Rebalance(pos.ID, lower, upper, nil, nil)}, nil
}
