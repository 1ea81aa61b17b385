package strategy

import (
	"fmt"

	"clmmBacktest/internal/backtest"
)

// NoRebalance opens one fixed range and holds it. A rejected open is retried
// at the next decision point until a position exists.
type NoRebalance struct {
	lower   int32
	upper   int32
	amounts amounts
	opened  bool
}

func NewNoRebalance(params backtest.Params) (backtest.Strategy, error) {
	lower, err := tickParam(params, "lower_tick")
	if err != nil {
		return nil, err
	}
	upper, err := tickParam(params, "upper_tick")
	if err != nil {
		return nil, err
	}
	if lower >= upper {
		return nil, fmt.Errorf("lower_tick %d must be below upper_tick %d", lower, upper)
	}
	a, err := amountParams(params)
	if err != nil {
		return nil, err
	}
	return &NoRebalance{lower: lower, upper: upper, amounts: a}, nil
}

func (s *NoRebalance) Decide(_ backtest.Snapshot, own []backtest.PositionView, _ uint64, _ backtest.Params) ([]backtest.Action, error) {
	if s.opened || len(own) > 0 {
		s.opened = true
		return nil, nil
	}
	a0, a1 := s.amounts.cloned()
	return []backtest.Action{backtest.Open(s.lower, s.upper, a0, a1)}, nil
}
