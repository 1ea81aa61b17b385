package pool

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/tickmath"
)

var (
	ErrNotInitialized      = errors.New("pool not initialized")
	ErrAlreadyInitialized  = errors.New("pool already initialized")
	ErrTickNotAligned      = errors.New("tick not aligned to spacing")
	ErrInvalidRange        = errors.New("invalid tick range")
	ErrTickNotInitialized  = errors.New("tick not initialized")
	ErrPriceLimit          = errors.New("sqrt price limit on wrong side of price")
	ErrFeeWithoutLiquidity = errors.New("fee accrued with zero active liquidity")
)

// State is the replayed state of one concentrated-liquidity pool.
// It is not safe for concurrent use.
type State struct {
	Fee         uint32
	TickSpacing int32

	SqrtPriceX96         *uint256.Int
	Tick                 int32
	Liquidity            *uint256.Int
	FeeGrowthGlobal0X128 *uint256.Int
	FeeGrowthGlobal1X128 *uint256.Int

	ticks  map[int32]*Tick
	sorted []int32
}

// New creates an uninitialized pool.
func New(fee uint32, tickSpacing int32) (*State, error) {
	if tickSpacing <= 0 {
		return nil, fmt.Errorf("tick spacing must be positive: %d", tickSpacing)
	}
	if uint64(fee) >= tickmath.FeeDenominator {
		return nil, tickmath.ErrInvalidFee
	}
	return &State{
		Fee:                  fee,
		TickSpacing:          tickSpacing,
		SqrtPriceX96:         new(uint256.Int),
		Liquidity:            new(uint256.Int),
		FeeGrowthGlobal0X128: new(uint256.Int),
		FeeGrowthGlobal1X128: new(uint256.Int),
		ticks:                make(map[int32]*Tick),
	}, nil
}

// Initialized reports whether a starting price has been set.
func (s *State) Initialized() bool {
	return !s.SqrtPriceX96.IsZero()
}

// Initialize sets the starting price. It may only be called once.
func (s *State) Initialize(sqrtPriceX96 *uint256.Int) error {
	if s.Initialized() {
		return ErrAlreadyInitialized
	}
	tick, err := tickmath.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return err
	}
	s.SqrtPriceX96 = sqrtPriceX96.Clone()
	s.Tick = tick
	return nil
}

// InitializeAtTick sets the starting price to the sqrt ratio of tick.
func (s *State) InitializeAtTick(tick int32) error {
	ratio, err := tickmath.SqrtRatioAtTick(tick)
	if err != nil {
		return err
	}
	return s.Initialize(ratio)
}

// Clone returns a deep copy sharing no mutable data with s.
func (s *State) Clone() *State {
	c := &State{
		Fee:                  s.Fee,
		TickSpacing:          s.TickSpacing,
		SqrtPriceX96:         s.SqrtPriceX96.Clone(),
		Tick:                 s.Tick,
		Liquidity:            s.Liquidity.Clone(),
		FeeGrowthGlobal0X128: s.FeeGrowthGlobal0X128.Clone(),
		FeeGrowthGlobal1X128: s.FeeGrowthGlobal1X128.Clone(),
		ticks:                make(map[int32]*Tick, len(s.ticks)),
		sorted:               append([]int32(nil), s.sorted...),
	}
	for idx, t := range s.ticks {
		c.ticks[idx] = t.clone()
	}
	return c
}

// Summary is a printable snapshot of the pool's scalar state.
func (s *State) Summary() model.PoolSummary {
	return model.PoolSummary{
		SqrtPriceX96:         s.SqrtPriceX96.Dec(),
		Tick:                 s.Tick,
		Liquidity:            s.Liquidity.Dec(),
		FeeGrowthGlobal0X128: s.FeeGrowthGlobal0X128.Dec(),
		FeeGrowthGlobal1X128: s.FeeGrowthGlobal1X128.Dec(),
		InitializedTicks:     len(s.sorted),
		Fee:                  s.Fee,
		TickSpacing:          s.TickSpacing,
	}
}

// CheckTicks validates a position range against the pool's spacing and tick bounds.
func (s *State) CheckTicks(lower, upper int32) error {
	if lower >= upper {
		return fmt.Errorf("%w: lower %d >= upper %d", ErrInvalidRange, lower, upper)
	}
	if lower < tickmath.MinTick || upper > tickmath.MaxTick {
		return fmt.Errorf("%w: [%d, %d)", tickmath.ErrTickOutOfRange, lower, upper)
	}
	if lower%s.TickSpacing != 0 || upper%s.TickSpacing != 0 {
		return fmt.Errorf("%w: [%d, %d) spacing %d", ErrTickNotAligned, lower, upper, s.TickSpacing)
	}
	return nil
}

// InRange reports whether the current tick lies in [lower, upper).
func (s *State) InRange(lower, upper int32) bool {
	return lower <= s.Tick && s.Tick < upper
}
