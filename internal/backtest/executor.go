package backtest

import (
	"errors"
	"fmt"
	"slices"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
	"clmmBacktest/internal/tickmath"
)

var bpsDenominator = uint256.NewInt(10_000)

func invalid(act Action, format string, args ...any) error {
	return &model.InvalidActionError{Action: string(act.Kind), Reason: fmt.Sprintf(format, args...)}
}

func (r *Runner) execute(act Action, ts uint64) error {
	switch act.Kind {
	case ActionOpen:
		return r.open(act, ts)
	case ActionClose:
		return r.close(act, ts)
	case ActionRebalance:
		if err := r.close(act, ts); err != nil {
			return err
		}
		return r.open(act, ts)
	default:
		return invalid(act, "unknown action kind %q", act.Kind)
	}
}

// synthetic builds a strategy event that sorts right after the last historical one.
func (r *Runner) synthetic(kind model.EventKind, ts uint64) model.Event {
	return model.Event{
		Kind:        kind,
		Pool:        r.cfg.Pool,
		Timestamp:   ts,
		BlockNumber: r.lastBlock,
		LogIndex:    r.lastLogIndex,
		Synthetic:   true,
	}
}

// openPlan is an open worked out on a copy of the pool. Nothing touches the
// live pool or wallet until the whole plan is known to succeed.
type openPlan struct {
	swap      *model.SwapParams
	liquidity *uint256.Int
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}

func (r *Runner) open(act Action, ts uint64) error {
	p := r.app.Pool
	if err := p.CheckTicks(act.Lower, act.Upper); err != nil {
		return invalid(act, "%v", err)
	}
	amount0, amount1 := act.Amount0, act.Amount1
	if isZero(amount0) && isZero(amount1) {
		amount0, amount1 = r.wallet.Token0.Clone(), r.wallet.Token1.Clone()
	}
	if amount0 == nil {
		amount0 = new(uint256.Int)
	}
	if amount1 == nil {
		amount1 = new(uint256.Int)
	}
	if amount0.IsZero() && amount1.IsZero() {
		return invalid(act, "nothing to deposit")
	}
	if !r.wallet.Covers(amount0, amount1) {
		return invalid(act, "insufficient balance: have %s/%s, want %s/%s",
			r.wallet.Token0.Dec(), r.wallet.Token1.Dec(), amount0.Dec(), amount1.Dec())
	}

	plan, err := r.planOpen(act, amount0.Clone(), amount1.Clone())
	if err != nil {
		return err
	}
	if plan.swap != nil {
		if err := r.rebalanceSwap(plan.swap, ts); err != nil {
			return err
		}
	}
	liquidity := plan.liquidity

	r.seq++
	id := fmt.Sprintf("%s:%d", r.cfg.Owner, r.seq)
	ev := r.synthetic(model.EventAddLiquidity, ts)
	ev.Add = &model.AddLiquidityParams{
		PositionID: id,
		Owner:      r.cfg.Owner,
		TickLower:  act.Lower,
		TickUpper:  act.Upper,
		Liquidity:  liquidity,
	}
	out, err := r.app.Apply(ev)
	if err != nil {
		return fmt.Errorf("open %s: %w", id, err)
	}
	if err := r.wallet.Debit(out.Amount0, out.Amount1); err != nil {
		return fmt.Errorf("open %s: %w", id, err)
	}

	r.own = append(r.own, id)
	r.tracked[id] = &trackedPosition{openedAt: ts, volume0: new(uint256.Int), volume1: new(uint256.Int)}
	r.result.Summary.Opens++
	s := r.result.Summary
	r.result.Positions = append(r.result.Positions, PositionLogEntry{
		Type:            LogCreatePosition,
		PositionID:      id,
		Timestamp:       ts,
		Lower:           act.Lower,
		Upper:           act.Upper,
		CurrentTick:     p.Tick,
		Liquidity:       liquidity.Clone(),
		Amount0:         out.Amount0,
		Amount1:         out.Amount1,
		Wallet0:         r.wallet.Token0.Clone(),
		Wallet1:         r.wallet.Token1.Clone(),
		ActiveLiquidity: p.Liquidity.Clone(),
		SwapCount:       s.SwapCount,
		Volume0:         s.Volume0.Clone(),
		Volume1:         s.Volume1.Clone(),
	})
	r.logger.Debug("position opened",
		zap.String("id", id),
		zap.Int32("lower", act.Lower),
		zap.Int32("upper", act.Upper),
		zap.String("liquidity", liquidity.Dec()),
		zap.Int32("tick", p.Tick),
	)
	return nil
}

// planOpen runs the rebalance swap and sizes the liquidity on a clone of the
// pool. A failure here rejects the open with the live state untouched.
func (r *Runner) planOpen(act Action, amount0, amount1 *uint256.Int) (openPlan, error) {
	dry := r.app.Pool.Clone()
	sqrtA, err := tickmath.SqrtRatioAtTick(act.Lower)
	if err != nil {
		return openPlan{}, invalid(act, "%v", err)
	}
	sqrtB, err := tickmath.SqrtRatioAtTick(act.Upper)
	if err != nil {
		return openPlan{}, invalid(act, "%v", err)
	}

	var plan openPlan
	if plan.swap, err = r.balanceForRange(act, dry, sqrtA, sqrtB, amount0, amount1); err != nil {
		return openPlan{}, err
	}
	if plan.swap != nil {
		res, err := dry.Swap(plan.swap.AmountIn, plan.swap.ZeroForOne, plan.swap.SqrtPriceLimitX96)
		if err != nil {
			return openPlan{}, invalid(act, "rebalance swap: %v", err)
		}
		if plan.swap.ZeroForOne {
			amount0.Sub(amount0, res.AmountIn)
			amount1.Add(amount1, res.AmountOut)
		} else {
			amount1.Sub(amount1, res.AmountIn)
			amount0.Add(amount0, res.AmountOut)
		}
	}

	liquidity, err := tickmath.LiquidityForAmounts(dry.SqrtPriceX96, sqrtA, sqrtB, amount0, amount1)
	if err != nil {
		return openPlan{}, invalid(act, "%v", err)
	}
	// deposits round up, so shave liquidity until the wallet covers them
	for attempt := 0; ; attempt++ {
		if liquidity.IsZero() {
			return openPlan{}, invalid(act, "amounts too small for range [%d,%d)", act.Lower, act.Upper)
		}
		change, err := dry.PrepareModify(act.Lower, act.Upper, liquidity)
		if err != nil {
			return openPlan{}, invalid(act, "%v", err)
		}
		if !change.Amount0.Gt(amount0) && !change.Amount1.Gt(amount1) {
			break
		}
		if attempt == 3 {
			return openPlan{}, invalid(act, "cannot fit deposit into balance")
		}
		shave := new(uint256.Int).Div(liquidity, uint256.NewInt(1_000_000))
		shave.AddUint64(shave, 1)
		if shave.Gt(liquidity) {
			shave.Set(liquidity)
		}
		liquidity.Sub(liquidity, shave)
	}
	plan.liquidity = liquidity
	return plan, nil
}

// balanceForRange works out the swap that makes the token split match what
// the range needs at the current price of p. It returns nil when the
// imbalance is within the tolerance.
func (r *Runner) balanceForRange(act Action, p *pool.State, sqrtA, sqrtB, amount0, amount1 *uint256.Int) (*model.SwapParams, error) {
	sqrtP := p.SqrtPriceX96

	unit0, unit1, err := tickmath.AmountsForLiquidity(sqrtP, sqrtA, sqrtB, tickmath.Q96, false)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}
	unitValue0, err := ToToken1(unit0, sqrtP)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}
	held0, err := ToToken1(amount0, sqrtP)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}
	total := new(uint256.Int).Add(held0, amount1)
	denom := new(uint256.Int).Add(unitValue0, unit1)
	if total.IsZero() || denom.IsZero() {
		return nil, nil
	}
	target0, err := tickmath.MulDiv(total, unitValue0, denom)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}

	zeroForOne := held0.Gt(target0)
	diff := new(uint256.Int)
	if zeroForOne {
		diff.Sub(held0, target0)
	} else {
		diff.Sub(target0, held0)
	}
	tolerance, err := tickmath.MulDiv(total, uint256.NewInt(uint64(r.cfg.SwapToleranceBps)), bpsDenominator)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}
	if !diff.Gt(tolerance) {
		return nil, nil
	}

	amountIn := diff
	if zeroForOne {
		if amountIn, err = ToToken0(diff, sqrtP); err != nil {
			return nil, invalid(act, "%v", err)
		}
		if amountIn.Gt(amount0) {
			amountIn = amount0.Clone()
		}
	} else if amountIn.Gt(amount1) {
		amountIn = amount1.Clone()
	}
	if amountIn.IsZero() {
		return nil, nil
	}

	limit, err := slippageLimit(p.Tick, r.cfg.MaxSlippageBps, zeroForOne)
	if err != nil {
		return nil, invalid(act, "%v", err)
	}
	return &model.SwapParams{AmountIn: amountIn, ZeroForOne: zeroForOne, SqrtPriceLimitX96: limit, Sender: r.cfg.Owner}, nil
}

// rebalanceSwap applies a planned swap to the live pool and settles it
// against the wallet.
func (r *Runner) rebalanceSwap(params *model.SwapParams, ts uint64) error {
	ev := r.synthetic(model.EventSwap, ts)
	ev.Swap = params
	out, err := r.app.Apply(ev)
	if err != nil {
		return fmt.Errorf("rebalance swap: %w", err)
	}
	if params.ZeroForOne {
		if err := r.wallet.Debit(out.Amount0, nil); err != nil {
			return fmt.Errorf("rebalance swap: %w", err)
		}
		r.wallet.Credit(nil, out.Amount1)
	} else {
		if err := r.wallet.Debit(nil, out.Amount1); err != nil {
			return fmt.Errorf("rebalance swap: %w", err)
		}
		r.wallet.Credit(out.Amount0, nil)
	}
	r.result.Summary.RebalanceSwaps++
	r.logger.Debug("rebalance swap",
		zap.Bool("zero_for_one", params.ZeroForOne),
		zap.String("amount_in", out.Swap.AmountIn.Dec()),
		zap.String("amount_out", out.Swap.AmountOut.Dec()),
		zap.Bool("limit_reached", out.Swap.LimitReached),
	)
	return nil
}

// slippageLimit bounds a rebalance swap to maxBps of price movement from
// tick, one tick being one basis point of price.
func slippageLimit(tick int32, maxBps uint32, zeroForOne bool) (*uint256.Int, error) {
	bps := int32(maxBps)
	target := tick + bps
	if zeroForOne {
		target = tick - bps
	}
	target = max(tickmath.MinTick+1, min(tickmath.MaxTick-1, target))
	return tickmath.SqrtRatioAtTick(target)
}

func (r *Runner) close(act Action, ts uint64) error {
	id := act.PositionID
	idx := slices.Index(r.own, id)
	if idx < 0 {
		return invalid(act, "unknown position %q", id)
	}
	pos, ok := r.app.Ledger.Get(id)
	if !ok {
		return invalid(act, "position %q not in ledger", id)
	}
	p := r.app.Pool

	returned0, returned1 := new(uint256.Int), new(uint256.Int)
	if !pos.Liquidity.IsZero() {
		ev := r.synthetic(model.EventRemoveLiquidity, ts)
		ev.Remove = &model.RemoveLiquidityParams{PositionID: id, Liquidity: pos.Liquidity.Clone()}
		out, err := r.app.Apply(ev)
		if err != nil {
			return invalid(act, "%v", err)
		}
		returned0, returned1 = out.Amount0, out.Amount1
		r.wallet.Credit(returned0, returned1)
	}

	ev := r.synthetic(model.EventCollectFees, ts)
	ev.Collect = &model.CollectFeesParams{PositionID: id}
	out, err := r.app.Apply(ev)
	if err != nil {
		return fmt.Errorf("collect %s: %w", id, err)
	}
	fees0, fees1 := out.Amount0, out.Amount1
	r.wallet.Credit(fees0, fees1)

	s := &r.result.Summary
	s.FeesCollected0.Add(s.FeesCollected0, fees0)
	s.FeesCollected1.Add(s.FeesCollected1, fees1)
	feesUSD, err := r.valuer.usdValue(fees0, fees1, ts)
	if err != nil {
		return err
	}
	s.FeesUSD = s.FeesUSD.Add(feesUSD)
	s.Closes++

	t := r.tracked[id]
	r.own = slices.Delete(r.own, idx, idx+1)
	delete(r.tracked, id)
	r.result.Positions = append(r.result.Positions, PositionLogEntry{
		Type:              LogClosePosition,
		PositionID:        id,
		Timestamp:         ts,
		Lower:             pos.Lower,
		Upper:             pos.Upper,
		CurrentTick:       p.Tick,
		Liquidity:         pos.Liquidity.Clone(),
		Amount0:           returned0,
		Amount1:           returned1,
		Fees0:             fees0,
		Fees1:             fees1,
		Wallet0:           r.wallet.Token0.Clone(),
		Wallet1:           r.wallet.Token1.Clone(),
		ActiveLiquidity:   p.Liquidity.Clone(),
		SwapCount:         s.SwapCount,
		Volume0:           s.Volume0.Clone(),
		Volume1:           s.Volume1.Clone(),
		SwapsInPosition:   t.swaps,
		VolumeInPosition0: t.volume0,
		VolumeInPosition1: t.volume1,
		DurationSeconds:   ts - t.openedAt,
	})
	r.logger.Debug("position closed",
		zap.String("id", id),
		zap.String("fees0", fees0.Dec()),
		zap.String("fees1", fees1.Dec()),
		zap.Int("swaps_in_position", t.swaps),
	)
	return nil
}

func (r *Runner) closeAll(ts uint64) {
	for _, id := range slices.Clone(r.own) {
		act := Close(id)
		err := r.close(act, ts)
		if err == nil {
			continue
		}
		var inv *model.InvalidActionError
		if errors.As(err, &inv) {
			r.reject(act, ts, inv.Reason)
			continue
		}
		r.logger.Warn("close at end failed", zap.String("id", id), zap.Error(err))
	}
}
