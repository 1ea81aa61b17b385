package replay

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/ledger"
	"clmmBacktest/internal/model"
	"clmmBacktest/internal/pool"
)

var ErrZeroLiquidityDelta = errors.New("zero liquidity delta")

// Outcome is what one applied event did to the pool and ledger.
type Outcome struct {
	Event      model.Event
	PositionID string
	Swap       *pool.SwapResult
	// Amount0/Amount1 are owed to the pool on add, returned on remove
	// and paid out on collect.
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

// Applicator applies events to one pool and its ledger.
type Applicator struct {
	Pool   *pool.State
	Ledger *ledger.Ledger
}

func NewApplicator(p *pool.State, l *ledger.Ledger) *Applicator {
	return &Applicator{Pool: p, Ledger: l}
}

// Apply performs the state transition for ev. Any error is an *model.InvariantError
// and leaves the pool and ledger unchanged.
func (a *Applicator) Apply(ev model.Event) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return Outcome{}, a.fail(ev, err)
	}
	var (
		out Outcome
		err error
	)
	switch ev.Kind {
	case model.EventInitialize:
		err = a.Pool.Initialize(ev.Initialize.SqrtPriceX96)
		out = Outcome{Amount0: new(uint256.Int), Amount1: new(uint256.Int)}
	case model.EventSwap:
		out, err = a.swap(ev.Swap)
	case model.EventAddLiquidity:
		out, err = a.add(ev.Add)
	case model.EventRemoveLiquidity:
		out, err = a.remove(ev.Remove)
	case model.EventCollectFees:
		out, err = a.collect(ev.Collect)
	}
	if err != nil {
		return Outcome{}, a.fail(ev, err)
	}
	out.Event = ev
	return out, nil
}

func (a *Applicator) fail(ev model.Event, err error) error {
	summary := a.Pool.Summary()
	return &model.InvariantError{Reason: err.Error(), Event: &ev, Pool: &summary, Err: err}
}

func (a *Applicator) swap(p *model.SwapParams) (Outcome, error) {
	res, err := a.Pool.Swap(p.AmountIn, p.ZeroForOne, p.SqrtPriceLimitX96)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Swap: &res}
	if p.ZeroForOne {
		out.Amount0, out.Amount1 = res.AmountIn.Clone(), res.AmountOut.Clone()
	} else {
		out.Amount0, out.Amount1 = res.AmountOut.Clone(), res.AmountIn.Clone()
	}
	return out, nil
}

func (a *Applicator) add(p *model.AddLiquidityParams) (Outcome, error) {
	if p.Liquidity.IsZero() {
		return Outcome{}, ErrZeroLiquidityDelta
	}
	id := p.ResolvedID()
	if existing, ok := a.Ledger.Get(id); ok && (existing.Lower != p.TickLower || existing.Upper != p.TickUpper) {
		return Outcome{}, fmt.Errorf("%w: %s", ledger.ErrRangeMismatch, id)
	}
	change, err := a.Pool.PrepareModify(p.TickLower, p.TickUpper, p.Liquidity)
	if err != nil {
		return Outcome{}, err
	}
	a.Pool.Commit(change)
	if err := a.Ledger.Increase(a.Pool, id, p.Owner, p.TickLower, p.TickUpper, p.Liquidity); err != nil {
		return Outcome{}, err
	}
	return Outcome{PositionID: id, Amount0: change.Amount0, Amount1: change.Amount1}, nil
}

func (a *Applicator) remove(p *model.RemoveLiquidityParams) (Outcome, error) {
	pos, err := a.Ledger.CheckDecrease(p.PositionID, p.Liquidity)
	if err != nil {
		return Outcome{}, err
	}
	delta := new(uint256.Int).Neg(p.Liquidity)
	change, err := a.Pool.PrepareModify(pos.Lower, pos.Upper, delta)
	if err != nil {
		return Outcome{}, err
	}
	// settle against the ticks as they are before the burn clears them
	if err := a.Ledger.Decrease(a.Pool, p.PositionID, p.Liquidity); err != nil {
		return Outcome{}, err
	}
	a.Pool.Commit(change)
	return Outcome{PositionID: p.PositionID, Amount0: change.Amount0, Amount1: change.Amount1}, nil
}

func (a *Applicator) collect(p *model.CollectFeesParams) (Outcome, error) {
	paid0, paid1, err := a.Ledger.Collect(a.Pool, p.PositionID, p.Amount0Max, p.Amount1Max)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{PositionID: p.PositionID, Amount0: paid0, Amount1: paid1}, nil
}
