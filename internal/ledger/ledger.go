package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"clmmBacktest/internal/model"
	"clmmBacktest/internal/tickmath"
)

var (
	ErrPositionNotFound      = errors.New("position not found")
	ErrInsufficientLiquidity = errors.New("insufficient position liquidity")
	ErrRangeMismatch         = errors.New("position range mismatch")
)

// FeeGrowthSource reports the fee growth inside a tick range. *pool.State implements it.
type FeeGrowthSource interface {
	FeeGrowthInside(lower, upper int32) (*uint256.Int, *uint256.Int)
}

// Position is a liquidity position and its fee checkpoint.
type Position struct {
	ID        string       `json:"id"`
	Owner     string       `json:"owner"`
	Lower     int32        `json:"lower"`
	Upper     int32        `json:"upper"`
	Liquidity *uint256.Int `json:"liquidity"`

	FeeGrowthInside0LastX128 *uint256.Int `json:"fee_growth_inside0_last_x128"`
	FeeGrowthInside1LastX128 *uint256.Int `json:"fee_growth_inside1_last_x128"`
	// TokensOwed holds settled, uncollected fees only.
	TokensOwed0 *uint256.Int `json:"tokens_owed0"`
	TokensOwed1 *uint256.Int `json:"tokens_owed1"`
}

func (p *Position) clone() *Position {
	c := *p
	c.Liquidity = p.Liquidity.Clone()
	c.FeeGrowthInside0LastX128 = p.FeeGrowthInside0LastX128.Clone()
	c.FeeGrowthInside1LastX128 = p.FeeGrowthInside1LastX128.Clone()
	c.TokensOwed0 = p.TokensOwed0.Clone()
	c.TokensOwed1 = p.TokensOwed1.Clone()
	return &c
}

// Ledger owns every position of one pool, keyed by id. Ids of positions
// that were emptied and removed are remembered, since the chain allows
// collecting on them again.
type Ledger struct {
	positions map[string]*Position
	closed    map[string]struct{}
}

func New() *Ledger {
	return &Ledger{positions: make(map[string]*Position), closed: make(map[string]struct{})}
}

// Get returns a copy of the position.
func (l *Ledger) Get(id string) (Position, bool) {
	p, ok := l.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p.clone(), true
}

// Len is the number of tracked positions, including closed ones with fees owed.
func (l *Ledger) Len() int {
	return len(l.positions)
}

// IDs returns the position ids in lexical order.
func (l *Ledger) IDs() []string {
	ids := make([]string, 0, len(l.positions))
	for id := range l.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByOwner returns copies of the owner's positions in id order.
func (l *Ledger) ByOwner(owner string) []Position {
	var out []Position
	for _, id := range l.IDs() {
		if p := l.positions[id]; p.Owner == owner {
			out = append(out, *p.clone())
		}
	}
	return out
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	c := New()
	for id, p := range l.positions {
		c.positions[id] = p.clone()
	}
	for id := range l.closed {
		c.closed[id] = struct{}{}
	}
	return c
}

func (l *Ledger) lookup(id string) (*Position, error) {
	p, ok := l.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	return p, nil
}

// accrued computes fees earned since the position's checkpoint.
func accrued(src FeeGrowthSource, p *Position) (owed0, owed1, inside0, inside1 *uint256.Int, err error) {
	inside0, inside1 = src.FeeGrowthInside(p.Lower, p.Upper)
	delta0 := new(uint256.Int).Sub(inside0, p.FeeGrowthInside0LastX128)
	delta1 := new(uint256.Int).Sub(inside1, p.FeeGrowthInside1LastX128)
	if owed0, err = tickmath.MulDiv(delta0, p.Liquidity, tickmath.Q128); err != nil {
		return nil, nil, nil, nil, err
	}
	if owed1, err = tickmath.MulDiv(delta1, p.Liquidity, tickmath.Q128); err != nil {
		return nil, nil, nil, nil, err
	}
	return owed0, owed1, inside0, inside1, nil
}

func (l *Ledger) settle(src FeeGrowthSource, p *Position) error {
	owed0, owed1, inside0, inside1, err := accrued(src, p)
	if err != nil {
		return err
	}
	total0, overflow0 := new(uint256.Int).AddOverflow(p.TokensOwed0, owed0)
	total1, overflow1 := new(uint256.Int).AddOverflow(p.TokensOwed1, owed1)
	if overflow0 || overflow1 {
		return &model.OverflowError{Op: "tokens owed"}
	}
	p.TokensOwed0, p.TokensOwed1 = total0, total1
	p.FeeGrowthInside0LastX128, p.FeeGrowthInside1LastX128 = inside0, inside1
	return nil
}

// Settle moves fees accrued since the last checkpoint into tokens owed.
// Settling twice without an intervening pool change is a no-op.
func (l *Ledger) Settle(src FeeGrowthSource, id string) error {
	p, err := l.lookup(id)
	if err != nil {
		return err
	}
	return l.settle(src, p)
}

// PendingFees previews tokens owed after a settle without changing the position.
func (l *Ledger) PendingFees(src FeeGrowthSource, id string) (*uint256.Int, *uint256.Int, error) {
	p, err := l.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	owed0, owed1, _, _, err := accrued(src, p)
	if err != nil {
		return nil, nil, err
	}
	return owed0.Add(owed0, p.TokensOwed0), owed1.Add(owed1, p.TokensOwed1), nil
}

// Increase settles the position and adds liquidity, creating it if needed.
// The pool's ticks must already reflect the new liquidity.
func (l *Ledger) Increase(src FeeGrowthSource, id, owner string, lower, upper int32, delta *uint256.Int) error {
	p, ok := l.positions[id]
	if !ok {
		inside0, inside1 := src.FeeGrowthInside(lower, upper)
		p = &Position{
			ID:                       id,
			Owner:                    owner,
			Lower:                    lower,
			Upper:                    upper,
			Liquidity:                new(uint256.Int),
			FeeGrowthInside0LastX128: inside0,
			FeeGrowthInside1LastX128: inside1,
			TokensOwed0:              new(uint256.Int),
			TokensOwed1:              new(uint256.Int),
		}
	} else if p.Lower != lower || p.Upper != upper {
		return fmt.Errorf("%w: %s is [%d,%d), got [%d,%d)", ErrRangeMismatch, id, p.Lower, p.Upper, lower, upper)
	}
	if err := l.settle(src, p); err != nil {
		return err
	}
	next, err := tickmath.AddDelta(p.Liquidity, delta)
	if err != nil {
		return err
	}
	p.Liquidity = next
	l.positions[id] = p
	delete(l.closed, id)
	return nil
}

// CheckDecrease validates a decrease without changing anything.
func (l *Ledger) CheckDecrease(id string, delta *uint256.Int) (Position, error) {
	p, err := l.lookup(id)
	if err != nil {
		return Position{}, err
	}
	if delta.Gt(p.Liquidity) {
		return Position{}, fmt.Errorf("%w: %s has %s, remove %s", ErrInsufficientLiquidity, id, p.Liquidity.Dec(), delta.Dec())
	}
	return *p.clone(), nil
}

// Decrease settles the position and removes liquidity. It must be called
// before the pool applies the matching tick update.
func (l *Ledger) Decrease(src FeeGrowthSource, id string, delta *uint256.Int) error {
	if _, err := l.CheckDecrease(id, delta); err != nil {
		return err
	}
	p := l.positions[id]
	if err := l.settle(src, p); err != nil {
		return err
	}
	p.Liquidity = new(uint256.Int).Sub(p.Liquidity, delta)
	return nil
}

// Collect settles and pays out up to max0/max1 of the owed fees. Nil maxima pay
// everything. A position with no liquidity and nothing owed is removed;
// collecting on it again pays nothing.
func (l *Ledger) Collect(src FeeGrowthSource, id string, max0, max1 *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if _, ok := l.closed[id]; ok {
		return new(uint256.Int), new(uint256.Int), nil
	}
	p, err := l.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if err := l.settle(src, p); err != nil {
		return nil, nil, err
	}
	paid0 := capAmount(p.TokensOwed0, max0)
	paid1 := capAmount(p.TokensOwed1, max1)
	p.TokensOwed0 = new(uint256.Int).Sub(p.TokensOwed0, paid0)
	p.TokensOwed1 = new(uint256.Int).Sub(p.TokensOwed1, paid1)
	if p.Liquidity.IsZero() && p.TokensOwed0.IsZero() && p.TokensOwed1.IsZero() {
		delete(l.positions, id)
		l.closed[id] = struct{}{}
	}
	return paid0, paid1, nil
}

func capAmount(owed, limit *uint256.Int) *uint256.Int {
	if limit != nil && limit.Lt(owed) {
		return limit.Clone()
	}
	return owed.Clone()
}
