package backtest

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Wallet holds the strategy's idle token balances.
type Wallet struct {
	Token0 *uint256.Int `json:"token0"`
	Token1 *uint256.Int `json:"token1"`
}

func NewWallet(token0, token1 *uint256.Int) *Wallet {
	return &Wallet{Token0: token0.Clone(), Token1: token1.Clone()}
}

func (w *Wallet) Credit(amount0, amount1 *uint256.Int) {
	if amount0 != nil {
		w.Token0.Add(w.Token0, amount0)
	}
	if amount1 != nil {
		w.Token1.Add(w.Token1, amount1)
	}
}

// Covers reports whether the wallet holds at least the given amounts.
func (w *Wallet) Covers(amount0, amount1 *uint256.Int) bool {
	return (amount0 == nil || !amount0.Gt(w.Token0)) && (amount1 == nil || !amount1.Gt(w.Token1))
}

// Debit removes both amounts or neither.
func (w *Wallet) Debit(amount0, amount1 *uint256.Int) error {
	if !w.Covers(amount0, amount1) {
		return fmt.Errorf("insufficient balance: have %s/%s, need %s/%s", w.Token0.Dec(), w.Token1.Dec(), decOrZero(amount0), decOrZero(amount1))
	}
	if amount0 != nil {
		w.Token0.Sub(w.Token0, amount0)
	}
	if amount1 != nil {
		w.Token1.Sub(w.Token1, amount1)
	}
	return nil
}

func decOrZero(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}
