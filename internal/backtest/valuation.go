package backtest

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"clmmBacktest/internal/tickmath"
)

const priceScale = 36

var q192 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), 192), 0)

// Price converts a sqrt price into whole token1 per whole token0.
func Price(sqrtPriceX96 *uint256.Int, decimals0, decimals1 uint8) decimal.Decimal {
	sq := decimal.NewFromBigInt(sqrtPriceX96.ToBig(), 0)
	return sq.Mul(sq).DivRound(q192, priceScale).Shift(int32(decimals0) - int32(decimals1))
}

// ToToken1 converts a raw token0 amount into raw token1 at the given price, rounding down.
func ToToken1(amount0, sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	partial, err := tickmath.MulDiv(amount0, sqrtPriceX96, tickmath.Q96)
	if err != nil {
		return nil, err
	}
	return tickmath.MulDiv(partial, sqrtPriceX96, tickmath.Q96)
}

// ToToken0 converts a raw token1 amount into raw token0 at the given price, rounding down.
func ToToken0(amount1, sqrtPriceX96 *uint256.Int) (*uint256.Int, error) {
	partial, err := tickmath.MulDiv(amount1, tickmath.Q96, sqrtPriceX96)
	if err != nil {
		return nil, err
	}
	return tickmath.MulDiv(partial, tickmath.Q96, sqrtPriceX96)
}

// Units scales a raw amount to whole tokens.
func Units(amount *uint256.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}

type valuer struct {
	token0 TokenInfo
	token1 TokenInfo
	prices PriceFunc
}

// token1Value is the whole-token1 value of both amounts.
func (v valuer) token1Value(amount0, amount1, sqrtPriceX96 *uint256.Int) decimal.Decimal {
	price := Price(sqrtPriceX96, v.token0.Decimals, v.token1.Decimals)
	return Units(amount0, v.token0.Decimals).Mul(price).Add(Units(amount1, v.token1.Decimals))
}

// usdPrices returns both tokens' USD prices at ts, zero without a price source.
func (v valuer) usdPrices(ts uint64) (decimal.Decimal, decimal.Decimal, error) {
	if v.prices == nil {
		return decimal.Zero, decimal.Zero, nil
	}
	p0, err := v.prices(v.token0.Address, ts)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price %s at %d: %w", v.token0.Symbol, ts, err)
	}
	p1, err := v.prices(v.token1.Address, ts)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price %s at %d: %w", v.token1.Symbol, ts, err)
	}
	return p0, p1, nil
}

func (v valuer) usdValue(amount0, amount1 *uint256.Int, ts uint64) (decimal.Decimal, error) {
	p0, p1, err := v.usdPrices(ts)
	if err != nil {
		return decimal.Zero, err
	}
	return Units(amount0, v.token0.Decimals).Mul(p0).Add(Units(amount1, v.token1.Decimals).Mul(p1)), nil
}

var hundred = decimal.NewFromInt(100)

// percentOf is part/whole in percent, zero when whole is zero.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Mul(hundred).DivRound(whole, 4)
}
