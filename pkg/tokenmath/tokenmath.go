// Package tokenmath provides fixed-point percentage and slippage arithmetic
// for token amounts in smallest units. All paths go through shopspring/decimal
// so balances up to 2^255 survive without float precision loss.
package tokenmath

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// slippageScale bounds the precision of slippage fractions. 18 places covers
// the smallest representable step of an 18-decimal token.
const slippageScale = 18

var one = decimal.NewFromInt(1)

// SlippagePercent returns the realized slippage fraction (amountIn - amountOut) / amountIn.
// By convention it is 0 for a zero amountIn and 1 for a zero amountOut against
// a positive amountIn.
func SlippagePercent(amountOut, amountIn *big.Int) decimal.Decimal {
	if amountIn == nil || amountIn.Sign() == 0 {
		return decimal.Zero
	}
	if amountOut == nil || amountOut.Sign() == 0 {
		return one
	}

	in := decimal.NewFromBigInt(amountIn, 0)
	out := decimal.NewFromBigInt(amountOut, 0)

	return in.Sub(out).DivRound(in, slippageScale)
}

// CompoundSlippage folds per-leg slippage fractions into the effective
// end-to-end fraction: 1 - Π(1 - f_i). An empty input compounds to 0.
func CompoundSlippage(fractions ...decimal.Decimal) decimal.Decimal {
	retained := one
	for _, f := range fractions {
		retained = retained.Mul(one.Sub(f))
	}
	return one.Sub(retained)
}

// Percentages holds the band widths around a target as 0..1 fractions.
type Percentages struct {
	Up   decimal.Decimal
	Down decimal.Decimal
}

// Range is an inclusive [Min, Max] band in smallest units.
type Range struct {
	Min *big.Int
	Max *big.Int
}

// RangeFromPercentage computes {amount*(1-down), amount*(1+up)}, truncating
// fractional smallest units toward zero.
func RangeFromPercentage(amount *big.Int, p Percentages) Range {
	a := decimal.NewFromBigInt(amount, 0)
	return Range{
		Min: a.Mul(one.Sub(p.Down)).BigInt(),
		Max: a.Mul(one.Add(p.Up)).BigInt(),
	}
}
