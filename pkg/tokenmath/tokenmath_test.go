package tokenmath

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSlippagePercent(t *testing.T) {
	tests := []struct {
		name      string
		amountOut *big.Int
		amountIn  *big.Int
		expected  string
	}{
		{
			name:      "half percent slippage",
			amountOut: big.NewInt(995),
			amountIn:  big.NewInt(1000),
			expected:  "0.005",
		},
		{
			name:      "zero amount out means full slippage",
			amountOut: big.NewInt(0),
			amountIn:  big.NewInt(1000),
			expected:  "1",
		},
		{
			name:      "zero amount in means no slippage",
			amountOut: big.NewInt(100),
			amountIn:  big.NewInt(0),
			expected:  "0",
		},
		{
			name:      "nil amount in",
			amountOut: big.NewInt(100),
			amountIn:  nil,
			expected:  "0",
		},
		{
			name:      "no slippage",
			amountOut: big.NewInt(1000),
			amountIn:  big.NewInt(1000),
			expected:  "0",
		},
		{
			name:      "negative slippage on favorable fill",
			amountOut: big.NewInt(1010),
			amountIn:  big.NewInt(1000),
			expected:  "-0.01",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SlippagePercent(tt.amountOut, tt.amountIn)
			require.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"got %s, want %s", got.String(), tt.expected)
		})
	}
}

func TestSlippagePercentLargeMagnitudes(t *testing.T) {
	// 18-decimal amounts: 1000 tokens in, 995 tokens out.
	in, _ := new(big.Int).SetString("1000000000000000000000", 10)
	out, _ := new(big.Int).SetString("995000000000000000000", 10)

	got := SlippagePercent(out, in)
	require.True(t, got.Equal(decimal.RequireFromString("0.005")), "got %s", got.String())
}

func TestCompoundSlippage(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		require.True(t, CompoundSlippage().IsZero())
	})

	t.Run("single fraction is itself", func(t *testing.T) {
		got := CompoundSlippage(decimal.RequireFromString("0.01"))
		require.True(t, got.Equal(decimal.RequireFromString("0.01")), "got %s", got.String())
	})

	t.Run("three legs", func(t *testing.T) {
		got := CompoundSlippage(
			decimal.RequireFromString("0.01"),
			decimal.RequireFromString("0.02"),
			decimal.RequireFromString("0.015"),
		)
		// 1 - 0.99*0.98*0.985
		require.True(t, got.Equal(decimal.RequireFromString("0.044353")), "got %s", got.String())
	})
}

func TestRangeFromPercentage(t *testing.T) {
	band := Percentages{
		Up:   decimal.RequireFromString("0.2"),
		Down: decimal.RequireFromString("0.2"),
	}

	r := RangeFromPercentage(big.NewInt(1_000_000), band)
	require.Equal(t, big.NewInt(800_000), r.Min)
	require.Equal(t, big.NewInt(1_200_000), r.Max)
}

func TestRangeFromPercentageLargeBalance(t *testing.T) {
	// 2^200-ish magnitude must survive exactly with a zero band.
	amount, _ := new(big.Int).SetString("1606938044258990275541962092341162602522202993782792835301376", 10)

	r := RangeFromPercentage(amount, Percentages{Up: decimal.Zero, Down: decimal.Zero})
	require.Equal(t, 0, r.Min.Cmp(amount))
	require.Equal(t, 0, r.Max.Cmp(amount))
}
