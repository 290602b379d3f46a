package analyzer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/tokenmath"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubBalances struct {
	balances map[string]*big.Int
	failFor  map[string]bool
}

func (s *stubBalances) GetTokenBalance(_ context.Context, token entity.TokenConfig) (entity.TokenBalance, error) {
	if s.failFor[token.Key()] {
		return entity.TokenBalance{}, errors.New("rpc unavailable")
	}
	return entity.TokenBalance{
		Address: token.Address,
		Balance: s.balances[token.Key()],
		Decimals: entity.TokenDecimals{
			Original:   token.Decimals,
			Normalized: token.Decimals,
		},
	}, nil
}

func tokenCfg(chainID uint64, addr string, target int64) entity.TokenConfig {
	return entity.TokenConfig{
		ChainID:       chainID,
		Address:       common.HexToAddress(addr),
		Type:          entity.TokenTypeERC20,
		MinBalance:    big.NewInt(target / 10),
		TargetBalance: big.NewInt(target),
		Decimals:      6,
	}
}

func band20() tokenmath.Percentages {
	return tokenmath.Percentages{
		Up:   decimal.RequireFromString("0.2"),
		Down: decimal.RequireFromString("0.2"),
	}
}

func TestAnalyzeTokenStates(t *testing.T) {
	a := New(nil, band20(), zap.NewNop())
	cfg := tokenCfg(10, "0x01", 1_000_000)

	tests := []struct {
		name     string
		current  int64
		expected entity.TokenState
	}{
		{"below minimum", 500_000, entity.StateDeficit},
		{"just below minimum", 799_999, entity.StateDeficit},
		{"at minimum", 800_000, entity.StateOK},
		{"at target", 1_000_000, entity.StateOK},
		{"at maximum", 1_200_000, entity.StateOK},
		{"just above maximum", 1_200_001, entity.StateSurplus},
		{"well above maximum", 1_500_000, entity.StateSurplus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := entity.TokenData{
				Config:  cfg,
				Balance: entity.TokenBalance{Address: cfg.Address, Balance: big.NewInt(tt.current)},
			}
			analysis := a.AnalyzeToken(data)

			require.Equal(t, tt.expected, analysis.State)
			require.Equal(t, big.NewInt(800_000), analysis.Balance.Minimum)
			require.Equal(t, big.NewInt(1_200_000), analysis.Balance.Maximum)

			// state definitions are exclusive and exhaustive
			current := analysis.Balance.Current
			require.Equal(t,
				current.Cmp(analysis.Balance.Minimum) < 0,
				analysis.State == entity.StateDeficit)
			require.Equal(t,
				current.Cmp(analysis.Balance.Maximum) > 0,
				analysis.State == entity.StateSurplus)
		})
	}
}

func TestAnalyzeTokensPartition(t *testing.T) {
	deficit := tokenCfg(10, "0x01", 1_000_000)
	surplus := tokenCfg(8453, "0x02", 1_000_000)
	ok := tokenCfg(1, "0x03", 1_000_000)

	balances := &stubBalances{balances: map[string]*big.Int{
		deficit.Key(): big.NewInt(500_000),
		surplus.Key(): big.NewInt(1_500_000),
		ok.Key():      big.NewInt(1_000_000),
	}}

	a := New(balances, band20(), zap.NewNop())
	result := a.AnalyzeTokens(context.Background(), []entity.TokenConfig{deficit, surplus, ok})

	require.Len(t, result.Items, 3)
	require.Len(t, result.Deficit.Items, 1)
	require.Len(t, result.Surplus.Items, 1)
	require.Equal(t, entity.StateDeficit, result.Deficit.Items[0].Analysis.State)
	require.Equal(t, entity.StateSurplus, result.Surplus.Items[0].Analysis.State)
	require.Equal(t, big.NewInt(500_000), result.Deficit.Total)
	require.Equal(t, big.NewInt(500_000), result.Surplus.Total)
}

func TestAnalyzeTokensSkipsFailedLookups(t *testing.T) {
	good := tokenCfg(10, "0x01", 1_000_000)
	bad := tokenCfg(8453, "0x02", 1_000_000)

	balances := &stubBalances{
		balances: map[string]*big.Int{good.Key(): big.NewInt(900_000)},
		failFor:  map[string]bool{bad.Key(): true},
	}

	a := New(balances, band20(), zap.NewNop())
	result := a.AnalyzeTokens(context.Background(), []entity.TokenConfig{good, bad})

	require.Len(t, result.Items, 1)
	require.Equal(t, good.Address, result.Items[0].Config.Address)
}
