package entity

import (
	"encoding/json"
	"math/big"

	"github.com/shopspring/decimal"
)

// Strategy identifies a rebalance provider integration.
type Strategy string

const (
	StrategyLiFi     Strategy = "LiFi"
	StrategyCCTP     Strategy = "CCTP"
	StrategyCCTPLiFi Strategy = "CCTPLiFi"
)

// RebalanceQuote is a provider's proposed exchange. Immutable once returned by
// the provider; Context is an opaque strategy-specific payload that is carried
// into job payloads and decoded only by the owning provider.
type RebalanceQuote struct {
	TokenIn   TokenData
	TokenOut  TokenData
	AmountIn  *big.Int
	AmountOut *big.Int
	// Slippage is a 0..1 fraction.
	Slippage decimal.Decimal
	Strategy Strategy
	Context  json.RawMessage

	// Correlation ids, assigned when the quote is persisted as a job.
	GroupID        string
	RebalanceJobID string
}

// RebalanceRequest groups the winning quotes for one deficit token within one
// analysis cycle.
type RebalanceRequest struct {
	Token  TokenDataAnalyzed
	Quotes []*RebalanceQuote
}
