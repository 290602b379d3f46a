package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RejectionReason tells why a candidate quote was discarded by the optimizer.
type RejectionReason string

const (
	RejectionHighSlippage          RejectionReason = "HIGH_SLIPPAGE"
	RejectionProviderError         RejectionReason = "PROVIDER_ERROR"
	RejectionInsufficientLiquidity RejectionReason = "INSUFFICIENT_LIQUIDITY"
	RejectionTimeout               RejectionReason = "TIMEOUT"
)

// RebalanceQuoteRejection is an append-only telemetry record. It is written
// best-effort and only ever read back for health signals, never by the
// optimizer itself.
type RebalanceQuoteRejection struct {
	RebalanceID   string          `json:"rebalanceId"`
	Strategy      Strategy        `json:"strategy"`
	Reason        RejectionReason `json:"reason"`
	TokenIn       RebalanceToken  `json:"tokenIn"`
	TokenOut      RebalanceToken  `json:"tokenOut"`
	SwapAmount    *big.Int        `json:"swapAmount"`
	Details       string          `json:"details"`
	WalletAddress common.Address  `json:"walletAddress"`
	CreatedAt     time.Time       `json:"createdAt"`
}
