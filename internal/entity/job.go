package entity

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// RebalanceStatus is the persisted lifecycle state of a rebalance job.
type RebalanceStatus string

const (
	StatusPending   RebalanceStatus = "PENDING"
	StatusCompleted RebalanceStatus = "COMPLETED"
	StatusFailed    RebalanceStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s RebalanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RebalanceToken is the persisted projection of a token involved in a job.
type RebalanceToken struct {
	ChainID  uint64         `json:"chainId"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
}

// RebalanceTokenFromData projects a TokenData for persistence.
func RebalanceTokenFromData(t TokenData) RebalanceToken {
	return RebalanceToken{
		ChainID:  t.Config.ChainID,
		Address:  t.Config.Address,
		Decimals: t.Config.Decimals,
	}
}

// RebalanceJob is the persisted unit of work tracking one deficit-correcting
// transfer. Status is mutated only through the repository, keyed by
// RebalanceJobID, and is terminal after the first COMPLETED/FAILED write.
// Records are never deleted; they serve as the audit trail.
type RebalanceJob struct {
	RebalanceJobID string          `json:"rebalanceJobId"`
	GroupID        string          `json:"groupId"`
	WalletAddress  common.Address  `json:"walletAddress"`
	Strategy       Strategy        `json:"strategy"`
	TokenIn        RebalanceToken  `json:"tokenIn"`
	TokenOut       RebalanceToken  `json:"tokenOut"`
	AmountIn       *big.Int        `json:"amountIn"`
	AmountOut      *big.Int        `json:"amountOut"`
	Slippage       decimal.Decimal `json:"slippage"`
	Status         RebalanceStatus `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
