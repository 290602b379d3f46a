package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenType distinguishes native coins from ERC-20 contracts.
type TokenType string

const (
	TokenTypeNative TokenType = "native"
	TokenTypeERC20  TokenType = "erc20"
)

// TokenState classifies a balance relative to its configured operating band.
type TokenState string

const (
	StateDeficit TokenState = "DEFICIT"
	StateOK      TokenState = "OK"
	StateSurplus TokenState = "SURPLUS"
)

// TokenConfig is the static per-token configuration. Loaded once at startup,
// never mutated afterwards.
type TokenConfig struct {
	ChainID       uint64
	Address       common.Address
	Type          TokenType
	MinBalance    *big.Int
	TargetBalance *big.Int
	Decimals      uint8
}

// Key returns the canonical chain-scoped token identifier.
func (c TokenConfig) Key() string {
	return fmt.Sprintf("%d:%s", c.ChainID, c.Address.Hex())
}

// TokenDecimals carries both the token's on-chain precision and the precision
// balances were normalized to when fetched.
type TokenDecimals struct {
	Original   uint8 `json:"original"`
	Normalized uint8 `json:"normalized"`
}

// TokenBalance is a live balance snapshot in smallest units. Owned by the
// balance collaborator, refreshed each analysis cycle.
type TokenBalance struct {
	Address  common.Address `json:"address"`
	Balance  *big.Int       `json:"balance"`
	Decimals TokenDecimals  `json:"decimals"`
}

// TokenData pairs a token's configuration with its current balance.
type TokenData struct {
	Config  TokenConfig
	Balance TokenBalance
}

// BalanceBounds holds the computed operating band for one token.
type BalanceBounds struct {
	Current *big.Int
	Target  *big.Int
	Minimum *big.Int
	Maximum *big.Int
}

// TokenAnalysis is the per-cycle classification of one token. Transient,
// never persisted.
type TokenAnalysis struct {
	State   TokenState
	Balance BalanceBounds
	// Diff is |current - target|, the amount this token is off target.
	// For surplus tokens it bounds how much can be drained this cycle.
	Diff *big.Int
}

// TokenDataAnalyzed is a TokenData with its band analysis attached.
type TokenDataAnalyzed struct {
	TokenData
	Analysis TokenAnalysis
}
