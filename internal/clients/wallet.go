// Package clients holds the chain-facing collaborator contracts the engine
// consumes: balance lookup and the wallet execution primitive. The engine
// and its services depend only on these interfaces.
package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/solvernet/rebalancer/internal/entity"
)

// Transaction is a prepared call for the solver wallet to submit.
type Transaction struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// WalletClient submits transactions for the configured solver wallet on a
// given chain. Signing and custody live behind this interface.
type WalletClient interface {
	// Address returns the solver wallet address.
	Address() common.Address
	// Execute submits the transactions as one batch and returns the hash of
	// the submitted transaction.
	Execute(ctx context.Context, chainID uint64, txs []Transaction) (common.Hash, error)
	// TransactionReceipt fetches the receipt of a submitted transaction.
	TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error)
}

// BalanceFetcher looks up live token balances.
type BalanceFetcher interface {
	GetTokenBalance(ctx context.Context, token entity.TokenConfig) (entity.TokenBalance, error)
}
