package clients

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

// EVMBalanceFetcher reads native and ERC-20 balances over JSON-RPC.
type EVMBalanceFetcher struct {
	wallet  common.Address
	clients map[uint64]*ethclient.Client
	erc20   abi.ABI
}

// NewEVMBalanceFetcher dials one RPC endpoint per chain id.
func NewEVMBalanceFetcher(wallet common.Address, rpcURLs map[uint64]string) (*EVMBalanceFetcher, error) {
	erc20, err := abi.JSON(strings.NewReader(erc20BalanceOfABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}

	chainClients := make(map[uint64]*ethclient.Client, len(rpcURLs))
	for chainID, url := range rpcURLs {
		client, err := ethclient.Dial(url)
		if err != nil {
			return nil, errors.Wrapf(err, "dial rpc for chain %d", chainID)
		}
		chainClients[chainID] = client
	}

	return &EVMBalanceFetcher{wallet: wallet, clients: chainClients, erc20: erc20}, nil
}

// GetTokenBalance fetches the wallet's balance of the configured token in
// smallest units.
func (f *EVMBalanceFetcher) GetTokenBalance(ctx context.Context, token entity.TokenConfig) (entity.TokenBalance, error) {
	client, ok := f.clients[token.ChainID]
	if !ok {
		return entity.TokenBalance{}, errors.Errorf("no rpc client for chain %d", token.ChainID)
	}

	balance := entity.TokenBalance{
		Address: token.Address,
		Decimals: entity.TokenDecimals{
			Original:   token.Decimals,
			Normalized: token.Decimals,
		},
	}

	if token.Type == entity.TokenTypeNative {
		v, err := client.BalanceAt(ctx, f.wallet, nil)
		if err != nil {
			return entity.TokenBalance{}, errors.Wrapf(err, "native balance on chain %d", token.ChainID)
		}
		balance.Balance = v
		return balance, nil
	}

	data, err := f.erc20.Pack("balanceOf", f.wallet)
	if err != nil {
		return entity.TokenBalance{}, errors.Wrap(err, "pack balanceOf")
	}

	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return entity.TokenBalance{}, errors.Wrapf(err, "balanceOf %s on chain %d", token.Address, token.ChainID)
	}

	values, err := f.erc20.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return entity.TokenBalance{}, errors.Wrap(err, "unpack balanceOf")
	}
	v, ok := abi.ConvertType(values[0], new(big.Int)).(*big.Int)
	if !ok {
		return entity.TokenBalance{}, errors.New("unexpected balanceOf return type")
	}

	balance.Balance = v
	return balance, nil
}

// Receipt fetches a transaction receipt on the given chain.
func (f *EVMBalanceFetcher) Receipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	client, ok := f.clients[chainID]
	if !ok {
		return nil, errors.Errorf("no rpc client for chain %d", chainID)
	}
	return client.TransactionReceipt(ctx, hash)
}

// Close releases all RPC connections.
func (f *EVMBalanceFetcher) Close() {
	for _, client := range f.clients {
		client.Close()
	}
}
