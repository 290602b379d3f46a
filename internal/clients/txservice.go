package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const txServiceTimeout = 30 * time.Second

// TxServiceWallet is a WalletClient backed by an external transaction
// service that owns the solver wallet's keys. The service accepts a batch of
// calls and returns the hash of the submitted transaction; receipts are read
// directly from chain RPC.
type TxServiceWallet struct {
	address    common.Address
	serviceURL string
	httpClient *http.Client
	receipts   interface {
		Receipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error)
	}
}

// NewTxServiceWallet builds a wallet client for the given signer service.
// receipts is usually the EVMBalanceFetcher, which already holds per-chain
// RPC connections.
func NewTxServiceWallet(address common.Address, serviceURL string, receipts *EVMBalanceFetcher) *TxServiceWallet {
	return &TxServiceWallet{
		address:    address,
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: txServiceTimeout},
		receipts:   receipts,
	}
}

// Address returns the solver wallet address.
func (w *TxServiceWallet) Address() common.Address {
	return w.address
}

type txServiceCall struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

type txServiceRequest struct {
	ChainID uint64          `json:"chainId"`
	From    common.Address  `json:"from"`
	Calls   []txServiceCall `json:"calls"`
}

type txServiceResponse struct {
	TxHash common.Hash `json:"txHash"`
	Error  string      `json:"error,omitempty"`
}

// Execute submits the batch through the transaction service.
func (w *TxServiceWallet) Execute(ctx context.Context, chainID uint64, txs []Transaction) (common.Hash, error) {
	if len(txs) == 0 {
		return common.Hash{}, errors.New("empty transaction batch")
	}

	calls := make([]txServiceCall, 0, len(txs))
	for _, tx := range txs {
		call := txServiceCall{To: tx.To, Data: tx.Data}
		if tx.Value != nil && tx.Value.Sign() > 0 {
			call.Value = (*hexutil.Big)(new(big.Int).Set(tx.Value))
		}
		calls = append(calls, call)
	}

	body, err := json.Marshal(txServiceRequest{ChainID: chainID, From: w.address, Calls: calls})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "marshal tx-service request")
	}

	url := fmt.Sprintf("%s/v1/transactions", w.serviceURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "build tx-service request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "tx-service call")
	}
	defer resp.Body.Close()

	var parsed txServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return common.Hash{}, errors.Wrap(err, "decode tx-service response")
	}
	if resp.StatusCode != http.StatusOK {
		return common.Hash{}, errors.Errorf("tx-service status %d: %s", resp.StatusCode, parsed.Error)
	}
	if parsed.Error != "" {
		return common.Hash{}, errors.Errorf("tx-service error: %s", parsed.Error)
	}

	return parsed.TxHash, nil
}

// TransactionReceipt fetches the receipt of a submitted transaction.
func (w *TxServiceWallet) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	return w.receipts.Receipt(ctx, chainID, hash)
}
