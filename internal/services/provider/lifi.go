package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/tokenmath"
	"go.uber.org/zap"
)

// nativeTokenPlaceholder is how the LiFi API addresses a chain's gas token.
const nativeTokenPlaceholder = "0x0000000000000000000000000000000000000000"

// LiFi quotes and executes swaps and bridges through the LiFi aggregator API.
// Execution is synchronous: once the source transaction is mined, the route
// is settled by the aggregator and no further hops remain.
type LiFi struct {
	apiURL string
	wallet clients.WalletClient
	http   *http.Client
	logger *zap.Logger
}

// NewLiFi builds a LiFi provider talking to apiURL and executing through wallet.
func NewLiFi(apiURL string, wallet clients.WalletClient, logger *zap.Logger) *LiFi {
	return &LiFi{
		apiURL: strings.TrimRight(apiURL, "/"),
		wallet: wallet,
		http:   &http.Client{Timeout: apiTimeout},
		logger: logger,
	}
}

func (l *LiFi) Strategy() entity.Strategy {
	return entity.StrategyLiFi
}

type lifiQuoteResponse struct {
	Estimate struct {
		FromAmount  string `json:"fromAmount"`
		ToAmount    string `json:"toAmount"`
		ToAmountMin string `json:"toAmountMin"`
	} `json:"estimate"`
	TransactionRequest struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transactionRequest"`
	Message string `json:"message"`
}

// lifiContext is the execution payload embedded in a LiFi quote.
type lifiContext struct {
	FromAddress common.Address `json:"fromAddress"`
	ChainID     uint64         `json:"chainId"`
	To          common.Address `json:"to"`
	Data        hexutil.Bytes  `json:"data"`
	Value       *hexutil.Big   `json:"value"`
}

func (l *LiFi) GetQuote(ctx context.Context, tokenIn, tokenOut entity.TokenData, swapAmount *big.Int) (*entity.RebalanceQuote, error) {
	if swapAmount == nil || swapAmount.Sign() <= 0 {
		return nil, errors.New("swap amount must be positive")
	}

	q := url.Values{}
	q.Set("fromChain", fmt.Sprintf("%d", tokenIn.Config.ChainID))
	q.Set("toChain", fmt.Sprintf("%d", tokenOut.Config.ChainID))
	q.Set("fromToken", tokenAPIAddress(tokenIn.Config))
	q.Set("toToken", tokenAPIAddress(tokenOut.Config))
	q.Set("fromAmount", swapAmount.String())
	q.Set("fromAddress", l.wallet.Address().Hex())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.apiURL+"/v1/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "build quote request")
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "lifi quote request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read quote response")
	}

	var quote lifiQuoteResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(body, &quote)
		if resp.StatusCode == http.StatusNotFound || strings.Contains(strings.ToLower(quote.Message), "no available quotes") {
			return nil, errors.Wrapf(ErrInsufficientLiquidity, "lifi: %s", quote.Message)
		}
		return nil, errors.Errorf("lifi quote failed with status %d: %s", resp.StatusCode, quote.Message)
	}
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, errors.Wrap(err, "decode quote response")
	}

	fromAmount, ok := new(big.Int).SetString(quote.Estimate.FromAmount, 10)
	if !ok {
		return nil, ErrMissingQuoteAmounts
	}
	toAmount, ok := new(big.Int).SetString(quote.Estimate.ToAmount, 10)
	if !ok {
		return nil, ErrMissingQuoteAmounts
	}
	toAmountMin, ok := new(big.Int).SetString(quote.Estimate.ToAmountMin, 10)
	if !ok {
		return nil, ErrMissingQuoteAmounts
	}

	value := new(big.Int)
	if v := quote.TransactionRequest.Value; v != "" {
		parsed, err := hexutil.DecodeBig(v)
		if err != nil {
			return nil, errors.Wrap(err, "decode transaction value")
		}
		value = parsed
	}
	data, err := hexutil.Decode(quote.TransactionRequest.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode transaction data")
	}

	execCtx, err := json.Marshal(lifiContext{
		FromAddress: l.wallet.Address(),
		ChainID:     tokenIn.Config.ChainID,
		To:          common.HexToAddress(quote.TransactionRequest.To),
		Data:        data,
		Value:       (*hexutil.Big)(value),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode execution context")
	}

	return &entity.RebalanceQuote{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  fromAmount,
		AmountOut: toAmount,
		Slippage:  tokenmath.SlippagePercent(toAmountMin, fromAmount),
		Strategy:  entity.StrategyLiFi,
		Context:   execCtx,
	}, nil
}

func (l *LiFi) Execute(ctx context.Context, walletAddress common.Address, quote *entity.RebalanceQuote) (ExecutionResult, error) {
	var ec lifiContext
	if err := json.Unmarshal(quote.Context, &ec); err != nil {
		return ExecutionResult{}, errors.Wrap(err, "decode execution context")
	}
	if ec.FromAddress != walletAddress {
		return ExecutionResult{}, errors.Wrapf(ErrWalletMismatch, "quote for %s, executing as %s", ec.FromAddress.Hex(), walletAddress.Hex())
	}

	txHash, err := l.wallet.Execute(ctx, ec.ChainID, []clients.Transaction{{
		To:    ec.To,
		Data:  ec.Data,
		Value: (*big.Int)(ec.Value),
	}})
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "execute lifi route")
	}

	l.logger.Info("lifi route submitted",
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("fromChain", quote.TokenIn.Config.ChainID),
		zap.Uint64("toChain", quote.TokenOut.Config.ChainID))

	return ExecutionResult{TxHash: txHash}, nil
}

func tokenAPIAddress(cfg entity.TokenConfig) string {
	if cfg.Type == entity.TokenTypeNative {
		return nativeTokenPlaceholder
	}
	return cfg.Address.Hex()
}
