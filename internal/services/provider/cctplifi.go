package provider

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/tokenmath"
	"go.uber.org/zap"
)

// CCTPLiFi reaches non-USDC tokens on chains where plain LiFi routing is too
// lossy: bridge USDC via CCTP first, then swap into the target token on the
// destination chain with LiFi. Execute submits only the burn leg; the swap
// travels in the attestation handle and runs after the mint.
type CCTPLiFi struct {
	cctp   *CCTP
	lifi   *LiFi
	logger *zap.Logger
}

// NewCCTPLiFi composes the two underlying providers.
func NewCCTPLiFi(cctp *CCTP, lifi *LiFi, logger *zap.Logger) *CCTPLiFi {
	return &CCTPLiFi{cctp: cctp, lifi: lifi, logger: logger}
}

func (p *CCTPLiFi) Strategy() entity.Strategy {
	return entity.StrategyCCTPLiFi
}

// cctpLifiContext chains the bridge context with the destination swap quote.
type cctpLifiContext struct {
	Bridge          json.RawMessage `json:"bridge"`
	DestinationSwap json.RawMessage `json:"destinationSwap"`
}

func (p *CCTPLiFi) GetQuote(ctx context.Context, tokenIn, tokenOut entity.TokenData, swapAmount *big.Int) (*entity.RebalanceQuote, error) {
	destUSDC, ok := p.cctp.DestinationUSDC(tokenOut.Config.ChainID)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedRoute, "cctplifi: chain %d has no cctp domain", tokenOut.Config.ChainID)
	}
	if destUSDC.Key() == tokenOut.Config.Key() {
		// Plain CCTP already covers USDC-to-USDC; the extra swap leg would
		// only add cost.
		return nil, errors.Wrap(ErrUnsupportedRoute, "cctplifi: target is destination usdc")
	}

	bridgeTarget := entity.TokenData{Config: destUSDC}
	bridgeQuote, err := p.cctp.GetQuote(ctx, tokenIn, bridgeTarget, swapAmount)
	if err != nil {
		return nil, errors.Wrap(err, "bridge leg")
	}

	swapQuote, err := p.lifi.GetQuote(ctx, bridgeTarget, tokenOut, bridgeQuote.AmountOut)
	if err != nil {
		return nil, errors.Wrap(err, "destination swap leg")
	}
	if swapQuote.TokenOut.Config.Key() != tokenOut.Config.Key() {
		return nil, errors.New("destination swap does not deliver the requested token")
	}

	execCtx, err := json.Marshal(cctpLifiContext{
		Bridge:          bridgeQuote.Context,
		DestinationSwap: swapQuote.Context,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode execution context")
	}

	return &entity.RebalanceQuote{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  bridgeQuote.AmountIn,
		AmountOut: swapQuote.AmountOut,
		Slippage:  tokenmath.CompoundSlippage(bridgeQuote.Slippage, swapQuote.Slippage),
		Strategy:  entity.StrategyCCTPLiFi,
		Context:   execCtx,
	}, nil
}

// Execute burns on the source chain like plain CCTP and threads the
// destination swap quote through the returned attestation handle.
func (p *CCTPLiFi) Execute(ctx context.Context, walletAddress common.Address, quote *entity.RebalanceQuote) (ExecutionResult, error) {
	var ec cctpLifiContext
	if err := json.Unmarshal(quote.Context, &ec); err != nil {
		return ExecutionResult{}, errors.Wrap(err, "decode execution context")
	}
	if len(ec.DestinationSwap) == 0 {
		return ExecutionResult{}, errors.New("execution context missing destination swap")
	}

	bridgeQuote := *quote
	bridgeQuote.Context = ec.Bridge
	bridgeQuote.AmountOut = bridgeQuote.AmountIn

	res, err := p.cctp.Execute(ctx, walletAddress, &bridgeQuote)
	if err != nil {
		return ExecutionResult{}, err
	}
	if res.Attestation == nil {
		return ExecutionResult{}, errors.New("bridge leg returned no attestation handle")
	}
	res.Attestation.DestinationSwap = ec.DestinationSwap

	p.logger.Info("cctplifi bridge leg submitted, swap deferred to settlement",
		zap.String("txHash", res.TxHash.Hex()),
		zap.Uint64("destinationChain", res.Attestation.DestinationChainID))

	return res, nil
}
