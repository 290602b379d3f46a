package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/solvernet/rebalancer/config"
	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/retrier"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"
)

const (
	erc20ABIJSON = `[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

	tokenMessengerABIJSON = `[{"name":"depositForBurn","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"}],"outputs":[{"name":"nonce","type":"uint64"}]}]`

	messageTransmitterABIJSON = `[{"name":"receiveMessage","type":"function","inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]},{"name":"MessageSent","type":"event","inputs":[{"name":"message","type":"bytes","indexed":false}]}]`
)

// AttestationStatus is the lifecycle of a burn message on the attestation API.
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationComplete AttestationStatus = "complete"
	AttestationFailed   AttestationStatus = "failed"
)

// AttestationResult is one poll of the attestation API for a message hash.
type AttestationResult struct {
	Status      AttestationStatus
	Attestation hexutil.Bytes
}

// ErrAttestationFailed means the attestation service definitively rejected
// the burn message. The bridge leg cannot complete.
var ErrAttestationFailed = errors.New("attestation definitively failed")

// CCTP bridges native USDC between chains via Circle's burn-and-mint
// protocol. A transfer is asynchronous: Execute burns on the source chain and
// hands back an AttestationHandle; the job chain polls FetchAttestation and
// finally mints with ReceiveMessage.
type CCTP struct {
	cfg    config.CCTPConfig
	chains map[uint64]config.CCTPChainConfig
	wallet clients.WalletClient

	erc20ABIParsed       abi.ABI
	messengerABIParsed   abi.ABI
	transmitterABIParsed abi.ABI
	messageSentTopic     common.Hash

	http    *http.Client
	receipt *retrier.Retrier
	logger  *zap.Logger
}

// NewCCTP builds a CCTP provider for the configured chains.
func NewCCTP(cfg config.CCTPConfig, wallet clients.WalletClient, logger *zap.Logger) (*CCTP, error) {
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parse erc20 abi")
	}
	messengerABI, err := abi.JSON(strings.NewReader(tokenMessengerABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parse token messenger abi")
	}
	transmitterABI, err := abi.JSON(strings.NewReader(messageTransmitterABIJSON))
	if err != nil {
		return nil, errors.Wrap(err, "parse message transmitter abi")
	}

	chains := make(map[uint64]config.CCTPChainConfig, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[c.ChainID] = c
	}

	return &CCTP{
		cfg:                  cfg,
		chains:               chains,
		wallet:               wallet,
		erc20ABIParsed:       erc20ABI,
		messengerABIParsed:   messengerABI,
		transmitterABIParsed: transmitterABI,
		messageSentTopic:     transmitterABI.Events["MessageSent"].ID,
		http:                 &http.Client{Timeout: apiTimeout},
		receipt: retrier.New(
			retrier.WithInitialInterval(2*time.Second),
			retrier.WithMaxInterval(15*time.Second),
			retrier.WithMaxRetries(10),
		),
		logger: logger,
	}, nil
}

func (c *CCTP) Strategy() entity.Strategy {
	return entity.StrategyCCTP
}

// cctpContext is the execution payload embedded in a CCTP quote.
type cctpContext struct {
	Wallet             common.Address `json:"wallet"`
	SourceChainID      uint64         `json:"sourceChainId"`
	DestinationChainID uint64         `json:"destinationChainId"`
	DestinationDomain  uint32         `json:"destinationDomain"`
}

// GetQuote serves only USDC-to-USDC routes between two configured CCTP
// chains. Burn and mint are 1:1, so the quote carries zero slippage.
func (c *CCTP) GetQuote(ctx context.Context, tokenIn, tokenOut entity.TokenData, swapAmount *big.Int) (*entity.RebalanceQuote, error) {
	if swapAmount == nil || swapAmount.Sign() <= 0 {
		return nil, errors.New("swap amount must be positive")
	}

	src, ok := c.chains[tokenIn.Config.ChainID]
	if !ok || src.USDC != tokenIn.Config.Address {
		return nil, errors.Wrapf(ErrUnsupportedRoute, "cctp: token %s", tokenIn.Config.Key())
	}
	dst, ok := c.chains[tokenOut.Config.ChainID]
	if !ok || dst.USDC != tokenOut.Config.Address {
		return nil, errors.Wrapf(ErrUnsupportedRoute, "cctp: token %s", tokenOut.Config.Key())
	}
	if src.ChainID == dst.ChainID {
		return nil, errors.Wrap(ErrUnsupportedRoute, "cctp: same-chain transfer")
	}

	execCtx, err := json.Marshal(cctpContext{
		Wallet:             c.wallet.Address(),
		SourceChainID:      src.ChainID,
		DestinationChainID: dst.ChainID,
		DestinationDomain:  dst.Domain,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode execution context")
	}

	return &entity.RebalanceQuote{
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(swapAmount),
		AmountOut: new(big.Int).Set(swapAmount),
		Strategy:  entity.StrategyCCTP,
		Context:   execCtx,
	}, nil
}

// Execute approves the token messenger and burns AmountIn on the source
// chain, then extracts the burn message from the receipt. The returned
// handle identifies the message for attestation polling.
func (c *CCTP) Execute(ctx context.Context, walletAddress common.Address, quote *entity.RebalanceQuote) (ExecutionResult, error) {
	var ec cctpContext
	if err := json.Unmarshal(quote.Context, &ec); err != nil {
		return ExecutionResult{}, errors.Wrap(err, "decode execution context")
	}
	if ec.Wallet != walletAddress {
		return ExecutionResult{}, errors.Wrapf(ErrWalletMismatch, "quote for %s, executing as %s", ec.Wallet.Hex(), walletAddress.Hex())
	}

	src, ok := c.chains[ec.SourceChainID]
	if !ok {
		return ExecutionResult{}, errors.Errorf("cctp chain %d no longer configured", ec.SourceChainID)
	}

	approveData, err := c.erc20ABIParsed.Pack("approve", src.TokenMessenger, quote.AmountIn)
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "pack approve")
	}

	var mintRecipient [32]byte
	copy(mintRecipient[12:], walletAddress.Bytes())
	burnData, err := c.messengerABIParsed.Pack("depositForBurn", quote.AmountIn, ec.DestinationDomain, mintRecipient, src.USDC)
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "pack depositForBurn")
	}

	txHash, err := c.wallet.Execute(ctx, src.ChainID, []clients.Transaction{
		{To: src.USDC, Data: approveData},
		{To: src.TokenMessenger, Data: burnData},
	})
	if err != nil {
		return ExecutionResult{}, errors.Wrap(err, "submit burn transaction")
	}

	receipt, err := c.waitReceipt(ctx, src.ChainID, txHash)
	if err != nil {
		return ExecutionResult{}, errors.Wrapf(err, "burn tx %s", txHash.Hex())
	}

	messageBody, err := c.extractMessage(receipt)
	if err != nil {
		return ExecutionResult{}, errors.Wrapf(err, "burn tx %s", txHash.Hex())
	}
	messageHash := keccak256(messageBody)

	c.logger.Info("cctp burn submitted",
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("sourceChain", ec.SourceChainID),
		zap.Uint64("destinationChain", ec.DestinationChainID),
		zap.String("messageHash", messageHash.Hex()),
		zap.String("amount", quote.AmountIn.String()))

	return ExecutionResult{
		TxHash:  txHash,
		Pending: true,
		Attestation: &AttestationHandle{
			DestinationChainID: ec.DestinationChainID,
			MessageHash:        messageHash,
			MessageBody:        messageBody,
		},
	}, nil
}

func (c *CCTP) waitReceipt(ctx context.Context, chainID uint64, txHash common.Hash) (*types.Receipt, error) {
	return retrier.DoWithData(c.receipt, ctx, func(ctx context.Context) (*types.Receipt, error) {
		receipt, err := c.wallet.TransactionReceipt(ctx, chainID, txHash)
		if err != nil {
			return nil, errors.Wrap(err, "fetch receipt")
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			return nil, errors.New("burn transaction reverted")
		}
		return receipt, nil
	})
}

func (c *CCTP) extractMessage(receipt *types.Receipt) (hexutil.Bytes, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != c.messageSentTopic {
			continue
		}
		unpacked, err := c.transmitterABIParsed.Unpack("MessageSent", log.Data)
		if err != nil {
			return nil, errors.Wrap(err, "unpack MessageSent")
		}
		message, ok := unpacked[0].([]byte)
		if !ok {
			return nil, errors.New("MessageSent payload is not bytes")
		}
		return message, nil
	}
	return nil, errors.New("no MessageSent event in receipt")
}

type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
	Error       string `json:"error"`
}

// FetchAttestation polls Circle's attestation API for the given message
// hash. A message the API has not yet seen (404, or an error body saying the
// message was not found) and request timeouts both report pending, not
// failure: attestations always lag burns.
func (c *CCTP) FetchAttestation(ctx context.Context, messageHash common.Hash) (AttestationResult, error) {
	url := fmt.Sprintf("%s/v1/attestations/%s", strings.TrimRight(c.cfg.APIURL, "/"), messageHash.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return AttestationResult{}, errors.Wrap(err, "build attestation request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return AttestationResult{Status: AttestationPending}, nil
		}
		return AttestationResult{}, errors.Wrap(err, "attestation request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return AttestationResult{Status: AttestationPending}, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return AttestationResult{}, errors.Wrap(err, "read attestation response")
	}

	var ar attestationResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return AttestationResult{}, errors.Wrap(err, "decode attestation response")
	}
	if strings.Contains(strings.ToLower(ar.Error), "not found") {
		return AttestationResult{Status: AttestationPending}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return AttestationResult{}, errors.Errorf("attestation api status %d: %s", resp.StatusCode, ar.Error)
	}

	switch strings.ToLower(ar.Status) {
	case "complete":
		attestation, err := hexutil.Decode(ar.Attestation)
		if err != nil {
			return AttestationResult{}, errors.Wrap(err, "decode attestation bytes")
		}
		return AttestationResult{Status: AttestationComplete, Attestation: attestation}, nil
	case "failed":
		return AttestationResult{Status: AttestationFailed}, nil
	default:
		return AttestationResult{Status: AttestationPending}, nil
	}
}

// ReceiveMessage mints the bridged USDC on the destination chain by
// submitting the attested burn message to the message transmitter.
func (c *CCTP) ReceiveMessage(ctx context.Context, destinationChainID uint64, messageBody, attestation []byte) (common.Hash, error) {
	dst, ok := c.chains[destinationChainID]
	if !ok {
		return common.Hash{}, errors.Errorf("cctp chain %d no longer configured", destinationChainID)
	}

	data, err := c.transmitterABIParsed.Pack("receiveMessage", messageBody, attestation)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack receiveMessage")
	}

	txHash, err := c.wallet.Execute(ctx, dst.ChainID, []clients.Transaction{
		{To: dst.MessageTransmitter, Data: data},
	})
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "submit mint transaction")
	}

	c.logger.Info("cctp mint submitted",
		zap.String("txHash", txHash.Hex()),
		zap.Uint64("destinationChain", destinationChainID))

	return txHash, nil
}

// DestinationUSDC returns the USDC token config on chainID, if configured.
func (c *CCTP) DestinationUSDC(chainID uint64) (entity.TokenConfig, bool) {
	chain, ok := c.chains[chainID]
	if !ok {
		return entity.TokenConfig{}, false
	}
	return entity.TokenConfig{
		ChainID:  chainID,
		Address:  chain.USDC,
		Type:     entity.TokenTypeERC20,
		Decimals: 6,
	}, true
}

func keccak256(data []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return common.BytesToHash(h.Sum(nil))
}
