package provider

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/solvernet/rebalancer/config"
	"github.com/solvernet/rebalancer/internal/clients"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	testWalletAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherAddr      = common.HexToAddress("0x2222222222222222222222222222222222222222")

	optimismUSDC = common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	baseUSDC     = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
)

type stubWallet struct {
	addr       common.Address
	txHash     common.Hash
	execErr    error
	execChain  uint64
	execTxs    []clients.Transaction
	receipt    *types.Receipt
	receiptErr error
}

func (w *stubWallet) Address() common.Address { return w.addr }

func (w *stubWallet) Execute(_ context.Context, chainID uint64, txs []clients.Transaction) (common.Hash, error) {
	w.execChain = chainID
	w.execTxs = txs
	return w.txHash, w.execErr
}

func (w *stubWallet) TransactionReceipt(context.Context, uint64, common.Hash) (*types.Receipt, error) {
	return w.receipt, w.receiptErr
}

func usdcData(chainID uint64, addr common.Address) entity.TokenData {
	return entity.TokenData{Config: entity.TokenConfig{
		ChainID:  chainID,
		Address:  addr,
		Type:     entity.TokenTypeERC20,
		Decimals: 6,
	}}
}

func testCCTPConfig(apiURL string) config.CCTPConfig {
	return config.CCTPConfig{
		APIURL:  apiURL,
		Enabled: true,
		Chains: []config.CCTPChainConfig{
			{
				ChainID:            10,
				Domain:             2,
				TokenMessenger:     common.HexToAddress("0x2B4069517957735bE00ceE0fadAE88a26365528f"),
				MessageTransmitter: common.HexToAddress("0x4D41f22c5a0e5c74090899E5a8Fb597a8842b3e8"),
				USDC:               optimismUSDC,
			},
			{
				ChainID:            8453,
				Domain:             6,
				TokenMessenger:     common.HexToAddress("0x1682Ae6375C4E4A97e4B583BC394c861A46D8962"),
				MessageTransmitter: common.HexToAddress("0xAD09780d193884d503182aD4588450C416D6F9D4"),
				USDC:               baseUSDC,
			},
		},
	}
}

func TestLiFiGetQuote(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{
			"estimate": map[string]string{
				"fromAmount":  "1000000",
				"toAmount":    "998000",
				"toAmountMin": "995000",
			},
			"transactionRequest": map[string]string{
				"to":    "0x3333333333333333333333333333333333333333",
				"data":  "0xdeadbeef",
				"value": "0x0",
			},
		})
	}))
	defer srv.Close()

	wallet := &stubWallet{addr: testWalletAddr}
	lifi := NewLiFi(srv.URL, wallet, zap.NewNop())

	quote, err := lifi.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(1_000_000))
	require.NoError(t, err)

	assert.Equal(t, entity.StrategyLiFi, quote.Strategy)
	assert.Equal(t, big.NewInt(1_000_000), quote.AmountIn)
	assert.Equal(t, big.NewInt(998_000), quote.AmountOut)
	assert.Equal(t, "0.005", quote.Slippage.String())
	assert.Contains(t, gotQuery, "fromChain=10")
	assert.Contains(t, gotQuery, "toChain=8453")
	assert.Contains(t, gotQuery, "fromAddress="+testWalletAddr.Hex())

	var ec lifiContext
	require.NoError(t, json.Unmarshal(quote.Context, &ec))
	assert.Equal(t, testWalletAddr, ec.FromAddress)
	assert.Equal(t, uint64(10), ec.ChainID)
	assert.Equal(t, hexutil.Bytes{0xde, 0xad, 0xbe, 0xef}, ec.Data)
}

func TestLiFiGetQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "No available quotes for the requested transfer"})
	}))
	defer srv.Close()

	lifi := NewLiFi(srv.URL, &stubWallet{addr: testWalletAddr}, zap.NewNop())

	_, err := lifi.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(1))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestLiFiGetQuoteMissingAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"estimate":           map[string]string{"fromAmount": "1000000"},
			"transactionRequest": map[string]string{"to": "0x3333333333333333333333333333333333333333", "data": "0x"},
		})
	}))
	defer srv.Close()

	lifi := NewLiFi(srv.URL, &stubWallet{addr: testWalletAddr}, zap.NewNop())

	_, err := lifi.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(1))
	assert.ErrorIs(t, err, ErrMissingQuoteAmounts)
}

func TestLiFiExecute(t *testing.T) {
	wallet := &stubWallet{addr: testWalletAddr, txHash: common.HexToHash("0xabc1")}
	lifi := NewLiFi("http://unused", wallet, zap.NewNop())

	ec, err := json.Marshal(lifiContext{
		FromAddress: testWalletAddr,
		ChainID:     10,
		To:          common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Data:        hexutil.Bytes{0x01},
		Value:       (*hexutil.Big)(big.NewInt(0)),
	})
	require.NoError(t, err)

	quote := &entity.RebalanceQuote{
		TokenIn:  usdcData(10, optimismUSDC),
		TokenOut: usdcData(8453, baseUSDC),
		Context:  ec,
	}

	res, err := lifi.Execute(context.Background(), testWalletAddr, quote)
	require.NoError(t, err)
	assert.False(t, res.Pending)
	assert.Equal(t, wallet.txHash, res.TxHash)
	assert.Equal(t, uint64(10), wallet.execChain)
	require.Len(t, wallet.execTxs, 1)

	_, err = lifi.Execute(context.Background(), otherAddr, quote)
	assert.ErrorIs(t, err, ErrWalletMismatch)
}

func TestCCTPGetQuote(t *testing.T) {
	wallet := &stubWallet{addr: testWalletAddr}
	cctp, err := NewCCTP(testCCTPConfig("http://unused"), wallet, zap.NewNop())
	require.NoError(t, err)

	t.Run("usdc between configured chains", func(t *testing.T) {
		quote, err := cctp.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(5_000_000))
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(5_000_000), quote.AmountIn)
		assert.Equal(t, big.NewInt(5_000_000), quote.AmountOut)
		assert.True(t, quote.Slippage.IsZero())
	})

	t.Run("non-usdc token rejected", func(t *testing.T) {
		weth := usdcData(10, common.HexToAddress("0x4200000000000000000000000000000000000006"))
		_, err := cctp.GetQuote(context.Background(), weth, usdcData(8453, baseUSDC), big.NewInt(1))
		assert.ErrorIs(t, err, ErrUnsupportedRoute)
	})

	t.Run("unconfigured chain rejected", func(t *testing.T) {
		_, err := cctp.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(42161, baseUSDC), big.NewInt(1))
		assert.ErrorIs(t, err, ErrUnsupportedRoute)
	})

	t.Run("same chain rejected", func(t *testing.T) {
		_, err := cctp.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(10, optimismUSDC), big.NewInt(1))
		assert.ErrorIs(t, err, ErrUnsupportedRoute)
	})
}

func TestCCTPExecute(t *testing.T) {
	transmitterABI, err := abi.JSON(strings.NewReader(messageTransmitterABIJSON))
	require.NoError(t, err)

	message := []byte("burn message body")
	logData, err := transmitterABI.Events["MessageSent"].Inputs.Pack(message)
	require.NoError(t, err)

	wallet := &stubWallet{
		addr:   testWalletAddr,
		txHash: common.HexToHash("0xabc2"),
		receipt: &types.Receipt{
			Status: types.ReceiptStatusSuccessful,
			Logs: []*types.Log{{
				Topics: []common.Hash{transmitterABI.Events["MessageSent"].ID},
				Data:   logData,
			}},
		},
	}

	cctp, err := NewCCTP(testCCTPConfig("http://unused"), wallet, zap.NewNop())
	require.NoError(t, err)

	quote, err := cctp.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(5_000_000))
	require.NoError(t, err)

	res, err := cctp.Execute(context.Background(), testWalletAddr, quote)
	require.NoError(t, err)

	assert.True(t, res.Pending)
	require.NotNil(t, res.Attestation)
	assert.Equal(t, uint64(8453), res.Attestation.DestinationChainID)
	assert.Equal(t, hexutil.Bytes(message), res.Attestation.MessageBody)
	assert.Equal(t, keccak256(message), res.Attestation.MessageHash)

	// approve then depositForBurn in one batch on the source chain
	assert.Equal(t, uint64(10), wallet.execChain)
	require.Len(t, wallet.execTxs, 2)
	assert.Equal(t, optimismUSDC, wallet.execTxs[0].To)

	_, err = cctp.Execute(context.Background(), otherAddr, quote)
	assert.ErrorIs(t, err, ErrWalletMismatch)
}

func TestCCTPFetchAttestation(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		want       AttestationStatus
	}{
		{"complete", http.StatusOK, `{"status":"complete","attestation":"0x0102"}`, AttestationComplete},
		{"pending", http.StatusOK, `{"status":"pending_confirmations"}`, AttestationPending},
		{"unseen message 404", http.StatusNotFound, `{}`, AttestationPending},
		{"not found error body", http.StatusOK, `{"error":"Message hash not found"}`, AttestationPending},
		{"failed", http.StatusOK, `{"status":"failed"}`, AttestationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/v1/attestations/0x")
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			cctp, err := NewCCTP(testCCTPConfig(srv.URL), &stubWallet{addr: testWalletAddr}, zap.NewNop())
			require.NoError(t, err)

			res, err := cctp.FetchAttestation(context.Background(), keccak256([]byte("msg")))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			if tt.want == AttestationComplete {
				assert.Equal(t, hexutil.Bytes{0x01, 0x02}, res.Attestation)
			}
		})
	}
}

func TestCCTPFetchAttestationStalledAPIReportsPending(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cctp, err := NewCCTP(testCCTPConfig(srv.URL), &stubWallet{addr: testWalletAddr}, zap.NewNop())
	require.NoError(t, err)
	cctp.http.Timeout = 50 * time.Millisecond

	// no deadline on the ctx: the client timeout alone must bound the poll
	start := time.Now()
	res, err := cctp.FetchAttestation(context.Background(), keccak256([]byte("msg")))
	require.NoError(t, err)
	assert.Equal(t, AttestationPending, res.Status)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestProviderHTTPClientsHaveTimeouts(t *testing.T) {
	wallet := &stubWallet{addr: testWalletAddr}

	cctp, err := NewCCTP(testCCTPConfig("http://unused"), wallet, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, apiTimeout, cctp.http.Timeout)

	lifi := NewLiFi("http://unused", wallet, zap.NewNop())
	assert.Equal(t, apiTimeout, lifi.http.Timeout)
}

func TestCCTPLiFiGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"estimate": map[string]string{
				"fromAmount":  "5000000",
				"toAmount":    "4950000",
				"toAmountMin": "4900000",
			},
			"transactionRequest": map[string]string{
				"to":    "0x3333333333333333333333333333333333333333",
				"data":  "0x01",
				"value": "0x0",
			},
		})
	}))
	defer srv.Close()

	wallet := &stubWallet{addr: testWalletAddr}
	cctp, err := NewCCTP(testCCTPConfig("http://unused"), wallet, zap.NewNop())
	require.NoError(t, err)
	lifi := NewLiFi(srv.URL, wallet, zap.NewNop())
	composite := NewCCTPLiFi(cctp, lifi, zap.NewNop())

	target := usdcData(8453, common.HexToAddress("0x4200000000000000000000000000000000000006"))
	quote, err := composite.GetQuote(context.Background(), usdcData(10, optimismUSDC), target, big.NewInt(5_000_000))
	require.NoError(t, err)

	assert.Equal(t, entity.StrategyCCTPLiFi, quote.Strategy)
	assert.Equal(t, big.NewInt(5_000_000), quote.AmountIn)
	assert.Equal(t, big.NewInt(4_950_000), quote.AmountOut)
	// bridge leg is lossless so compound slippage equals the swap leg's
	assert.Equal(t, "0.02", quote.Slippage.String())

	var ec cctpLifiContext
	require.NoError(t, json.Unmarshal(quote.Context, &ec))
	assert.NotEmpty(t, ec.Bridge)
	assert.NotEmpty(t, ec.DestinationSwap)

	t.Run("usdc target rejected", func(t *testing.T) {
		_, err := composite.GetQuote(context.Background(), usdcData(10, optimismUSDC), usdcData(8453, baseUSDC), big.NewInt(1))
		assert.ErrorIs(t, err, ErrUnsupportedRoute)
	})
}

func TestRegistryOrder(t *testing.T) {
	wallet := &stubWallet{addr: testWalletAddr}
	cctp, err := NewCCTP(testCCTPConfig("http://unused"), wallet, zap.NewNop())
	require.NoError(t, err)
	lifi := NewLiFi("http://unused", wallet, zap.NewNop())

	reg := NewRegistry(lifi, cctp, NewCCTPLiFi(cctp, lifi, zap.NewNop()))

	var order []entity.Strategy
	for _, p := range reg.All() {
		order = append(order, p.Strategy())
	}
	assert.Equal(t, []entity.Strategy{entity.StrategyCCTP, entity.StrategyCCTPLiFi, entity.StrategyLiFi}, order)

	got, ok := reg.Get(entity.StrategyLiFi)
	require.True(t, ok)
	assert.Equal(t, entity.StrategyLiFi, got.Strategy())

	_, ok = reg.Get("unknown")
	assert.False(t, ok)
}
