package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solvernet/rebalancer/internal/entity"
	"github.com/solvernet/rebalancer/pkg/tokenmath"
	"gopkg.in/yaml.v3"
)

// Config is the validated runtime configuration of the rebalancer.
type Config struct {
	WalletAddress common.Address
	// CheckInterval is the period of the balance-check cron.
	CheckInterval time.Duration
	// QuoteTimeout bounds each provider quote call.
	QuoteTimeout time.Duration
	// MaxQuoteSlippage is the 0..1 fraction above which quotes are rejected.
	MaxQuoteSlippage decimal.Decimal
	// MinTradeAmount skips dust rebalances, in smallest units of the deficit token.
	MinTradeAmount *big.Int
	// Band holds the deficit/surplus thresholds around each token's target.
	Band tokenmath.Percentages

	WALDir string
	// Workers sizes the queue worker pool.
	Workers int

	// RPCEndpoints maps chain ids to JSON-RPC URLs.
	RPCEndpoints map[uint64]string
	// TxServiceURL is the external transaction signing service.
	TxServiceURL string
	// WebAddr enables the ops HTTP server when set.
	WebAddr string

	Retry  RetryConfig
	Tokens []entity.TokenConfig

	LiFi LiFiConfig
	CCTP CCTPConfig
}

// RetryConfig tunes the backoff applied to failing and pending jobs.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Jitter          float64       `yaml:"jitter"`
}

// LiFiConfig configures the LiFi aggregator integration.
type LiFiConfig struct {
	APIURL  string `yaml:"api_url"`
	Enabled bool   `yaml:"enabled"`
}

// CCTPChainConfig maps one chain onto its CCTP contracts and domain id.
type CCTPChainConfig struct {
	ChainID            uint64
	Domain             uint32
	TokenMessenger     common.Address
	MessageTransmitter common.Address
	USDC               common.Address
}

// CCTPConfig configures the CCTP burn-and-mint integration.
type CCTPConfig struct {
	APIURL  string
	Enabled bool
	Chains  []CCTPChainConfig
}

type rawToken struct {
	ChainID       uint64 `yaml:"chain_id"`
	Address       string `yaml:"address"`
	Type          string `yaml:"type"`
	MinBalance    string `yaml:"min_balance"`
	TargetBalance string `yaml:"target_balance"`
	Decimals      uint8  `yaml:"decimals"`
}

type rawCCTPChain struct {
	ChainID            uint64 `yaml:"chain_id"`
	Domain             uint32 `yaml:"domain"`
	TokenMessenger     string `yaml:"token_messenger"`
	MessageTransmitter string `yaml:"message_transmitter"`
	USDC               string `yaml:"usdc"`
}

type rawConfig struct {
	WalletAddress    string        `yaml:"wallet_address"`
	CheckInterval    time.Duration `yaml:"check_interval"`
	QuoteTimeout     time.Duration `yaml:"quote_timeout"`
	MaxQuoteSlippage string        `yaml:"max_quote_slippage"`
	MinTradeAmount   string        `yaml:"min_trade_amount"`
	Band             struct {
		Up   string `yaml:"up"`
		Down string `yaml:"down"`
	} `yaml:"band"`
	WALDir       string            `yaml:"wal_dir"`
	Workers      int               `yaml:"workers"`
	RPCEndpoints map[uint64]string `yaml:"rpc_endpoints"`
	TxServiceURL string            `yaml:"tx_service_url"`
	WebAddr      string            `yaml:"web_addr"`
	Retry        RetryConfig       `yaml:"retry"`
	Tokens       []rawToken        `yaml:"tokens"`
	LiFi         LiFiConfig        `yaml:"lifi"`
	CCTP         struct {
		APIURL  string         `yaml:"api_url"`
		Enabled bool           `yaml:"enabled"`
		Chains  []rawCCTPChain `yaml:"chains"`
	} `yaml:"cctp"`
}

// Get loads and validates configuration from the yaml file at path.
func Get(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var raw rawConfig
	if err := yaml.Unmarshal(f, &raw); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}

	return fromRaw(raw)
}

func fromRaw(raw rawConfig) (*Config, error) {
	if !common.IsHexAddress(raw.WalletAddress) {
		return nil, fmt.Errorf("invalid wallet_address %q", raw.WalletAddress)
	}
	if raw.CheckInterval <= 0 {
		return nil, errors.New("check_interval must be positive")
	}
	if raw.QuoteTimeout <= 0 {
		return nil, errors.New("quote_timeout must be positive")
	}

	maxSlippage, err := decimal.NewFromString(raw.MaxQuoteSlippage)
	if err != nil {
		return nil, errors.Wrap(err, "invalid max_quote_slippage")
	}
	if maxSlippage.IsNegative() || maxSlippage.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("max_quote_slippage %s out of [0,1]", maxSlippage)
	}

	band, err := parseBand(raw.Band.Up, raw.Band.Down)
	if err != nil {
		return nil, err
	}

	minTrade := big.NewInt(0)
	if raw.MinTradeAmount != "" {
		v, ok := new(big.Int).SetString(raw.MinTradeAmount, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("invalid min_trade_amount %q", raw.MinTradeAmount)
		}
		minTrade = v
	}

	tokens := make([]entity.TokenConfig, 0, len(raw.Tokens))
	for _, rt := range raw.Tokens {
		token, err := parseToken(rt)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return nil, errors.New("at least one token must be configured")
	}

	cctpChains := make([]CCTPChainConfig, 0, len(raw.CCTP.Chains))
	for _, rc := range raw.CCTP.Chains {
		chain, err := parseCCTPChain(rc)
		if err != nil {
			return nil, err
		}
		cctpChains = append(cctpChains, chain)
	}

	retry := raw.Retry
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 5 * time.Second
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 2 * time.Minute
	}
	if retry.Multiplier <= 1 {
		retry.Multiplier = 2
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 10
	}
	if retry.Jitter < 0 || retry.Jitter > 1 {
		return nil, fmt.Errorf("retry.jitter %f out of [0,1]", retry.Jitter)
	}

	walDir := raw.WALDir
	if walDir == "" {
		walDir = "./wal"
	}

	workers := raw.Workers
	if workers <= 0 {
		workers = 4
	}

	if raw.TxServiceURL == "" {
		return nil, errors.New("tx_service_url is required")
	}
	for _, token := range tokens {
		if _, ok := raw.RPCEndpoints[token.ChainID]; !ok {
			return nil, fmt.Errorf("no rpc endpoint configured for chain %d", token.ChainID)
		}
	}

	return &Config{
		WalletAddress:    common.HexToAddress(raw.WalletAddress),
		CheckInterval:    raw.CheckInterval,
		QuoteTimeout:     raw.QuoteTimeout,
		MaxQuoteSlippage: maxSlippage,
		MinTradeAmount:   minTrade,
		Band:             band,
		WALDir:           walDir,
		Workers:          workers,
		RPCEndpoints:     raw.RPCEndpoints,
		TxServiceURL:     raw.TxServiceURL,
		WebAddr:          raw.WebAddr,
		Retry:            retry,
		Tokens:           tokens,
		LiFi:             raw.LiFi,
		CCTP: CCTPConfig{
			APIURL:  raw.CCTP.APIURL,
			Enabled: raw.CCTP.Enabled,
			Chains:  cctpChains,
		},
	}, nil
}

func parseBand(up, down string) (tokenmath.Percentages, error) {
	var band tokenmath.Percentages
	var err error

	if band.Up, err = decimal.NewFromString(up); err != nil {
		return band, errors.Wrap(err, "invalid band.up")
	}
	if band.Down, err = decimal.NewFromString(down); err != nil {
		return band, errors.Wrap(err, "invalid band.down")
	}

	one := decimal.NewFromInt(1)
	if band.Up.IsNegative() || band.Down.IsNegative() || !band.Down.LessThan(one) {
		return band, fmt.Errorf("band up=%s down=%s out of range", band.Up, band.Down)
	}

	return band, nil
}

func parseToken(rt rawToken) (entity.TokenConfig, error) {
	var token entity.TokenConfig

	if rt.ChainID == 0 {
		return token, errors.New("token chain_id is required")
	}
	if !common.IsHexAddress(rt.Address) {
		return token, fmt.Errorf("invalid token address %q on chain %d", rt.Address, rt.ChainID)
	}

	tokenType := entity.TokenType(rt.Type)
	if tokenType != entity.TokenTypeNative && tokenType != entity.TokenTypeERC20 {
		return token, fmt.Errorf("invalid token type %q for %s", rt.Type, rt.Address)
	}

	minBalance, ok := new(big.Int).SetString(rt.MinBalance, 10)
	if !ok || minBalance.Sign() < 0 {
		return token, fmt.Errorf("invalid min_balance %q for %s", rt.MinBalance, rt.Address)
	}
	targetBalance, ok := new(big.Int).SetString(rt.TargetBalance, 10)
	if !ok || targetBalance.Sign() <= 0 {
		return token, fmt.Errorf("invalid target_balance %q for %s", rt.TargetBalance, rt.Address)
	}
	if minBalance.Cmp(targetBalance) >= 0 {
		return token, fmt.Errorf("min_balance must be below target_balance for %s", rt.Address)
	}

	return entity.TokenConfig{
		ChainID:       rt.ChainID,
		Address:       common.HexToAddress(rt.Address),
		Type:          tokenType,
		MinBalance:    minBalance,
		TargetBalance: targetBalance,
		Decimals:      rt.Decimals,
	}, nil
}

func parseCCTPChain(rc rawCCTPChain) (CCTPChainConfig, error) {
	var chain CCTPChainConfig

	if rc.ChainID == 0 {
		return chain, errors.New("cctp chain_id is required")
	}
	for name, addr := range map[string]string{
		"token_messenger":     rc.TokenMessenger,
		"message_transmitter": rc.MessageTransmitter,
		"usdc":                rc.USDC,
	} {
		if !common.IsHexAddress(addr) {
			return chain, fmt.Errorf("invalid cctp %s %q on chain %d", name, addr, rc.ChainID)
		}
	}

	return CCTPChainConfig{
		ChainID:            rc.ChainID,
		Domain:             rc.Domain,
		TokenMessenger:     common.HexToAddress(rc.TokenMessenger),
		MessageTransmitter: common.HexToAddress(rc.MessageTransmitter),
		USDC:               common.HexToAddress(rc.USDC),
	}, nil
}
