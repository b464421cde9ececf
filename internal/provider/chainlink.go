package provider

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-sentinel/internal/market"
)

const (
	chainlinkName = "chainlink"

	aggregatorV3ABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`
)

var aggregatorV3ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorV3ABIJSON))
	if err != nil {
		panic("failed to parse AggregatorV3 ABI: " + err.Error())
	}
	aggregatorV3ABI = parsed
}

// ChainlinkOptions parameterise the on-chain price feed reader.
type ChainlinkOptions struct {
	RPCURL string
	// Feeds maps an instrument symbol to its AggregatorV3 proxy address.
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink reads spot prices from Chainlink aggregators over Ethereum RPC.
// It only answers quotes and is used to price the digest.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChainlink builds a new on-chain quote provider.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_provider").Logger()}
}

func (c *Chainlink) Name() string { return chainlinkName }

func (c *Chainlink) Supports(inst market.Instrument, capability Capability) bool {
	if capability != CapQuote || c.opts.RPCURL == "" {
		return false
	}
	_, ok := c.feed(inst)
	return ok
}

func (c *Chainlink) feed(inst market.Instrument) (string, bool) {
	addr, ok := c.opts.Feeds[strings.ToUpper(inst.Symbol)]
	if !ok || !common.IsHexAddress(addr) {
		return "", false
	}
	return addr, true
}

// Fetch retrieves the latest round answer scaled by the feed's decimals.
func (c *Chainlink) Fetch(ctx context.Context, inst market.Instrument, req Request) (Result, error) {
	if c.opts.RPCURL == "" {
		return Result{}, &Error{Kind: KindNotSupported, Provider: chainlinkName, Err: errors.New("ethereum rpc url not configured")}
	}
	if req.Capability != CapQuote {
		return Result{}, newError(chainlinkName, KindNotSupported, "capability %s", req.Capability)
	}
	feed, ok := c.feed(inst)
	if !ok {
		return Result{}, newError(chainlinkName, KindNotSupported, "no price feed configured for %s", inst.Symbol)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Result{}, classify(chainlinkName, err)
	}
	addr := common.HexToAddress(feed)

	decOut, err := c.call(ctx, client, addr, "decimals")
	if err != nil {
		return Result{}, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return Result{}, newError(chainlinkName, KindUnavailable, "failed to decode decimals output")
	}

	roundOut, err := c.call(ctx, client, addr, "latestRoundData")
	if err != nil {
		return Result{}, err
	}
	if len(roundOut) != 5 {
		return Result{}, newError(chainlinkName, KindUnavailable, "unexpected latestRoundData response")
	}
	answer, ok := roundOut[1].(*big.Int)
	if !ok || answer.Sign() <= 0 {
		return Result{}, newError(chainlinkName, KindUnavailable, "invalid answer for %s", inst.Symbol)
	}
	updatedAt, ok := roundOut[3].(*big.Int)
	if !ok {
		return Result{}, newError(chainlinkName, KindUnavailable, "failed to decode updatedAt")
	}

	price := scaleAnswer(answer, decimals)
	c.logger.Debug().Str("symbol", inst.Symbol).Str("price", price.String()).Msg("feed answer read")
	return Result{Provider: chainlinkName, Quote: price, AsOf: time.Unix(updatedAt.Int64(), 0).UTC()}, nil
}

// scaleAnswer converts a raw aggregator answer into a price with the feed's
// decimals.
func scaleAnswer(answer *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(answer, -int32(decimals))
}

func (c *Chainlink) call(ctx context.Context, client *ethclient.Client, addr common.Address, method string) ([]any, error) {
	payload, err := aggregatorV3ABI.Pack(method)
	if err != nil {
		return nil, newError(chainlinkName, KindUnavailable, "pack %s: %v", method, err)
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, classify(chainlinkName, err)
	}
	outputs, err := aggregatorV3ABI.Unpack(method, res)
	if err != nil {
		return nil, newError(chainlinkName, KindUnavailable, "unpack %s: %v", method, err)
	}
	if len(outputs) == 0 {
		return nil, newError(chainlinkName, KindUnavailable, "empty %s response", method)
	}
	return outputs, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ Provider = (*Chainlink)(nil)
