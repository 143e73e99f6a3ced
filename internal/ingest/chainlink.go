package ingest

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

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/scheduler"
)

const aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain poller.
type ChainlinkOptions struct {
	RPCURL      string
	FeedAddress string
	Asset       string
	Currency    market.Currency
	// Decimals is the feed's answer precision; XAU/USD feeds use 8.
	Decimals int32
	Interval time.Duration
	Timeout  time.Duration
}

// Chainlink polls a price-feed aggregator's latestRoundData over Ethereum
// RPC and turns each new round into a tick. Rounds already delivered are
// skipped, so polling faster than the feed updates never produces
// regressing timestamps.
type Chainlink struct {
	opts        ChainlinkOptions
	logger      zerolog.Logger
	client      *ethclient.Client
	clientMux   sync.Mutex
	lastUpdated time.Time
}

// NewChainlink builds the poller.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) (*Chainlink, error) {
	if opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url is required")
	}
	if opts.FeedAddress == "" {
		return nil, errors.New("feed address is required")
	}
	if opts.Asset == "" {
		return nil, errors.New("asset is required")
	}
	if !opts.Currency.Valid() {
		return nil, errors.New("feed currency is required")
	}
	if opts.Decimals <= 0 {
		opts.Decimals = 8
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &Chainlink{
		opts:   opts,
		logger: logger.With().Str("component", "chainlink_source").Logger(),
	}, nil
}

// Run polls on the configured interval until ctx is cancelled or the
// handler reports a fatal error.
func (c *Chainlink) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var handleErr error
	sched := scheduler.New(scheduler.Options{Interval: c.opts.Interval}, c.logger)
	err := sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		obs, fresh, err := c.fetch(ctx)
		if err != nil {
			c.logger.Error().Err(err).Msg("feed poll failed")
			return nil // keep polling
		}
		if !fresh {
			return nil
		}
		if err := handle(ctx, obs); err != nil {
			handleErr = err
			cancel()
			return err
		}
		return nil
	})

	if handleErr != nil {
		return handleErr
	}
	return err
}

func (c *Chainlink) fetch(ctx context.Context) (market.PriceObservation, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return market.PriceObservation{}, false, err
	}

	addr := common.HexToAddress(c.opts.FeedAddress)
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return market.PriceObservation{}, false, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return market.PriceObservation{}, false, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return market.PriceObservation{}, false, err
	}
	if len(outputs) != 5 {
		return market.PriceObservation{}, false, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return market.PriceObservation{}, false, errors.New("failed to decode feed answer")
	}
	updatedAtBig, ok := outputs[3].(*big.Int)
	if !ok {
		return market.PriceObservation{}, false, errors.New("failed to decode feed timestamp")
	}

	updatedAt := time.Unix(updatedAtBig.Int64(), 0).UTC()
	if !updatedAt.After(c.lastUpdated) {
		return market.PriceObservation{}, false, nil
	}
	c.lastUpdated = updatedAt

	return market.PriceObservation{
		Asset:     c.opts.Asset,
		Currency:  c.opts.Currency,
		Price:     decimal.NewFromBigInt(answer, -c.opts.Decimals),
		Timestamp: updatedAt,
	}, true, nil
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

var _ Source = (*Chainlink)(nil)
