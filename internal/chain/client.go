package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

const (
	uiPoolDataProviderABIJSON = `[{"inputs":[{"internalType":"address","name":"provider","type":"address"}],"name":"getReservesData","outputs":[{"components":[{"internalType":"address","name":"underlyingAsset","type":"address"},{"internalType":"string","name":"symbol","type":"string"},{"internalType":"uint256","name":"decimals","type":"uint256"},{"internalType":"address","name":"aTokenAddress","type":"address"},{"internalType":"address","name":"variableDebtTokenAddress","type":"address"}],"internalType":"struct IUiPoolDataProvider.AggregatedReserveData[]","name":"","type":"tuple[]"}],"stateMutability":"view","type":"function"}]`

	walletBalanceProviderABIJSON = `[{"inputs":[{"internalType":"address[]","name":"users","type":"address[]"},{"internalType":"address[]","name":"tokens","type":"address[]"}],"name":"batchBalanceOf","outputs":[{"internalType":"uint256[]","name":"","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`

	aaveOracleABIJSON = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getAssetPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getSourceOfAsset","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

	aggregatorABIJSON = `[{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var (
	uiPoolDataProviderABI    abi.ABI
	walletBalanceProviderABI abi.ABI
	aaveOracleABI            abi.ABI
	aggregatorABI            abi.ABI
)

func init() {
	for _, entry := range []struct {
		name string
		json string
		dst  *abi.ABI
	}{
		{"UiPoolDataProvider", uiPoolDataProviderABIJSON, &uiPoolDataProviderABI},
		{"WalletBalanceProvider", walletBalanceProviderABIJSON, &walletBalanceProviderABI},
		{"AaveOracle", aaveOracleABIJSON, &aaveOracleABI},
		{"Aggregator", aggregatorABIJSON, &aggregatorABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(entry.json))
		if err != nil {
			panic("failed to parse " + entry.name + " ABI: " + err.Error())
		}
		*entry.dst = parsed
	}
}

type aggregatedReserveData struct {
	UnderlyingAsset          common.Address
	Symbol                   string
	Decimals                 *big.Int
	ATokenAddress            common.Address
	VariableDebtTokenAddress common.Address
}

// ClientOptions parameterise the on-chain data source.
type ClientOptions struct {
	RPCURL                       string
	UIPoolDataProvider           string
	LendingPoolAddressesProvider string
	WalletBalanceProvider        string
	AaveOracle                   string
	Timeout                      time.Duration
}

// Client reads protocol state over Ethereum RPC, pinned to explicit heights.
type Client struct {
	opts      ClientOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewClient builds a new chain data source.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	return &Client{opts: opts, logger: logger.With().Str("component", "chain_client").Logger()}
}

// LatestBlock returns the current chain head.
func (c *Client) LatestBlock(ctx context.Context) (Block, error) {
	return c.headerAt(ctx, nil)
}

// BlockAt returns the block at the given height; a block the chain has not
// produced yet is an error, not an empty result.
func (c *Client) BlockAt(ctx context.Context, height uint64) (Block, error) {
	block, err := c.headerAt(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Block{}, fmt.Errorf("block %d not found", height)
		}
		return Block{}, err
	}
	return block, nil
}

func (c *Client) headerAt(ctx context.Context, number *big.Int) (Block, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Block{}, err
	}

	header, err := client.HeaderByNumber(ctx, number)
	if err != nil {
		return Block{}, err
	}
	if header == nil {
		return Block{}, ethereum.NotFound
	}

	return Block{Height: header.Number.Uint64(), Timestamp: header.Time}, nil
}

// ReservesData returns the protocol reserve descriptors at the given height.
func (c *Client) ReservesData(ctx context.Context, height uint64) ([]Reserve, error) {
	payload, err := uiPoolDataProviderABI.Pack("getReservesData", common.HexToAddress(c.opts.LendingPoolAddressesProvider))
	if err != nil {
		return nil, err
	}

	res, err := c.callAt(ctx, c.opts.UIPoolDataProvider, payload, height)
	if err != nil {
		return nil, fmt.Errorf("get reserves data: %w", err)
	}

	outputs, err := uiPoolDataProviderABI.Unpack("getReservesData", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected getReservesData response")
	}

	raw := *abi.ConvertType(outputs[0], new([]aggregatedReserveData)).(*[]aggregatedReserveData)

	reserves := make([]Reserve, 0, len(raw))
	for _, r := range raw {
		reserves = append(reserves, Reserve{
			UnderlyingAsset:   r.UnderlyingAsset,
			Symbol:            r.Symbol,
			Decimals:          int32(r.Decimals.Int64()),
			AToken:            r.ATokenAddress,
			VariableDebtToken: r.VariableDebtTokenAddress,
		})
	}
	return reserves, nil
}

// AssetPrice returns the raw oracle price of a token at the given height.
func (c *Client) AssetPrice(ctx context.Context, token common.Address, height uint64) (*big.Int, error) {
	payload, err := aaveOracleABI.Pack("getAssetPrice", token)
	if err != nil {
		return nil, err
	}

	res, err := c.callAt(ctx, c.opts.AaveOracle, payload, height)
	if err != nil {
		return nil, fmt.Errorf("get asset price for %s: %w", token.Hex(), err)
	}

	outputs, err := aaveOracleABI.Unpack("getAssetPrice", res)
	if err != nil {
		return nil, err
	}

	price, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode getAssetPrice output")
	}
	return price, nil
}

// AssetPriceDecimals returns the decimal precision of the price source
// feeding the oracle for a token, read at the given height.
func (c *Client) AssetPriceDecimals(ctx context.Context, token common.Address, height uint64) (uint8, error) {
	payload, err := aaveOracleABI.Pack("getSourceOfAsset", token)
	if err != nil {
		return 0, err
	}

	res, err := c.callAt(ctx, c.opts.AaveOracle, payload, height)
	if err != nil {
		return 0, fmt.Errorf("get price source for %s: %w", token.Hex(), err)
	}

	outputs, err := aaveOracleABI.Unpack("getSourceOfAsset", res)
	if err != nil {
		return 0, err
	}

	source, ok := outputs[0].(common.Address)
	if !ok {
		return 0, errors.New("failed to decode getSourceOfAsset output")
	}

	payload, err = aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}

	res, err = c.callAt(ctx, source.Hex(), payload, height)
	if err != nil {
		return 0, fmt.Errorf("get price decimals for %s: %w", token.Hex(), err)
	}

	outputs, err = aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}

	decimals, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}
	return decimals, nil
}

// BalancesOf returns the raw balances of one user across tokens at the given
// height, in token order.
func (c *Client) BalancesOf(ctx context.Context, user common.Address, tokens []common.Address, height uint64) ([]*big.Int, error) {
	payload, err := walletBalanceProviderABI.Pack("batchBalanceOf", []common.Address{user}, tokens)
	if err != nil {
		return nil, err
	}

	res, err := c.callAt(ctx, c.opts.WalletBalanceProvider, payload, height)
	if err != nil {
		return nil, fmt.Errorf("batch balance of %s: %w", user.Hex(), err)
	}

	outputs, err := walletBalanceProviderABI.Unpack("batchBalanceOf", res)
	if err != nil {
		return nil, err
	}

	balances, ok := outputs[0].([]*big.Int)
	if !ok {
		return nil, errors.New("failed to decode batchBalanceOf output")
	}
	if len(balances) != len(tokens) {
		return nil, fmt.Errorf("expected %d balances, got %d", len(tokens), len(balances))
	}
	return balances, nil
}

func (c *Client) callAt(ctx context.Context, to string, payload []byte, height uint64) ([]byte, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	addr := common.HexToAddress(to)
	return client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, new(big.Int).SetUint64(height))
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (c *Client) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	if c.opts.RPCURL == "" {
		return nil, errors.New("chain rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ DataSource = (*Client)(nil)
