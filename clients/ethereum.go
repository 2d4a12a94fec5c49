package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vitwit/paygate/types"
	"go.uber.org/ratelimit"
)

// backend is the subset of *ethclient.Client used here.
type backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

var _ Client = (*EVMClient)(nil)

// EVMClient talks JSON-RPC to one EVM node.
type EVMClient struct {
	network      types.Network
	eth          backend
	limiter      ratelimit.Limiter
	pollInterval time.Duration
}

// EVMOption customises an EVMClient.
type EVMOption func(*EVMClient)

// WithRateLimit caps outbound RPC calls per second. Zero or less disables
// pacing.
func WithRateLimit(rps int) EVMOption {
	return func(c *EVMClient) {
		if rps > 0 {
			c.limiter = ratelimit.New(rps)
		}
	}
}

// WithPollInterval sets how often WaitForConfirmation polls for a receipt.
func WithPollInterval(d time.Duration) EVMOption {
	return func(c *EVMClient) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

func NewEVMClient(ctx context.Context, network types.Network, opts ...EVMOption) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC %s: %w", network.RPCURL, err)
	}
	return newEVMClient(network, eth, opts...), nil
}

func newEVMClient(network types.Network, eth backend, opts ...EVMOption) *EVMClient {
	c := &EVMClient{
		network:      network,
		eth:          eth,
		limiter:      ratelimit.NewUnlimited(),
		pollInterval: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *EVMClient) GetNetwork() types.Network { return c.network }
func (c *EVMClient) Close()                    { c.eth.Close() }

func (c *EVMClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	if err := c.take(ctx, "eth_getTransactionByHash"); err != nil {
		return nil, err
	}
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, rpcError("eth_getTransactionByHash", err)
	}
	return tx, nil
}

func (c *EVMClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if err := c.take(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptPending
	}
	if err != nil {
		return nil, rpcError("eth_getTransactionReceipt", err)
	}
	return receipt, nil
}

func (c *EVMClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := c.take(ctx, "eth_sendRawTransaction"); err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	return nil
}

func (c *EVMClient) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.take(ctx, "eth_chainId"); err != nil {
		return nil, err
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, rpcError("eth_chainId", err)
	}
	return id, nil
}

func (c *EVMClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.take(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, rpcError("eth_blockNumber", err)
	}
	return n, nil
}

// PollInterval is the delay between receipt polls in WaitForConfirmation.
func (c *EVMClient) PollInterval() time.Duration { return c.pollInterval }

// WaitForConfirmation polls until hash has a receipt buried under at least
// confirmations blocks (1 means "mined"). Transient RPC errors are retried
// until ctx ends.
func (c *EVMClient) WaitForConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*ethtypes.Receipt, error) {
	return pollConfirmation(ctx, c, hash, confirmations, c.pollInterval)
}

// take waits for the outbound pacer. The pacer cannot be interrupted, so a
// request cancelled while waiting fails right after its slot comes up.
func (c *EVMClient) take(ctx context.Context, method string) error {
	c.limiter.Take()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRPCUnavailable, method, err)
	}
	return nil
}

// receiptSource is what confirmation polling reads from.
type receiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

func pollConfirmation(ctx context.Context, src receiptSource, hash common.Hash, confirmations uint64, interval time.Duration) (*ethtypes.Receipt, error) {
	if confirmations == 0 {
		confirmations = 1
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := src.TransactionReceipt(ctx, hash)
		if err == nil && receipt.BlockNumber != nil {
			if confirmations == 1 {
				return receipt, nil
			}
			head, herr := src.BlockNumber(ctx)
			if herr == nil && head+1 >= receipt.BlockNumber.Uint64()+confirmations {
				return receipt, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrConfirmationTimeout, hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func rpcError(method string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
}
