package clients

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/metrics"
)

// ObservedClient records latency and status for every RPC made through the
// wrapped client. Not-found and pending answers count as successful calls.
type ObservedClient struct {
	Client
	rec metrics.Recorder
}

var _ Client = (*ObservedClient)(nil)

func NewObservedClient(c Client, rec metrics.Recorder) *ObservedClient {
	return &ObservedClient{Client: c, rec: rec}
}

func (o *ObservedClient) observe(method string, err error, started time.Time) {
	if errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrReceiptPending) {
		err = nil
	}
	o.rec.ObserveRPC(method, err, time.Since(started))
}

func (o *ObservedClient) TransactionByHash(ctx context.Context, hash common.Hash) (tx *ethtypes.Transaction, err error) {
	defer func(start time.Time) { o.observe("eth_getTransactionByHash", err, start) }(time.Now())
	return o.Client.TransactionByHash(ctx, hash)
}

func (o *ObservedClient) TransactionReceipt(ctx context.Context, hash common.Hash) (r *ethtypes.Receipt, err error) {
	defer func(start time.Time) { o.observe("eth_getTransactionReceipt", err, start) }(time.Now())
	return o.Client.TransactionReceipt(ctx, hash)
}

func (o *ObservedClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) (err error) {
	defer func(start time.Time) { o.observe("eth_sendRawTransaction", err, start) }(time.Now())
	return o.Client.SendTransaction(ctx, tx)
}

func (o *ObservedClient) ChainID(ctx context.Context) (id *big.Int, err error) {
	defer func(start time.Time) { o.observe("eth_chainId", err, start) }(time.Now())
	return o.Client.ChainID(ctx)
}

func (o *ObservedClient) BlockNumber(ctx context.Context) (n uint64, err error) {
	defer func(start time.Time) { o.observe("eth_blockNumber", err, start) }(time.Now())
	return o.Client.BlockNumber(ctx)
}

// WaitForConfirmation runs the receipt polling through the observed methods
// when the wrapped client polls at a known interval.
func (o *ObservedClient) WaitForConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*ethtypes.Receipt, error) {
	p, ok := o.Client.(interface{ PollInterval() time.Duration })
	if !ok {
		return o.Client.WaitForConfirmation(ctx, hash, confirmations)
	}
	return pollConfirmation(ctx, o, hash, confirmations, p.PollInterval())
}
