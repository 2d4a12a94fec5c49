package clients

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/types"
)

// ChainReader is the read-only view of the chain the verifier needs.
type ChainReader interface {
	// TransactionByHash returns ErrTransactionNotFound when the node does not
	// know the hash.
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error)
	// TransactionReceipt returns ErrReceiptPending when the transaction has
	// not been mined yet.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
}

// Broadcaster submits signed transactions and waits for them to land.
type Broadcaster interface {
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	WaitForConfirmation(ctx context.Context, hash common.Hash, confirmations uint64) (*ethtypes.Receipt, error)
}

// Client is everything the gateway needs from one EVM endpoint.
type Client interface {
	ChainReader
	Broadcaster
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	GetNetwork() types.Network
	Close()
}
