package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/types"
)

// MockClient is an in-memory chain for tests. Transactions sent through it
// are mined immediately with a successful receipt unless SetSendError or
// SetMinedStatus say otherwise.
type MockClient struct {
	mu       sync.RWMutex
	network  types.Network
	txs      map[common.Hash]*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	sent     []*ethtypes.Transaction
	block    uint64
	readErr  error
	sendErr  error
	status   uint64
	closed   bool
}

var _ Client = (*MockClient)(nil)

func NewMockClient(network types.Network) *MockClient {
	return &MockClient{
		network:  network,
		txs:      make(map[common.Hash]*ethtypes.Transaction),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
		block:    1,
		status:   ethtypes.ReceiptStatusSuccessful,
	}
}

// AddTransaction makes tx visible. A nil receipt leaves it pending.
func (m *MockClient) AddTransaction(tx *ethtypes.Transaction, receipt *ethtypes.Receipt) common.Hash {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.Hash()] = tx
	if receipt != nil {
		m.block++
		receipt.TxHash = tx.Hash()
		receipt.BlockNumber = new(big.Int).SetUint64(m.block)
		m.receipts[tx.Hash()] = receipt
	}
	return tx.Hash()
}

// SetReadError makes every read fail with err wrapped in ErrRPCUnavailable.
func (m *MockClient) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

func (m *MockClient) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetMinedStatus sets the receipt status given to sent transactions.
func (m *MockClient) SetMinedStatus(status uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Sent returns the transactions broadcast so far.
func (m *MockClient) Sent() []*ethtypes.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ethtypes.Transaction, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *MockClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, error) {
	if err := m.readable(ctx, "eth_getTransactionByHash"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

func (m *MockClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	if err := m.readable(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.receipts[hash]
	if !ok {
		return nil, ErrReceiptPending
	}
	return r, nil
}

func (m *MockClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.sendErr != nil {
		err := m.sendErr
		m.mu.Unlock()
		return fmt.Errorf("eth_sendRawTransaction: %w", err)
	}
	m.sent = append(m.sent, tx)
	status := m.status
	m.mu.Unlock()

	m.AddTransaction(tx, &ethtypes.Receipt{Status: status})
	return nil
}

func (m *MockClient) WaitForConfirmation(ctx context.Context, hash common.Hash, _ uint64) (*ethtypes.Receipt, error) {
	r, err := m.TransactionReceipt(ctx, hash)
	if errors.Is(err, ErrReceiptPending) {
		return nil, ErrConfirmationTimeout
	}
	return r, err
}

func (m *MockClient) ChainID(ctx context.Context) (*big.Int, error) {
	if err := m.readable(ctx, "eth_chainId"); err != nil {
		return nil, err
	}
	return m.network.ChainIDBig(), nil
}

func (m *MockClient) BlockNumber(ctx context.Context) (uint64, error) {
	if err := m.readable(ctx, "eth_blockNumber"); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.block, nil
}

func (m *MockClient) GetNetwork() types.Network {
	return m.network
}

func (m *MockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockClient) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *MockClient) readable(ctx context.Context, method string) error {
	if err := ctx.Err(); err != nil {
		return rpcError(method, err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.readErr != nil {
		return rpcError(method, m.readErr)
	}
	return nil
}
