package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/types"
)

// Relayer validates a client-signed payment and broadcasts it.
type Relayer interface {
	Relay(ctx context.Context, req *types.RelayRequest) (*types.RelayResult, error)
}

// Relay checks destination, amount and chain of a signed transaction
// before anything is broadcast, then waits for it to be mined. It never
// touches the replay guard: the chain's nonce rules stop a signed
// transaction from being mined twice.
type Relay struct {
	chain         clients.Broadcaster
	network       types.Network
	timeout       time.Duration
	confirmations uint64
	log           logger.Logger
	metrics       metrics.Recorder
}

var _ Relayer = (*Relay)(nil)

type Option func(*Relay)

func WithLogger(l logger.Logger) Option {
	return func(r *Relay) { r.log = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithConfirmations sets how deep the transaction must be before the relay
// reports success.
func WithConfirmations(n uint64) Option {
	return func(r *Relay) { r.confirmations = getRequiredConfirmations(n) }
}

// NewRelay creates a relay bound to network. timeout bounds the broadcast
// plus the confirmation wait.
func NewRelay(chain clients.Broadcaster, network types.Network, timeout time.Duration, opts ...Option) *Relay {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r := &Relay{
		chain:         chain,
		network:       network,
		timeout:       timeout,
		confirmations: 1,
		log:           logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Relay validates and broadcasts req.SignedTx. Validation failures and
// broadcast failures are reported in the result; the error return is
// reserved for malformed requests.
func (r *Relay) Relay(ctx context.Context, req *types.RelayRequest) (*types.RelayResult, error) {
	if req == nil {
		return nil, &types.PaymentError{Code: types.ErrInvalidPayload, Reason: types.ReasonInvalidRequest, Message: "relay request is nil"}
	}

	started := time.Now()
	res := r.relay(ctx, req)

	outcome := metrics.OutcomeAccepted
	if !res.Success {
		outcome = string(res.Reason)
	}
	r.metrics.ObserveRelay(outcome, time.Since(started))

	fields := map[string]any{
		"txHash": res.TxHash,
		"payer":  res.Payer,
		"model":  req.ModelID,
	}
	if res.Success {
		r.log.Info("relayed payment confirmed", fields)
	} else {
		fields["reason"] = res.Reason.String()
		fields["message"] = res.Message
		r.log.Warn("relayed payment rejected", fields)
	}
	return res, nil
}

// Check runs every pre-broadcast rule against req without sending
// anything. A nil transaction is returned when the request is rejected.
func (r *Relay) Check(req *types.RelayRequest) (*ethtypes.Transaction, *types.RelayResult) {
	if req == nil {
		return nil, fail(types.ReasonInvalidRequest, "relay request is nil")
	}
	if req.MinValue == nil || req.MinValue.Sign() <= 0 {
		return nil, fail(types.ReasonInvalidRequest, "relay request has no required amount")
	}
	tx, err := DecodeSignedTx(req.SignedTx)
	if err != nil {
		return nil, fail(types.ReasonInvalidSignedTx, "%v", err)
	}

	res := &types.RelayResult{TxHash: tx.Hash().Hex(), Value: tx.Value()}

	if tx.Protected() && tx.ChainId().Cmp(r.network.ChainIDBig()) != 0 {
		return nil, failWith(res, types.ReasonWrongChain, "transaction is signed for chain %s, expected %d", tx.ChainId(), r.network.ChainID)
	}

	from, err := ethtypes.Sender(signerFor(tx), tx)
	if err != nil {
		return nil, failWith(res, types.ReasonInvalidSignedTx, "cannot recover signer: %v", err)
	}
	res.Payer = from.Hex()

	if req.Receiver == "" {
		return nil, failWith(res, types.ReasonMisconfigured, "receiving address is not configured")
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), req.Receiver) {
		return nil, failWith(res, types.ReasonInvalidReceiver, "transaction does not pay %s", req.Receiver)
	}

	if tx.Value().Cmp(req.MinValue) < 0 {
		return nil, failWith(res, types.ReasonInsufficientPayment, "transaction value %s wei is below the required %s wei", tx.Value(), req.MinValue)
	}

	res.Success = true
	return tx, res
}

func (r *Relay) relay(ctx context.Context, req *types.RelayRequest) *types.RelayResult {
	tx, res := r.Check(req)
	if tx == nil {
		return res
	}
	res.Success = false

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.chain.SendTransaction(ctx, tx); err != nil {
		return failWith(res, types.ReasonBroadcastFailed, "broadcast failed: %v", err)
	}
	r.log.Debug("relayed payment broadcast", map[string]any{"txHash": res.TxHash})

	receipt, err := r.chain.WaitForConfirmation(ctx, tx.Hash(), r.confirmations)
	if err != nil {
		if errors.Is(err, clients.ErrConfirmationTimeout) {
			return failWith(res, types.ReasonConfirmationFailed, "transaction was broadcast but not confirmed in time")
		}
		return failWith(res, types.ReasonConfirmationFailed, "confirmation failed: %v", err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return failWith(res, types.ReasonTxFailed, "transaction reverted on chain")
	}

	res.Success = true
	return res
}

// DecodeSignedTx parses a 0x-prefixed (or bare) hex encoding of a signed
// transaction. Legacy and typed envelopes are both accepted.
func DecodeSignedTx(raw string) (*ethtypes.Transaction, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("signed transaction is empty")
	}
	if !strings.HasPrefix(raw, "0x") && !strings.HasPrefix(raw, "0X") {
		raw = "0x" + raw
	}

	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("signed transaction is not valid hex: %w", err)
	}

	tx := new(ethtypes.Transaction)
	if err := tx.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("cannot decode signed transaction: %w", err)
	}
	return tx, nil
}

func signerFor(tx *ethtypes.Transaction) ethtypes.Signer {
	if !tx.Protected() {
		return ethtypes.HomesteadSigner{}
	}
	return ethtypes.LatestSignerForChainID(tx.ChainId())
}

func fail(reason types.ReasonCode, format string, args ...any) *types.RelayResult {
	return failWith(&types.RelayResult{}, reason, format, args...)
}

func failWith(res *types.RelayResult, reason types.ReasonCode, format string, args ...any) *types.RelayResult {
	res.Success = false
	res.Reason = reason
	res.Message = fmt.Sprintf(format, args...)
	return res
}

func getRequiredConfirmations(requested uint64) uint64 {
	if requested > 0 {
		return requested
	}
	return 1
}

// PaymentContextFor describes the transfer a client must sign to pay
// amount to receiver on network.
func PaymentContextFor(network types.Network, receiver string, amount *big.Int, description string) types.PaymentContext {
	return types.PaymentContext{
		Receiver:    common.HexToAddress(receiver).Hex(),
		AmountWei:   amount.String(),
		ChainID:     network.ChainID,
		Method:      "transfer",
		Token:       network.Currency,
		Description: description,
	}
}
