package verification

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/paygate/clients"
	"github.com/vitwit/paygate/logger"
	"github.com/vitwit/paygate/metrics"
	"github.com/vitwit/paygate/replay"
	"github.com/vitwit/paygate/types"
	"golang.org/x/sync/errgroup"
)

// PriceList is the read-only pricing lookup the verifier needs.
type PriceList interface {
	PriceOf(modelID string) (*big.Int, bool)
}

// Config fixes what a valid payment looks like.
type Config struct {
	Mode     types.VerificationMode
	Receiver string
	Contract string
	Network  types.Network
	Timeout  time.Duration
}

// Verifier decides whether a transaction pays for one prompt, and marks it
// consumed when it does.
type Verifier struct {
	chain   clients.ChainReader
	prices  PriceList
	guard   replay.Guard
	cfg     Config
	log     logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

type Option func(*Verifier)

func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(v *Verifier) { v.metrics = r }
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func NewVerifier(chain clients.ChainReader, prices PriceList, guard replay.Guard, cfg Config, opts ...Option) *Verifier {
	if cfg.Mode == "" {
		cfg.Mode = types.ModeDirect
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	v := &Verifier{
		chain:   chain,
		prices:  prices,
		guard:   guard,
		cfg:     cfg,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mode returns the configured verification mode.
func (v *Verifier) Mode() types.VerificationMode {
	return v.cfg.Mode
}

// Verify runs the full decision sequence for claim. Business rejections are
// reported through the result; a non-nil error means the verifier could not
// reach a decision (chain unreachable, misconfiguration, replay store down)
// and nothing was consumed.
func (v *Verifier) Verify(ctx context.Context, claim types.PaymentClaim) (res *types.VerificationResult, err error) {
	started := v.now()
	defer func() {
		outcome := metrics.OutcomeAccepted
		switch {
		case err != nil:
			outcome = string(types.ReasonOf(err))
		case !res.IsValid:
			outcome = string(res.InvalidReason)
		}
		v.metrics.ObserveVerification(v.cfg.Mode.String(), outcome, v.now().Sub(started))
	}()

	res, err = v.verify(ctx, claim)
	fields := map[string]any{
		"txHash": types.NormalizeTxRef(claim.Ref).String(),
		"model":  claim.ModelID,
		"mode":   v.cfg.Mode.String(),
	}
	switch {
	case err != nil:
		fields["err"] = err
		v.log.Error("payment verification failed", fields)
	case !res.IsValid:
		fields["reason"] = res.InvalidReason.String()
		v.log.Info("payment rejected", fields)
	default:
		fields["amount"] = res.Payment.Amount.String()
		fields["payer"] = res.Payment.Payer
		v.log.Info("payment accepted", fields)
	}
	return res, err
}

func (v *Verifier) verify(ctx context.Context, claim types.PaymentClaim) (*types.VerificationResult, error) {
	if strings.TrimSpace(claim.Ref) == "" {
		return types.Reject(types.ReasonPaymentRequired, "payment transaction hash is required"), nil
	}

	ref := types.NormalizeTxRef(claim.Ref)
	if err := ref.Validate(); err != nil {
		return types.Reject(types.ReasonInvalidTxHash, "%v", err), nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	// Read-only fast path; the authoritative check happens at commit.
	consumed, err := v.guard.IsConsumed(ctx, ref)
	if err != nil {
		return nil, types.NewPaymentError(types.ErrVerificationFailed, types.ReasonInternal, err, "replay lookup failed")
	}
	if consumed {
		return types.Reject(types.ReasonDuplicate, "this transaction has already been used for a previous request"), nil
	}

	tx, receipt, res, err := v.fetch(ctx, common.HexToHash(ref.String()))
	if res != nil || err != nil {
		return res, err
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return types.Reject(types.ReasonTxFailed, "transaction failed on chain"), nil
	}

	var payment *types.VerifiedPayment
	switch v.cfg.Mode {
	case types.ModeContract:
		payment, res, err = v.checkContractPayment(tx, receipt, claim.ModelID)
	default:
		payment, res, err = v.checkDirectTransfer(tx, claim.ModelID)
	}
	if res != nil || err != nil {
		return res, err
	}

	// A caller that gave up must not burn the payment.
	if err := ctx.Err(); err != nil {
		return nil, types.NewPaymentError(types.ErrVerificationFailed, types.ReasonChainUnavailable, err, "verification aborted before commit")
	}

	inserted, err := v.guard.TryConsume(ctx, ref)
	if err != nil {
		return nil, types.NewPaymentError(types.ErrVerificationFailed, types.ReasonInternal, err, "replay commit failed")
	}
	if !inserted {
		return types.Reject(types.ReasonDuplicate, "this transaction has already been used for a previous request"), nil
	}

	payment.TxHash = ref
	payment.ModelID = claim.ModelID
	payment.Mode = v.cfg.Mode
	payment.VerifiedAt = v.now()

	return &types.VerificationResult{IsValid: true, Payment: payment}, nil
}

// fetch loads the transaction and its receipt concurrently. Errors are
// evaluated in gate order: existence first, then finality.
func (v *Verifier) fetch(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, *ethtypes.Receipt, *types.VerificationResult, error) {
	var (
		tx         *ethtypes.Transaction
		receipt    *ethtypes.Receipt
		txErr      error
		receiptErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx, txErr = v.chain.TransactionByHash(gctx, hash)
		return nil
	})
	g.Go(func() error {
		receipt, receiptErr = v.chain.TransactionReceipt(gctx, hash)
		return nil
	})
	_ = g.Wait()

	switch {
	case errors.Is(txErr, clients.ErrTransactionNotFound):
		return nil, nil, types.Reject(types.ReasonTxNotFound, "transaction not found on chain, retry once it propagates"), nil
	case txErr != nil:
		return nil, nil, nil, chainError(txErr)
	case tx == nil:
		return nil, nil, types.Reject(types.ReasonTxNotFound, "transaction not found on chain, retry once it propagates"), nil
	}

	switch {
	case errors.Is(receiptErr, clients.ErrReceiptPending):
		return nil, nil, types.Reject(types.ReasonTxPending, "transaction is not yet confirmed, retry shortly"), nil
	case receiptErr != nil:
		return nil, nil, nil, chainError(receiptErr)
	case receipt == nil:
		return nil, nil, types.Reject(types.ReasonTxPending, "transaction is not yet confirmed, retry shortly"), nil
	}

	return tx, receipt, nil, nil
}

func (v *Verifier) checkDirectTransfer(tx *ethtypes.Transaction, modelID string) (*types.VerifiedPayment, *types.VerificationResult, error) {
	if v.cfg.Receiver == "" {
		return nil, nil, misconfigured("receiving address is not configured")
	}

	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), v.cfg.Receiver) {
		return nil, types.Reject(types.ReasonInvalidReceiver, "payment was not sent to %s", v.cfg.Receiver), nil
	}

	price, ok := v.prices.PriceOf(modelID)
	if !ok {
		return nil, types.Reject(types.ReasonInvalidModel, "model %q is not available", modelID), nil
	}

	value := tx.Value()
	if value.Cmp(price) < 0 {
		return nil, types.Reject(types.ReasonInsufficientPayment, "paid %s wei, %s wei required", value, price), nil
	}

	return &types.VerifiedPayment{
		Amount: new(big.Int).Set(value),
		Payer:  senderOf(tx),
	}, nil, nil
}

func (v *Verifier) checkContractPayment(tx *ethtypes.Transaction, receipt *ethtypes.Receipt, modelID string) (*types.VerifiedPayment, *types.VerificationResult, error) {
	if v.cfg.Contract == "" {
		return nil, nil, misconfigured("payment contract address is not configured")
	}
	contract := common.HexToAddress(v.cfg.Contract)

	if tx.To() == nil || *tx.To() != contract {
		return nil, types.Reject(types.ReasonInvalidContract, "payment was not sent to contract %s", v.cfg.Contract), nil
	}

	price, ok := v.prices.PriceOf(modelID)
	if !ok {
		return nil, types.Reject(types.ReasonInvalidModel, "model %q is not available", modelID), nil
	}

	events := clients.DecodePromptPaid(receipt, contract)
	if len(events) != 1 {
		return nil, types.Reject(types.ReasonInvalidPaymentTx, "expected exactly one PromptPaid event, found %d", len(events)), nil
	}
	ev := events[0]

	if ev.ModelHash != clients.ModelHash(modelID) {
		return nil, types.Reject(types.ReasonModelMismatch, "payment was made for a different model"), nil
	}

	if ev.Amount.Cmp(price) < 0 {
		return nil, types.Reject(types.ReasonInsufficientPayment, "paid %s wei, %s wei required", ev.Amount, price), nil
	}

	return &types.VerifiedPayment{
		Amount: new(big.Int).Set(ev.Amount),
		Payer:  ev.User.Hex(),
	}, nil, nil
}

// senderOf recovers the signer when the transaction carries enough
// information to do so; otherwise the payer stays unknown.
func senderOf(tx *ethtypes.Transaction) string {
	signer := ethtypes.LatestSignerForChainID(tx.ChainId())
	if !tx.Protected() {
		signer = ethtypes.HomesteadSigner{}
	}
	from, err := ethtypes.Sender(signer, tx)
	if err != nil {
		return ""
	}
	return from.Hex()
}

func chainError(err error) error {
	return types.NewPaymentError(types.ErrNetworkError, types.ReasonChainUnavailable, err, "chain lookup failed")
}

func misconfigured(msg string) error {
	return &types.PaymentError{
		Code:    types.ErrConfigError,
		Reason:  types.ReasonMisconfigured,
		Message: fmt.Sprintf("server configuration error: %s", msg),
	}
}
