package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vitwit/paygate/events"
	"github.com/vitwit/paygate/settlement"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

type promptRequest struct {
	Prompt string `json:"prompt" validate:"required,max=16000"`
	Model  string `json:"model" validate:"required"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash"`
	Model     string `json:"model"`
	ModelName string `json:"modelName,omitempty"`
	Response  string `json:"response"`
}

type premiumQuote struct {
	Message        string               `json:"message"`
	PaymentContext types.PaymentContext `json:"paymentContext"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	payment, ok := PaymentFromContext(r.Context())
	body, okBody := promptFromContext(r.Context())
	if !ok || !okBody {
		writeReason(w, types.ReasonInternal, "payment context missing", nil)
		return
	}

	s.answer(w, r, payment.TxHash.String(), body)
}

func (s *Server) handlePremium(w http.ResponseWriter, r *http.Request) {
	var body promptRequest
	if err := utils.DecodeJSON(r.Body, &body, maxBodyBytes); err != nil {
		s.writeFailure(w, err)
		return
	}

	entry, ok := s.Catalog.Lookup(body.Model)
	price, priced := s.Catalog.PriceOf(body.Model)
	if !ok || !priced {
		writeReason(w, types.ReasonInvalidModel, fmt.Sprintf("unknown model: %s", body.Model), nil)
		return
	}
	if s.Receiver == "" {
		s.log.Error("premium request with no receiving address configured", nil)
		writeReason(w, types.ReasonMisconfigured, "payment receiver not configured on server", nil)
		return
	}

	signed := strings.TrimSpace(r.Header.Get(HeaderSignedTx))
	if signed == "" {
		writeJSON(w, http.StatusAccepted, premiumQuote{
			Message:        "Payment Required",
			PaymentContext: settlement.PaymentContextFor(s.Network, s.Receiver, price, "Payment for AI model "+entry.Name),
		})
		return
	}

	res, err := s.Relayer.Relay(r.Context(), &types.RelayRequest{
		SignedTx: signed,
		Receiver: s.Receiver,
		MinValue: price,
		ModelID:  body.Model,
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if !res.Success {
		writeReason(w, res.Reason, "payment verification failed", func(b *errorBody) {
			b.Details = res.Message
			b.TxHash = res.TxHash
		})
		return
	}

	// The relayed transfer is a valid /chat payment too; commit it so it
	// buys exactly one answer. It is on chain now, so record it even if the
	// client has gone away.
	inserted, err := s.Consumed.TryConsume(context.WithoutCancel(r.Context()), types.NormalizeTxRef(res.TxHash))
	if err != nil {
		s.writeFailure(w, types.NewPaymentError(types.ErrSettlementFailed, types.ReasonInternal, err, "replay commit failed"))
		return
	}
	if !inserted {
		writeReason(w, types.ReasonDuplicate, "this transaction has already been used for a previous request", func(b *errorBody) {
			b.TxHash = res.TxHash
		})
		return
	}

	s.afterConsume(r.Context(), events.RelayedEvent(res, body.Model, s.Network.ChainID))
	s.answer(w, r, res.TxHash, &body)
}

// answer forwards the prompt once payment is settled. A provider failure
// is reported with the transaction hash; the payment is not refunded.
func (s *Server) answer(w http.ResponseWriter, r *http.Request, txHash string, body *promptRequest) {
	entry, _ := s.Catalog.Lookup(body.Model)

	out, err := s.Generator.Generate(r.Context(), body.Model, body.Prompt)
	if err != nil {
		s.log.Error("provider failed after payment", map[string]any{
			"txHash": txHash,
			"model":  body.Model,
			"err":    err,
		})
		writeReason(w, types.ReasonAIServiceError,
			"Payment was received but AI service failed. Please contact support.",
			func(b *errorBody) { b.TxHash = txHash })
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Success:   true,
		TxHash:    txHash,
		Model:     body.Model,
		ModelName: entry.Name,
		Response:  out,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type networkInfo struct {
	Name        string `json:"name"`
	ChainID     int64  `json:"chainId"`
	RPCURL      string `json:"rpcUrl"`
	Currency    string `json:"currency"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
}

type infoResponse struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	Version          string                 `json:"version"`
	Network          networkInfo            `json:"network"`
	Mode             types.VerificationMode `json:"mode"`
	Receiver         string                 `json:"serverWallet,omitempty"`
	Contract         string                 `json:"contract,omitempty"`
	Models           []types.ModelInfo      `json:"models"`
	ConsumedPayments *int                   `json:"consumedPayments,omitempty"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := infoResponse{
		Name:        "paygate",
		Description: "Pay-per-prompt AI API with on-chain payment verification",
		Version:     s.Version,
		Network: networkInfo{
			Name:        s.Network.Name,
			ChainID:     s.Network.ChainID,
			RPCURL:      s.Network.RPCURL,
			Currency:    s.Network.Currency,
			ExplorerURL: s.Network.ExplorerURL,
		},
		Mode:     s.Verifier.Mode(),
		Receiver: s.Receiver,
		Contract: s.Contract,
		Models:   s.Catalog.Models(),
	}

	if s.Consumed != nil {
		if n, err := s.Consumed.Count(r.Context()); err == nil {
			info.ConsumedPayments = &n
		} else {
			s.log.Warn("failed to count consumed payments", map[string]any{"err": err})
		}
	}
	writeJSON(w, http.StatusOK, info)
}
