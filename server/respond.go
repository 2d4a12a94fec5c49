package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vitwit/paygate/types"
)

type errorBody struct {
	Error       string             `json:"error"`
	Code        types.ReasonCode   `json:"code"`
	Message     string             `json:"message,omitempty"`
	Details     string             `json:"details,omitempty"`
	TxHash      string             `json:"txHash,omitempty"`
	PaymentInfo *types.PaymentInfo `json:"paymentInfo,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeReason renders a rejection with the status its reason maps to.
// extra, when set, is merged into the body.
func writeReason(w http.ResponseWriter, reason types.ReasonCode, message string, extra func(*errorBody)) {
	body := &errorBody{Error: reason.Title(), Code: reason, Message: message}
	if extra != nil {
		extra(body)
	}
	writeJSON(w, reason.HTTPStatus(), body)
}

// writeFailure renders an error returned by a collaborator. Internal
// details are logged, not sent.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	reason := types.ReasonOf(err)
	message := "internal error"

	var perr *types.PaymentError
	if errors.As(err, &perr) {
		message = perr.Message
	}
	if reason.Category() == types.CategoryInfrastructure {
		s.log.Error("request failed", map[string]any{"reason": reason.String(), "err": err})
	}
	writeReason(w, reason, message, nil)
}

func (s *Server) writePaymentRequired(w http.ResponseWriter) {
	info := s.paymentInfo()
	writeReason(w, types.ReasonPaymentRequired,
		"Missing "+HeaderPaymentHash+" header. Please pay before making a request.",
		func(b *errorBody) { b.PaymentInfo = &info })
}

func (s *Server) paymentInfo() types.PaymentInfo {
	return types.PaymentInfo{
		Mode:     s.Verifier.Mode(),
		Receiver: s.Receiver,
		Contract: s.Contract,
		ChainID:  s.Network.ChainID,
		Network:  s.Network.Name,
		RPCURL:   s.Network.RPCURL,
		Currency: s.Network.Currency,
		Models:   s.Catalog.Models(),
	}
}
