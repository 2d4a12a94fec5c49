package types

import "net/http"

// ReasonCode identifies why a payment was not accepted.
type ReasonCode string

const (
	// -----------------------------
	// CLIENT INPUT
	// -----------------------------
	ReasonPaymentRequired ReasonCode = "payment_required"
	ReasonInvalidTxHash   ReasonCode = "invalid_transaction_hash"
	ReasonInvalidRequest  ReasonCode = "invalid_request"
	ReasonInvalidModel    ReasonCode = "invalid_model"
	ReasonInvalidSignedTx ReasonCode = "invalid_signed_transaction"
	ReasonRateLimited     ReasonCode = "rate_limited"

	// -----------------------------
	// TRANSIENT CHAIN STATE
	// -----------------------------
	ReasonTxNotFound ReasonCode = "transaction_not_found"
	ReasonTxPending  ReasonCode = "transaction_pending"

	// -----------------------------
	// ON-CHAIN REJECTION
	// -----------------------------
	ReasonTxFailed            ReasonCode = "transaction_failed"
	ReasonInvalidReceiver     ReasonCode = "invalid_receiver"
	ReasonInvalidContract     ReasonCode = "invalid_contract"
	ReasonInvalidPaymentTx    ReasonCode = "invalid_payment_transaction"
	ReasonModelMismatch       ReasonCode = "model_mismatch"
	ReasonInsufficientPayment ReasonCode = "insufficient_payment"
	ReasonWrongChain          ReasonCode = "wrong_chain"

	// -----------------------------
	// REPLAY
	// -----------------------------
	ReasonDuplicate ReasonCode = "duplicate_transaction"

	// -----------------------------
	// INFRASTRUCTURE
	// -----------------------------
	ReasonMisconfigured      ReasonCode = "server_misconfigured"
	ReasonChainUnavailable   ReasonCode = "chain_unavailable"
	ReasonBroadcastFailed    ReasonCode = "broadcast_failed"
	ReasonConfirmationFailed ReasonCode = "confirmation_failed"
	ReasonAIServiceError     ReasonCode = "ai_service_error"
	ReasonInternal           ReasonCode = "internal_error"
)

// Category groups reason codes by who can fix them.
type Category string

const (
	CategoryClientInput    Category = "client_input"
	CategoryTransient      Category = "transient"
	CategoryRejected       Category = "rejected"
	CategoryReplay         Category = "replay"
	CategoryInfrastructure Category = "infrastructure"
)

type reasonInfo struct {
	status   int
	category Category
	title    string
}

var reasons = map[ReasonCode]reasonInfo{
	ReasonPaymentRequired:     {http.StatusPaymentRequired, CategoryClientInput, "Payment Required"},
	ReasonInvalidTxHash:       {http.StatusBadRequest, CategoryClientInput, "Invalid Transaction Hash"},
	ReasonInvalidRequest:      {http.StatusBadRequest, CategoryClientInput, "Invalid Request"},
	ReasonInvalidModel:        {http.StatusBadRequest, CategoryClientInput, "Invalid Model"},
	ReasonInvalidSignedTx:     {http.StatusBadRequest, CategoryClientInput, "Invalid Signed Transaction"},
	ReasonRateLimited:         {http.StatusTooManyRequests, CategoryClientInput, "Too Many Requests"},
	ReasonTxNotFound:          {http.StatusBadRequest, CategoryTransient, "Transaction Not Found"},
	ReasonTxPending:           {http.StatusBadRequest, CategoryTransient, "Transaction Pending"},
	ReasonTxFailed:            {http.StatusBadRequest, CategoryRejected, "Transaction Failed"},
	ReasonInvalidReceiver:     {http.StatusBadRequest, CategoryRejected, "Invalid Receiver"},
	ReasonInvalidContract:     {http.StatusBadRequest, CategoryRejected, "Invalid Contract"},
	ReasonInvalidPaymentTx:    {http.StatusBadRequest, CategoryRejected, "Invalid Payment Transaction"},
	ReasonModelMismatch:       {http.StatusBadRequest, CategoryRejected, "Model Mismatch"},
	ReasonInsufficientPayment: {http.StatusBadRequest, CategoryRejected, "Insufficient Payment"},
	ReasonWrongChain:          {http.StatusBadRequest, CategoryRejected, "Wrong Chain"},
	ReasonDuplicate:           {http.StatusForbidden, CategoryReplay, "Duplicate Transaction"},
	ReasonMisconfigured:       {http.StatusInternalServerError, CategoryInfrastructure, "Server Misconfigured"},
	ReasonChainUnavailable:    {http.StatusInternalServerError, CategoryInfrastructure, "Chain Unavailable"},
	ReasonBroadcastFailed:     {http.StatusBadGateway, CategoryInfrastructure, "Broadcast Failed"},
	ReasonConfirmationFailed:  {http.StatusBadGateway, CategoryInfrastructure, "Confirmation Failed"},
	ReasonAIServiceError:      {http.StatusInternalServerError, CategoryInfrastructure, "AI Service Error"},
	ReasonInternal:            {http.StatusInternalServerError, CategoryInfrastructure, "Internal Server Error"},
}

// HTTPStatus maps the reason to the status code the API answers with.
// Unknown reasons map to 500.
func (r ReasonCode) HTTPStatus() int {
	if info, ok := reasons[r]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Category returns the error class of r.
func (r ReasonCode) Category() Category {
	if info, ok := reasons[r]; ok {
		return info.category
	}
	return CategoryInfrastructure
}

// Title is the short human-readable label used in error bodies.
func (r ReasonCode) Title() string {
	if info, ok := reasons[r]; ok {
		return info.title
	}
	return "Internal Server Error"
}

func (r ReasonCode) String() string {
	return string(r)
}
