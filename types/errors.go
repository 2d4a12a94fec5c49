package types

import (
	"errors"
	"fmt"
)

// Error types
type PaymentError struct {
	Code    string     `json:"code"`
	Reason  ReasonCode `json:"reason,omitempty"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	ErrInvalidPayload     = "INVALID_PAYLOAD"
	ErrVerificationFailed = "VERIFICATION_FAILED"
	ErrSettlementFailed   = "SETTLEMENT_FAILED"
	ErrNetworkError       = "NETWORK_ERROR"
	ErrConfigError        = "CONFIG_ERROR"
	ErrProviderError      = "PROVIDER_ERROR"
)

// NewPaymentError builds an infrastructure error tagged with reason.
func NewPaymentError(code string, reason ReasonCode, err error, format string, args ...any) *PaymentError {
	return &PaymentError{
		Code:    code,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ReasonOf extracts the reason carried by err, or ReasonInternal.
func ReasonOf(err error) ReasonCode {
	var perr *PaymentError
	if errors.As(err, &perr) && perr.Reason != "" {
		return perr.Reason
	}
	return ReasonInternal
}
