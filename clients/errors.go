package clients

import "errors"

var (
	// ErrTransactionNotFound means the node has no record of the hash yet.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrReceiptPending means the transaction exists but has no receipt.
	ErrReceiptPending = errors.New("transaction receipt pending")

	// ErrRPCUnavailable wraps transport and node failures. It says nothing
	// about the validity of the payment.
	ErrRPCUnavailable = errors.New("rpc unavailable")

	// ErrConfirmationTimeout is returned when a broadcast transaction is not
	// mined before the context ends.
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")
)
