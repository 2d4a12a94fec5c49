package types

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// VerificationMode selects how a payment transaction is interpreted.
type VerificationMode string

const (
	// ModeDirect expects a native-token transfer to the receiving address.
	ModeDirect VerificationMode = "direct"
	// ModeContract expects a call to the payment contract emitting PromptPaid.
	ModeContract VerificationMode = "contract"
)

func (m VerificationMode) String() string {
	return string(m)
}

// Valid reports whether m is a known mode.
func (m VerificationMode) Valid() bool {
	return m == ModeDirect || m == ModeContract
}

// TxRef is a normalised transaction hash: 0x-prefixed lower-case hex.
type TxRef string

var txHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// NormalizeTxRef trims and lower-cases raw. Applying it twice yields the
// same value as applying it once.
func NormalizeTxRef(raw string) TxRef {
	ref := strings.ToLower(strings.TrimSpace(raw))
	if ref != "" && !strings.HasPrefix(ref, "0x") {
		ref = "0x" + ref
	}
	return TxRef(ref)
}

// Validate checks that the reference is a 32-byte hex hash.
func (r TxRef) Validate() error {
	if !txHashPattern.MatchString(string(r)) {
		return fmt.Errorf("transaction hash must be 0x followed by 64 hex characters")
	}
	return nil
}

func (r TxRef) String() string {
	return string(r)
}

// PaymentClaim is what a client asserts when asking for a paid response.
type PaymentClaim struct {
	Ref     string
	ModelID string
}

// VerifiedPayment is produced only by a successful verification and lives
// for the duration of one request.
type VerifiedPayment struct {
	TxHash     TxRef            `json:"txHash"`
	Amount     *big.Int         `json:"amount"`
	Payer      string           `json:"payer,omitempty"`
	ModelID    string           `json:"model"`
	Mode       VerificationMode `json:"mode"`
	VerifiedAt time.Time        `json:"verifiedAt"`
}

// VerificationResult contains the result of payment verification
type VerificationResult struct {
	IsValid       bool             `json:"isValid"`
	InvalidReason ReasonCode       `json:"invalidReason,omitempty"`
	Message       string           `json:"message,omitempty"`
	Payment       *VerifiedPayment `json:"payment,omitempty"`
}

// Reject builds an invalid result for reason.
func Reject(reason ReasonCode, format string, args ...any) *VerificationResult {
	return &VerificationResult{
		IsValid:       false,
		InvalidReason: reason,
		Message:       fmt.Sprintf(format, args...),
	}
}

// RelayRequest carries a client-signed transaction to be validated and
// broadcast on the client's behalf.
type RelayRequest struct {
	SignedTx string
	Receiver string
	MinValue *big.Int
	ModelID  string
}

// RelayResult contains the result of a relayed payment
type RelayResult struct {
	Success bool       `json:"success"`
	TxHash  string     `json:"txHash,omitempty"`
	Payer   string     `json:"payer,omitempty"`
	Value   *big.Int   `json:"value,omitempty"`
	Reason  ReasonCode `json:"reason,omitempty"`
	Message string     `json:"message,omitempty"`
}

// ModelInfo is the public view of one pricing entry.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Cost        string `json:"cost"`
	CostWei     string `json:"costWei"`
	Description string `json:"description,omitempty"`
}

// PaymentInfo is advertised to clients that have not paid yet.
type PaymentInfo struct {
	Mode     VerificationMode `json:"mode"`
	Receiver string           `json:"receiver,omitempty"`
	Contract string           `json:"contract,omitempty"`
	ChainID  int64            `json:"chainId"`
	Network  string           `json:"network"`
	RPCURL   string           `json:"rpcUrl"`
	Currency string           `json:"currency"`
	Models   []ModelInfo      `json:"models"`
}

// PaymentContext describes the transfer a client must sign for the relayed
// payment flow.
type PaymentContext struct {
	Receiver    string `json:"receiver"`
	AmountWei   string `json:"amountWei"`
	ChainID     int64  `json:"chainId"`
	Method      string `json:"method"`
	Token       string `json:"token"`
	Description string `json:"description"`
}
