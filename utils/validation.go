package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/paygate/types"
)

// ValidateAmount checks if an amount string is a valid, non-negative decimal
func ValidateAmount(amount string) (decimal.Decimal, error) {
	if strings.TrimSpace(amount) == "" {
		return decimal.Zero, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount cannot be negative")
	}
	return dec, nil
}

// ParseAmountWithDecimals converts a human decimal amount into base units.
// Amounts finer than one base unit are rejected instead of rounded.
func ParseAmountWithDecimals(amount string, decimals int32) (*big.Int, error) {
	dec, err := ValidateAmount(amount)
	if err != nil {
		return nil, err
	}

	units := dec.Shift(decimals)
	if !units.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimals", amount, decimals)
	}
	return units.BigInt(), nil
}

// FormatAmountFromBigInt renders base units as a decimal string.
func FormatAmountFromBigInt(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ValidateAddress checks a 0x-prefixed 20-byte hex address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return fmt.Errorf("address must start with 0x")
	}
	if !common.IsHexAddress(address) {
		return fmt.Errorf("address must be 0x followed by 40 hex characters")
	}
	return nil
}

// ValidateTransactionHash normalises hash and checks its shape.
func ValidateTransactionHash(hash string) (types.TxRef, error) {
	if strings.TrimSpace(hash) == "" {
		return "", fmt.Errorf("transaction hash cannot be empty")
	}
	ref := types.NormalizeTxRef(hash)
	if err := ref.Validate(); err != nil {
		return "", err
	}
	return ref, nil
}
