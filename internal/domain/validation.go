package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidWallet    = errors.New("invalid wallet address")
	ErrInvalidReference = errors.New("invalid reference")
	ErrInvalidDenom     = errors.New("invalid denom")
	ErrInvalidTxHash    = errors.New("invalid transaction hash")
)

// Validation constants
const (
	MaxAddressLength   = 128
	MaxReferenceLength = 256
	MaxAmountDigits    = 78 // fits uint256
)

var (
	integerRegex = regexp.MustCompile(`^[0-9]+$`)
	denomRegex   = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9/:._-]{1,127}$`)
	txHashRegex  = regexp.MustCompile(`^[0-9A-Za-z]{1,128}$`)
)

// ParseAmount parses a decimal-integer string in the smallest currency unit.
// Signs, fractions, exponents and zero are rejected.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if !integerRegex.MatchString(raw) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if len(strings.TrimLeft(raw, "0")) > MaxAmountDigits {
		return decimal.Zero, fmt.Errorf("%w: exceeds %d digits", ErrInvalidAmount, MaxAmountDigits)
	}

	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	return amount, nil
}

// FormatAmount renders an amount as a decimal-integer string.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(0)
}

// ValidateAgentAddress validates an agent identifier.
func ValidateAgentAddress(address string) error {
	return validateToken(address, ErrInvalidAddress)
}

// ValidateWalletAddress validates an external chain address.
func ValidateWalletAddress(wallet string) error {
	return validateToken(wallet, ErrInvalidWallet)
}

// ValidateReference validates free-text payment references.
func ValidateReference(reference string) error {
	if len(reference) > MaxReferenceLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidReference, MaxReferenceLength)
	}
	return nil
}

// ValidateDenom validates a coin denomination.
func ValidateDenom(denom string) error {
	if !denomRegex.MatchString(denom) {
		return fmt.Errorf("%w: %q", ErrInvalidDenom, denom)
	}
	return nil
}

// ValidateTxHash validates a transaction hash.
func ValidateTxHash(hash string) error {
	if !txHashRegex.MatchString(hash) {
		return fmt.Errorf("%w: %q", ErrInvalidTxHash, hash)
	}
	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	const MaxPageSize = 1000
	const DefaultPageSize = 50

	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

func validateToken(value string, sentinel error) error {
	if value == "" {
		return fmt.Errorf("%w: empty", sentinel)
	}
	if len(value) > MaxAddressLength {
		return fmt.Errorf("%w: exceeds %d characters", sentinel, MaxAddressLength)
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return fmt.Errorf("%w: contains whitespace", sentinel)
	}
	return nil
}
