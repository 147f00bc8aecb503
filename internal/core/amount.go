// Package core holds the ledger domain model: entities, transaction kind
// dispatch, invoice cycle math and installment splitting. Everything here
// is pure; persistence and orchestration live elsewhere.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied decimal string into a positive
// amount. It accepts both dot (12.34) and comma (12,34) separators and
// rounds to two decimal places, half up on the third.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("12,34")  -> 12.34
//	ParseAmount("12.345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "cannot be empty"}
	}
	// Normalize decimal comma to dot
	s = strings.ReplaceAll(s, ",", ".")
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		// Only positive values allowed; the kind carries the sign
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must not carry a sign"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "not a decimal number"}
	}
	d = d.Round(2)
	if !d.IsPositive() {
		return decimal.Zero, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return d, nil
}
