package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound marks a dangling reference to an account, vault, card,
	// transaction or workspace. Never retried.
	ErrNotFound = errors.New("not found")

	// ErrForbidden marks a workspace-access failure for the acting user.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports a malformed or missing field in a request.
// It is the caller's fault and is surfaced verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidChannelError reports a non-transfer transaction where both or
// neither of the account/card channels are populated.
type InvalidChannelError struct {
	Kind TxKind
}

func (e *InvalidChannelError) Error() string {
	return fmt.Sprintf("transaction kind %s requires exactly one of account or credit card channel", e.Kind)
}

// InsufficientVaultBalanceError reports a vault movement that would drive
// the vault balance negative. Deficit is how much was missing.
type InsufficientVaultBalanceError struct {
	VaultID   string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientVaultBalanceError) Error() string {
	return fmt.Sprintf("vault %s has %s available, %s requested (deficit %s)",
		e.VaultID, e.Available, e.Requested, e.Deficit())
}

// Deficit returns the amount by which the request exceeds the vault balance.
func (e *InsufficientVaultBalanceError) Deficit() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// ConsistencyError reports a violated internal invariant: a transfer onto
// itself, an installment split that does not sum exactly, a settlement
// amount that disagrees with the derived invoice total. It aborts the
// whole unit of work.
type ConsistencyError struct {
	Msg string
}

func (e *ConsistencyError) Error() string {
	return "consistency: " + e.Msg
}

// Consistencyf builds a ConsistencyError from a format string.
func Consistencyf(format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Msg: fmt.Sprintf(format, args...)}
}
