package storage

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"cofre/internal/core"
)

// ApplyAccountDelta adds delta to the account's balance. Accounts may go
// negative; overdraft is the bank's problem, not ours.
func (q *Queries) ApplyAccountDelta(ctx context.Context, accountID string, delta decimal.Decimal) error {
	acc, err := q.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	next := acc.Balance.Add(delta)
	_, err = q.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ? WHERE id = ?`,
		decToDB(next), accountID)
	if err != nil {
		return fmt.Errorf("apply account delta: %w", err)
	}
	return nil
}

// ApplyVaultDelta adds delta to the vault's balance. Vaults hold earmarked
// money and can never go below zero.
func (q *Queries) ApplyVaultDelta(ctx context.Context, vaultID string, delta decimal.Decimal) error {
	v, err := q.GetVault(ctx, vaultID)
	if err != nil {
		return err
	}
	next := v.Balance.Add(delta)
	if next.IsNegative() {
		return &core.InsufficientVaultBalanceError{
			VaultID:   vaultID,
			Requested: delta.Neg(),
			Available: v.Balance,
		}
	}
	_, err = q.db.ExecContext(ctx,
		`UPDATE vaults SET balance = ? WHERE id = ?`,
		decToDB(next), vaultID)
	if err != nil {
		return fmt.Errorf("apply vault delta: %w", err)
	}
	return nil
}
