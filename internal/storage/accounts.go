package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cofre/internal/core"
)

func (q *Queries) InsertAccount(ctx context.Context, a core.Account) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO accounts (id, workspace_id, name, institution, balance)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.Name, a.Institution, decToDB(a.Balance))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (q *Queries) GetAccount(ctx context.Context, id string) (core.Account, error) {
	var (
		a       core.Account
		balance string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, institution, balance FROM accounts WHERE id = ?`, id).
		Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Institution, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if a.Balance, err = decFromDB(balance); err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func (q *Queries) ListAccounts(ctx context.Context, workspaceID string) ([]core.Account, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, institution, balance
		 FROM accounts WHERE workspace_id = ? ORDER BY name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var (
			a       core.Account
			balance string
		)
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.Institution, &balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if a.Balance, err = decFromDB(balance); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAccount removes an account, refusing while any vault still holds
// money in it or any transaction references it.
func (q *Queries) DeleteAccount(ctx context.Context, id string) error {
	var vaults int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vaults WHERE account_id = ? AND balance != '0'`, id).Scan(&vaults)
	if err != nil {
		return fmt.Errorf("count vaults: %w", err)
	}
	if vaults > 0 {
		return core.Consistencyf("account %s still backs %d non-empty vaults", id, vaults)
	}

	var txns int
	err = q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions
		 WHERE account_id = ? OR recipient_account_id = ? OR settlement_account_id = ?`,
		id, id, id).Scan(&txns)
	if err != nil {
		return fmt.Errorf("count transactions: %w", err)
	}
	if txns > 0 {
		return core.Consistencyf("account %s is referenced by %d transactions", id, txns)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}
