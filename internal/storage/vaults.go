package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cofre/internal/core"
)

func (q *Queries) InsertVault(ctx context.Context, v core.Vault) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO vaults (id, account_id, name, balance, target_amount, goal_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.AccountID, v.Name, decToDB(v.Balance), decToDB(v.TargetAmount), nullStrToDB(v.GoalID))
	if err != nil {
		return fmt.Errorf("insert vault: %w", err)
	}
	return nil
}

func (q *Queries) GetVault(ctx context.Context, id string) (core.Vault, error) {
	var (
		v               core.Vault
		balance, target string
		goalID          sql.NullString
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, balance, target_amount, goal_id FROM vaults WHERE id = ?`, id).
		Scan(&v.ID, &v.AccountID, &v.Name, &balance, &target, &goalID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Vault{}, fmt.Errorf("vault %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Vault{}, fmt.Errorf("get vault: %w", err)
	}
	if v.Balance, err = decFromDB(balance); err != nil {
		return core.Vault{}, err
	}
	if v.TargetAmount, err = decFromDB(target); err != nil {
		return core.Vault{}, err
	}
	v.GoalID = nullStrFromDB(goalID)
	return v, nil
}

func (q *Queries) ListVaultsByAccount(ctx context.Context, accountID string) ([]core.Vault, error) {
	return q.listVaults(ctx,
		`SELECT id, account_id, name, balance, target_amount, goal_id
		 FROM vaults WHERE account_id = ? ORDER BY name`, accountID)
}

func (q *Queries) ListVaultsByGoal(ctx context.Context, goalID string) ([]core.Vault, error) {
	return q.listVaults(ctx,
		`SELECT id, account_id, name, balance, target_amount, goal_id
		 FROM vaults WHERE goal_id = ?`, goalID)
}

func (q *Queries) listVaults(ctx context.Context, query string, arg any) ([]core.Vault, error) {
	rows, err := q.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list vaults: %w", err)
	}
	defer rows.Close()

	var out []core.Vault
	for rows.Next() {
		var (
			v               core.Vault
			balance, target string
			goalID          sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.AccountID, &v.Name, &balance, &target, &goalID); err != nil {
			return nil, fmt.Errorf("scan vault: %w", err)
		}
		if v.Balance, err = decFromDB(balance); err != nil {
			return nil, err
		}
		if v.TargetAmount, err = decFromDB(target); err != nil {
			return nil, err
		}
		v.GoalID = nullStrFromDB(goalID)
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteVault removes a vault. Only an empty vault may go.
func (q *Queries) DeleteVault(ctx context.Context, id string) error {
	v, err := q.GetVault(ctx, id)
	if err != nil {
		return err
	}
	if !v.Balance.IsZero() {
		return core.Consistencyf("vault %s still holds %s", id, v.Balance)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM vaults WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete vault: %w", err)
	}
	return nil
}
