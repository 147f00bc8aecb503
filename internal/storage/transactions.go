package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cofre/internal/core"
)

const txColumns = `id, workspace_id, description, amount, kind, date, is_paid,
	account_id, credit_card_id, recipient_account_id, vault_id, settlement_account_id, category_id,
	frequency, next_occurrence, series_id, installment_group, installment_index, installment_total,
	created_at`

func (q *Queries) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkspaceID, t.Description, decToDB(t.Amount), t.Kind, timeToDB(t.Date), t.IsPaid,
		nullStrToDB(t.AccountID), nullStrToDB(t.CreditCardID), nullStrToDB(t.RecipientAccountID),
		nullStrToDB(t.VaultID), nullStrToDB(t.SettlementAccountID), nullStrToDB(t.CategoryID),
		t.Frequency, nullTimeToDB(t.NextOccurrence), nullStrToDB(t.SeriesID),
		nullStrToDB(t.InstallmentGroup), t.InstallmentIndex, t.InstallmentTotal,
		timeToDB(time.Now()))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func scanTransaction(scan func(dest ...any) error) (core.Transaction, error) {
	var (
		t                                            core.Transaction
		amount                                       string
		date, createdAt                              int64
		next                                         sql.NullInt64
		account, card, recipient, vault, settlement  sql.NullString
		category, series, group                      sql.NullString
	)
	err := scan(&t.ID, &t.WorkspaceID, &t.Description, &amount, &t.Kind, &date, &t.IsPaid,
		&account, &card, &recipient, &vault, &settlement, &category,
		&t.Frequency, &next, &series, &group, &t.InstallmentIndex, &t.InstallmentTotal,
		&createdAt)
	if err != nil {
		return core.Transaction{}, err
	}
	if t.Amount, err = decFromDB(amount); err != nil {
		return core.Transaction{}, err
	}
	t.Date = timeFromDB(date)
	t.CreatedAt = timeFromDB(createdAt)
	t.NextOccurrence = nullTimeFromDB(next)
	t.AccountID = nullStrFromDB(account)
	t.CreditCardID = nullStrFromDB(card)
	t.RecipientAccountID = nullStrFromDB(recipient)
	t.VaultID = nullStrFromDB(vault)
	t.SettlementAccountID = nullStrFromDB(settlement)
	t.CategoryID = nullStrFromDB(category)
	t.SeriesID = nullStrFromDB(series)
	t.InstallmentGroup = nullStrFromDB(group)
	return t, nil
}

func (q *Queries) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// UpdateTransaction rewrites every mutable column of the row. The caller is
// responsible for reversing and reapplying balance effects around it.
func (q *Queries) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET
			description = ?, amount = ?, kind = ?, date = ?, is_paid = ?,
			account_id = ?, credit_card_id = ?, recipient_account_id = ?,
			vault_id = ?, settlement_account_id = ?, category_id = ?,
			frequency = ?, next_occurrence = ?
		 WHERE id = ?`,
		t.Description, decToDB(t.Amount), t.Kind, timeToDB(t.Date), t.IsPaid,
		nullStrToDB(t.AccountID), nullStrToDB(t.CreditCardID), nullStrToDB(t.RecipientAccountID),
		nullStrToDB(t.VaultID), nullStrToDB(t.SettlementAccountID), nullStrToDB(t.CategoryID),
		t.Frequency, nullTimeToDB(t.NextOccurrence),
		t.ID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", t.ID, core.ErrNotFound)
	}
	return nil
}

func (q *Queries) DeleteTransaction(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *Queries) listTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (q *Queries) ListTransactionsByWorkspace(ctx context.Context, workspaceID string, from, to time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE workspace_id = ? AND date BETWEEN ? AND ? ORDER BY date`,
		workspaceID, timeToDB(from), timeToDB(to))
}

// ListUnpaidCardTransactions returns the open-invoice rows of a card in a
// billing window. Pre-settled rows carry is_paid = 1 and never appear.
func (q *Queries) ListUnpaidCardTransactions(ctx context.Context, cardID string, from, to time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE credit_card_id = ? AND is_paid = 0 AND date BETWEEN ? AND ? ORDER BY date`,
		cardID, timeToDB(from), timeToDB(to))
}

// MarkInvoicePaid settles every unpaid row of the card in the window and
// reports how many rows flipped. Running it twice flips nothing the second
// time.
func (q *Queries) MarkInvoicePaid(ctx context.Context, cardID string, from, to time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET is_paid = 1
		 WHERE credit_card_id = ? AND is_paid = 0 AND date BETWEEN ? AND ?`,
		cardID, timeToDB(from), timeToDB(to))
	if err != nil {
		return 0, fmt.Errorf("mark invoice paid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark invoice paid rows: %w", err)
	}
	return n, nil
}

// SumExpensesByCategory totals EXPENSE rows of a category in a date range,
// both channels, regardless of settlement state. Budgets track commitment,
// not settlement.
func (q *Queries) SumExpensesByCategory(ctx context.Context, workspaceID, categoryID string, from, to time.Time) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT amount FROM transactions
		 WHERE workspace_id = ? AND category_id = ? AND kind = ? AND date BETWEEN ? AND ?`,
		workspaceID, categoryID, core.KindExpense, timeToDB(from), timeToDB(to))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum expenses: %w", err)
	}
	defer rows.Close()

	return sumAmountRows(rows)
}

// VaultFlow is the net money moved into goal-linked vaults, grouped by the
// workspace owning each vault's parent account.
type VaultFlow struct {
	WorkspaceID string
	Net         decimal.Decimal
}

func (q *Queries) SumVaultFlowsByGoal(ctx context.Context, goalID string) ([]VaultFlow, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT a.workspace_id, t.kind, t.amount
		 FROM transactions t
		 JOIN vaults v ON v.id = t.vault_id
		 JOIN accounts a ON a.id = v.account_id
		 WHERE v.goal_id = ? AND t.kind IN (?, ?)`,
		goalID, core.KindVaultDeposit, core.KindVaultWithdraw)
	if err != nil {
		return nil, fmt.Errorf("sum vault flows: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]decimal.Decimal)
	var order []string
	for rows.Next() {
		var (
			workspaceID, amount string
			kind                core.TxKind
		)
		if err := rows.Scan(&workspaceID, &kind, &amount); err != nil {
			return nil, fmt.Errorf("scan vault flow: %w", err)
		}
		a, err := decFromDB(amount)
		if err != nil {
			return nil, err
		}
		if _, seen := totals[workspaceID]; !seen {
			order = append(order, workspaceID)
		}
		if kind == core.KindVaultWithdraw {
			a = a.Neg()
		}
		totals[workspaceID] = totals[workspaceID].Add(a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]VaultFlow, 0, len(order))
	for _, ws := range order {
		out = append(out, VaultFlow{WorkspaceID: ws, Net: totals[ws]})
	}
	return out, nil
}

func sumAmountRows(rows *sql.Rows) (decimal.Decimal, error) {
	total := decimal.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		a, err := decFromDB(amount)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(a)
	}
	return total, rows.Err()
}
