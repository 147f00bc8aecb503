package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cofre/internal/core"
)

func (q *Queries) InsertCreditCard(ctx context.Context, c core.CreditCard) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO credit_cards (id, workspace_id, name, institution, credit_limit, closing_day, due_day)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Name, c.Institution, decToDB(c.Limit), c.ClosingDay, c.DueDay)
	if err != nil {
		return fmt.Errorf("insert credit card: %w", err)
	}
	return nil
}

func (q *Queries) GetCreditCard(ctx context.Context, id string) (core.CreditCard, error) {
	var (
		c     core.CreditCard
		limit string
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, institution, credit_limit, closing_day, due_day
		 FROM credit_cards WHERE id = ?`, id).
		Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Institution, &limit, &c.ClosingDay, &c.DueDay)
	if errors.Is(err, sql.ErrNoRows) {
		return core.CreditCard{}, fmt.Errorf("credit card %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.CreditCard{}, fmt.Errorf("get credit card: %w", err)
	}
	if c.Limit, err = decFromDB(limit); err != nil {
		return core.CreditCard{}, err
	}
	return c, nil
}

func (q *Queries) ListCreditCards(ctx context.Context, workspaceID string) ([]core.CreditCard, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, institution, credit_limit, closing_day, due_day
		 FROM credit_cards WHERE workspace_id = ? ORDER BY name`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list credit cards: %w", err)
	}
	defer rows.Close()

	var out []core.CreditCard
	for rows.Next() {
		var (
			c     core.CreditCard
			limit string
		)
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Institution, &limit, &c.ClosingDay, &c.DueDay); err != nil {
			return nil, fmt.Errorf("scan credit card: %w", err)
		}
		if c.Limit, err = decFromDB(limit); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCardsDueOnDay returns every card whose due day matches, across all
// tenants, for the alert sweep. On the last day of a month, cards whose
// nominal due day overflows the month (due_day 31 in February) clamp down
// to it and must match too.
func (q *Queries) ListCardsDueOnDay(ctx context.Context, dueDay int, lastOfMonth bool) ([]core.CreditCard, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, institution, credit_limit, closing_day, due_day
		 FROM credit_cards WHERE due_day = ? OR (? AND due_day > ?)`,
		dueDay, lastOfMonth, dueDay)
	if err != nil {
		return nil, fmt.Errorf("list cards due on day %d: %w", dueDay, err)
	}
	defer rows.Close()

	var out []core.CreditCard
	for rows.Next() {
		var (
			c     core.CreditCard
			limit string
		)
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Institution, &limit, &c.ClosingDay, &c.DueDay); err != nil {
			return nil, fmt.Errorf("scan credit card: %w", err)
		}
		if c.Limit, err = decFromDB(limit); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteCreditCard(ctx context.Context, id string) error {
	var txns int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE credit_card_id = ? AND is_paid = 0`, id).Scan(&txns)
	if err != nil {
		return fmt.Errorf("count open card transactions: %w", err)
	}
	if txns > 0 {
		return core.Consistencyf("credit card %s has %d unpaid transactions", id, txns)
	}

	res, err := q.db.ExecContext(ctx, `DELETE FROM credit_cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credit card: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("credit card %s: %w", id, core.ErrNotFound)
	}
	return nil
}
