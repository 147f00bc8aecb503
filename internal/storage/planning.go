package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cofre/internal/core"
)

func (q *Queries) UpsertBudget(ctx context.Context, b core.Budget) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO budgets (id, workspace_id, category_id, target_amount)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (workspace_id, category_id)
		 DO UPDATE SET target_amount = excluded.target_amount`,
		b.ID, b.WorkspaceID, b.CategoryID, decToDB(b.TargetAmount))
	if err != nil {
		return fmt.Errorf("upsert budget: %w", err)
	}
	return nil
}

func (q *Queries) ListBudgets(ctx context.Context, workspaceID string) ([]core.Budget, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, category_id, target_amount
		 FROM budgets WHERE workspace_id = ? ORDER BY category_id`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		var (
			b      core.Budget
			target string
		)
		if err := rows.Scan(&b.ID, &b.WorkspaceID, &b.CategoryID, &target); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		if b.TargetAmount, err = decFromDB(target); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteBudget(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *Queries) InsertGoal(ctx context.Context, g core.Goal) error {
	rules, err := json.Marshal(g.ContributionRules)
	if err != nil {
		return fmt.Errorf("encode contribution rules: %w", err)
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO goals (id, tenant_id, workspace_id, name, target_amount, deadline, contribution_rules)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, nullStrToDB(g.TenantID), nullStrToDB(g.WorkspaceID), g.Name,
		decToDB(g.TargetAmount), nullTimeToDB(g.Deadline), string(rules))
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func scanGoal(scan func(dest ...any) error) (core.Goal, error) {
	var (
		g                  core.Goal
		tenant, workspace  sql.NullString
		target, rules      string
		deadline           sql.NullInt64
	)
	err := scan(&g.ID, &tenant, &workspace, &g.Name, &target, &deadline, &rules)
	if err != nil {
		return core.Goal{}, err
	}
	if g.TargetAmount, err = decFromDB(target); err != nil {
		return core.Goal{}, err
	}
	if err := json.Unmarshal([]byte(rules), &g.ContributionRules); err != nil {
		return core.Goal{}, fmt.Errorf("decode contribution rules: %w", err)
	}
	g.TenantID = nullStrFromDB(tenant)
	g.WorkspaceID = nullStrFromDB(workspace)
	g.Deadline = nullTimeFromDB(deadline)
	return g, nil
}

func (q *Queries) GetGoal(ctx context.Context, id string) (core.Goal, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, workspace_id, name, target_amount, deadline, contribution_rules
		 FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Goal{}, fmt.Errorf("goal %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

// ListGoalsForWorkspace returns the workspace's own goals plus the shared
// goals of its tenant.
func (q *Queries) ListGoalsForWorkspace(ctx context.Context, workspaceID string) ([]core.Goal, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT g.id, g.tenant_id, g.workspace_id, g.name, g.target_amount, g.deadline, g.contribution_rules
		 FROM goals g
		 WHERE g.workspace_id = ?
		    OR g.tenant_id = (SELECT tenant_id FROM workspaces WHERE id = ?)
		 ORDER BY g.name`,
		workspaceID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		g, err := scanGoal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (q *Queries) DeleteGoal(ctx context.Context, id string) error {
	var linked int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vaults WHERE goal_id = ?`, id).Scan(&linked)
	if err != nil {
		return fmt.Errorf("count goal vaults: %w", err)
	}
	if linked > 0 {
		return core.Consistencyf("goal %s still has %d linked vaults", id, linked)
	}
	res, err := q.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (q *Queries) InsertNotification(ctx context.Context, n core.Notification) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, title, body, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Body, n.Read, timeToDB(time.Now()))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (q *Queries) ListUnreadNotifications(ctx context.Context, userID string) ([]core.Notification, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, user_id, title, body, read, created_at
		 FROM notifications WHERE user_id = ? AND read = 0 ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []core.Notification
	for rows.Next() {
		var (
			n       core.Notification
			created int64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.Read, &created); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.CreatedAt = timeFromDB(created)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (q *Queries) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, core.ErrNotFound)
	}
	return nil
}
