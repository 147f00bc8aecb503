package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cofre/internal/core"
)

func (q *Queries) InsertTenant(ctx context.Context, t core.Tenant) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Name, timeToDB(time.Now()))
	if err != nil {
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

func (q *Queries) InsertWorkspace(ctx context.Context, w core.Workspace) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, tenant_id, name, created_at) VALUES (?, ?, ?, ?)`,
		w.ID, w.TenantID, w.Name, timeToDB(time.Now()))
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (q *Queries) GetWorkspace(ctx context.Context, id string) (core.Workspace, error) {
	var w core.Workspace
	err := q.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name FROM workspaces WHERE id = ?`, id).
		Scan(&w.ID, &w.TenantID, &w.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Workspace{}, fmt.Errorf("workspace %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Workspace{}, fmt.Errorf("get workspace: %w", err)
	}
	return w, nil
}

func (q *Queries) ListWorkspacesByTenant(ctx context.Context, tenantID string) ([]core.Workspace, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, tenant_id, name FROM workspaces WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []core.Workspace
	for rows.Next() {
		var w core.Workspace
		if err := rows.Scan(&w.ID, &w.TenantID, &w.Name); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (q *Queries) InsertUser(ctx context.Context, id, tenantID, name, email string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, name, email) VALUES (?, ?, ?, ?)`,
		id, tenantID, name, email)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (q *Queries) AddWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workspace_members (workspace_id, user_id) VALUES (?, ?)`,
		workspaceID, userID)
	if err != nil {
		return fmt.Errorf("add workspace member: %w", err)
	}
	return nil
}

// IsWorkspaceMember reports whether the user has access to the workspace.
// Membership is explicit per workspace; belonging to the owning tenant is
// not enough on its own.
func (q *Queries) IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error) {
	var n int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_members WHERE workspace_id = ? AND user_id = ?`,
		workspaceID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check workspace membership: %w", err)
	}
	return n > 0, nil
}

// ListUsersForWorkspace returns the ids of every user in the tenant owning
// the workspace, for alert fan-out.
func (q *Queries) ListUsersForWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT u.id FROM users u
		 JOIN workspaces w ON w.tenant_id = u.tenant_id
		 WHERE w.id = ?`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list users for workspace: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
