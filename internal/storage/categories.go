package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"cofre/internal/core"
)

// ResolveCategory finds the named category in the workspace or creates it
// on the fly, mirroring how entries name categories free-form.
func (q *Queries) ResolveCategory(ctx context.Context, workspaceID, name string, kind core.TxKind) (core.Category, error) {
	var c core.Category
	err := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, kind FROM categories WHERE workspace_id = ? AND name = ?`,
		workspaceID, name).
		Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Kind)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("lookup category: %w", err)
	}

	c = core.Category{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        name,
		Kind:        kind,
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO categories (id, workspace_id, name, kind) VALUES (?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Name, c.Kind)
	if err != nil {
		return core.Category{}, fmt.Errorf("insert category: %w", err)
	}
	return c, nil
}

func (q *Queries) GetCategory(ctx context.Context, id string) (core.Category, error) {
	var c core.Category
	err := q.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, name, kind FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("category %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("get category: %w", err)
	}
	return c, nil
}

func (q *Queries) ListCategories(ctx context.Context, workspaceID string) ([]core.Category, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, name, kind FROM categories WHERE workspace_id = ? ORDER BY name`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Kind); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
