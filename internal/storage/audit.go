package storage

import (
	"context"
	"database/sql"
	"fmt"

	"cofre/internal/core"
)

func (q *Queries) InsertAuditEntry(ctx context.Context, e core.AuditEntry) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, workspace_id, actor_id, action, entity, entity_id, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WorkspaceID, e.ActorID, string(e.Action), e.Entity,
		nullStrToDB(e.EntityID), nullStrToDB(e.Details), timeToDB(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns the most recent entries for a workspace,
// newest first.
func (q *Queries) ListAuditEntries(ctx context.Context, workspaceID string, limit int) ([]core.AuditEntry, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, workspace_id, actor_id, action, entity, entity_id, details, created_at
		 FROM audit_log WHERE workspace_id = ?
		 ORDER BY created_at DESC, id LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e                 core.AuditEntry
			action            string
			entityID, details sql.NullString
			created           int64
		)
		if err := rows.Scan(&e.ID, &e.WorkspaceID, &e.ActorID, &action, &e.Entity, &entityID, &details, &created); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = core.AuditAction(action)
		e.EntityID = nullStrFromDB(entityID)
		e.Details = nullStrFromDB(details)
		e.CreatedAt = timeFromDB(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
