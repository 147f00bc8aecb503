package storage

import (
	"context"
	"fmt"
	"time"

	"cofre/internal/core"
)

// DueSeries returns the template transactions whose next occurrence is at or
// before now. Templates are the original rows carrying a frequency and a
// pending next_occurrence.
func (q *Queries) DueSeries(ctx context.Context, now time.Time) ([]core.Transaction, error) {
	return q.listTransactions(ctx,
		`SELECT `+txColumns+` FROM transactions
		 WHERE frequency != ? AND series_id IS NOT NULL AND id = series_id
		   AND next_occurrence IS NOT NULL AND next_occurrence <= ?
		 ORDER BY next_occurrence`,
		core.FreqNone, timeToDB(now))
}

// ClaimOccurrence advances the template's next_occurrence from expected to
// next, but only if no other sweeper got there first. Returns false when the
// pointer already moved.
func (q *Queries) ClaimOccurrence(ctx context.Context, templateID string, expected, next time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET next_occurrence = ?
		 WHERE id = ? AND next_occurrence = ?`,
		timeToDB(next), templateID, timeToDB(expected))
	if err != nil {
		return false, fmt.Errorf("claim occurrence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim occurrence rows: %w", err)
	}
	return n > 0, nil
}

// StopSeries clears the template's pending occurrence so the sweeper never
// picks it up again. Materialized occurrences stay.
func (q *Queries) StopSeries(ctx context.Context, seriesID string) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE transactions SET next_occurrence = NULL
		 WHERE id = ? AND id = series_id`,
		seriesID)
	if err != nil {
		return fmt.Errorf("stop series: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("series %s: %w", seriesID, core.ErrNotFound)
	}
	return nil
}
