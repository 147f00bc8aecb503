package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cofre/internal/core"
	"cofre/internal/storage"
)

// RecurringProcessor materializes due occurrences of recurring transaction
// series. Safe to run from several workers at once: each occurrence is
// claimed with an optimistic update on the template's next date, and a
// unique index on (series, date) backstops the claim.
type RecurringProcessor struct {
	repo   *storage.Repository
	ledger *LedgerService
}

func NewRecurringProcessor(repo *storage.Repository, ledger *LedgerService) *RecurringProcessor {
	return &RecurringProcessor{
		repo:   repo,
		ledger: ledger,
	}
}

// Sweep materializes every occurrence due at or before now and returns how
// many were created. A template may yield several occurrences in one sweep
// when the worker was down past multiple due dates.
func (p *RecurringProcessor) Sweep(ctx context.Context, now time.Time) (int, error) {
	if p.repo == nil || p.ledger == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	templates, err := p.repo.DueSeries(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("load due series: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring series",
		"due", len(templates),
		"sweep_date", now.Format("2006-01-02"))

	processed := 0
	for _, template := range templates {
		n, err := p.processTemplate(ctx, template, now)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to process recurring series",
				"series_id", template.SeriesID,
				"description", template.Description,
				"error", err)
			continue
		}
		processed += n
	}

	slog.InfoContext(ctx, "Recurring sweep complete",
		"processed", processed,
		"series_checked", len(templates))
	return processed, nil
}

// processTemplate walks the template's occurrence dates up to now, claiming
// and materializing each in turn.
func (p *RecurringProcessor) processTemplate(ctx context.Context, template core.Transaction, now time.Time) (int, error) {
	created := 0
	occurrence := template.NextOccurrence

	for !occurrence.IsZero() && !occurrence.After(now) {
		next := core.NextOccurrence(template.Frequency, occurrence)

		claimed, err := p.repo.ClaimOccurrence(ctx, template.ID, occurrence, next)
		if err != nil {
			return created, err
		}
		if !claimed {
			// Another worker advanced the pointer; it owns this occurrence.
			break
		}

		if err := p.materialize(ctx, template, occurrence); err != nil {
			return created, fmt.Errorf("materialize occurrence %s: %w", occurrence.Format("2006-01-02"), err)
		}
		created++

		slog.InfoContext(ctx, "Materialized recurring occurrence",
			"series_id", template.SeriesID,
			"description", template.Description,
			"date", occurrence.Format("2006-01-02"),
			"frequency", template.Frequency)

		occurrence = next
	}
	return created, nil
}

// materialize writes one occurrence as a regular ledger entry with the
// template's amount and channels, applying its balance effects atomically.
func (p *RecurringProcessor) materialize(ctx context.Context, template core.Transaction, date time.Time) error {
	return p.repo.WithinTx(ctx, func(q *storage.Queries) error {
		row := template
		row.ID = uuid.NewString()
		row.Date = date
		row.Frequency = core.FreqNone
		row.NextOccurrence = time.Time{}
		row.SeriesID = template.SeriesID

		if err := q.InsertTransaction(ctx, row); err != nil {
			return err
		}
		return applyEffects(ctx, q, row, 1)
	})
}
