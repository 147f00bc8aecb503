package services

import (
	"context"
	"log/slog"
	"time"

	"cofre/internal/amqp"
	"cofre/internal/core"
	"cofre/internal/storage"
)

// AlertService scans for credit cards whose invoice falls due soon and
// emits events for the notify worker. Best-effort: a failed card never
// stops the scan.
type AlertService struct {
	repo   *storage.Repository
	events *amqp.Client
}

func NewAlertService(repo *storage.Repository, events *amqp.Client) *AlertService {
	return &AlertService{
		repo:   repo,
		events: events,
	}
}

// ScanDueInvoices emits one card.due_soon event per card whose next due
// date falls within horizonDays of now and whose open invoice is not empty.
func (s *AlertService) ScanDueInvoices(ctx context.Context, now time.Time, horizonDays int) (int, error) {
	seen := make(map[string]bool)
	alerted := 0

	for offset := 0; offset <= horizonDays; offset++ {
		day := now.AddDate(0, 0, offset)
		lastOfMonth := day.AddDate(0, 0, 1).Day() == 1
		cards, err := s.repo.ListCardsDueOnDay(ctx, day.Day(), lastOfMonth)
		if err != nil {
			return alerted, err
		}

		for _, card := range cards {
			if seen[card.ID] {
				continue
			}
			seen[card.ID] = true

			cycle := core.CycleFor(now, card.ClosingDay, card.DueDay)
			if cycle.DueDate.After(now.AddDate(0, 0, horizonDays)) {
				continue
			}

			unpaid, err := s.repo.ListUnpaidCardTransactions(ctx, card.ID, cycle.PeriodStart, cycle.PeriodEnd)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to load open invoice",
					"card_id", card.ID, "error", err)
				continue
			}
			if len(unpaid) == 0 {
				continue
			}

			var total = unpaid[0].Amount
			for _, row := range unpaid[1:] {
				total = total.Add(row.Amount)
			}

			if s.events == nil {
				slog.WarnContext(ctx, "AMQP client not available, skipping due alert", "card_id", card.ID)
				continue
			}
			event := amqp.NewEvent(amqp.EventCardDueSoon, card.WorkspaceID, card.ID)
			event.Amount = total.StringFixed(2)
			event.Detail = card.Name + " due " + cycle.DueDate.Format("2006-01-02")
			if err := s.events.PublishEvent(ctx, event); err != nil {
				slog.ErrorContext(ctx, "Failed to publish due alert",
					"card_id", card.ID, "error", err)
				continue
			}
			alerted++
		}
	}

	slog.InfoContext(ctx, "Due-invoice scan complete",
		"alerted", alerted,
		"horizon_days", horizonDays)
	return alerted, nil
}
