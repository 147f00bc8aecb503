package services

import (
	"context"
	"testing"
	"time"

	"cofre/internal/core"
)

func TestSweepMaterializesDueOccurrences(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	processor := NewRecurringProcessor(f.repo, f.ledger)

	e, err := core.NewAccountExpense(f.ws.ID, "affitto", dec("700"), date(2025, 1, 1), f.account.ID, "")
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	rows, err := f.ledger.CreateTransaction(ctx, e, CreateOptions{Frequency: core.FreqMonthly})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	template := rows[0]

	// The first occurrence is the template itself, charged at creation.
	if got := f.balance(t, f.account.ID); !got.Equal(dec("300")) {
		t.Errorf("balance after template = %s, want 300", got)
	}
	if template.SeriesID != template.ID {
		t.Errorf("template series = %q, want its own id", template.SeriesID)
	}
	if !template.NextOccurrence.Equal(date(2025, 2, 1)) {
		t.Errorf("next occurrence = %s, want 2025-02-01", template.NextOccurrence)
	}

	// Sweeping before the due date does nothing.
	n, err := processor.Sweep(ctx, date(2025, 1, 20))
	if err != nil {
		t.Fatalf("early sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("early sweep created %d, want 0", n)
	}

	// A sweep past two due dates catches up both occurrences.
	n, err = processor.Sweep(ctx, date(2025, 3, 5))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("sweep created %d, want 2", n)
	}
	if got := f.balance(t, f.account.ID); !got.Equal(dec("-1100")) {
		t.Errorf("balance after catch-up = %s, want -1100", got)
	}

	// A second sweep at the same instant finds nothing left.
	n, err = processor.Sweep(ctx, date(2025, 3, 5))
	if err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("repeat sweep created %d, want 0", n)
	}

	occurrences, err := f.repo.ListTransactionsByWorkspace(ctx, f.ws.ID, date(2025, 1, 1), date(2025, 12, 31))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(occurrences) != 3 {
		t.Errorf("rows = %d, want template plus 2 occurrences", len(occurrences))
	}
	for _, row := range occurrences {
		if row.SeriesID != template.ID {
			t.Errorf("row %s series = %q, want %q", row.ID, row.SeriesID, template.ID)
		}
	}
}

func TestStopRecurrence(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	processor := NewRecurringProcessor(f.repo, f.ledger)

	e, err := core.NewAccountExpense(f.ws.ID, "abbonamento", dec("10"), date(2025, 1, 1), f.account.ID, "")
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	rows, err := f.ledger.CreateTransaction(ctx, e, CreateOptions{Frequency: core.FreqWeekly})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	if err := f.ledger.StopRecurrence(ctx, rows[0].ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	n, err := processor.Sweep(ctx, date(2025, 6, 1))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("stopped series still materialized %d occurrences", n)
	}
}

func TestSweepSkipsUnclaimedOccurrence(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	processor := NewRecurringProcessor(f.repo, f.ledger)

	e, err := core.NewIncome(f.ws.ID, "stipendio", dec("1500"), date(2025, 1, 27), f.account.ID, "")
	if err != nil {
		t.Fatalf("new income: %v", err)
	}
	rows, err := f.ledger.CreateTransaction(ctx, e, CreateOptions{Frequency: core.FreqMonthly})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	template := rows[0]

	// Another worker already advanced the pointer past February.
	next := core.NextOccurrence(core.FreqMonthly, template.NextOccurrence)
	claimed, err := f.repo.ClaimOccurrence(ctx, template.ID, template.NextOccurrence, next)
	if err != nil || !claimed {
		t.Fatalf("pre-claim: claimed=%v err=%v", claimed, err)
	}

	n, err := processor.Sweep(ctx, date(2025, 2, 28).Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("sweep materialized %d occurrences for a claimed date", n)
	}
}
