package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cofre/internal/core"
)

func TestBudgetProgressCountsCardSpend(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	analytics := NewAnalyticsService(f.repo)
	card := f.addCard(t, 5, 15)

	groceries, err := f.repo.ResolveCategory(ctx, f.ws.ID, "Groceries", core.KindExpense)
	if err != nil {
		t.Fatalf("resolve category: %v", err)
	}
	budget := core.Budget{
		ID:           uuid.NewString(),
		WorkspaceID:  f.ws.ID,
		CategoryID:   groceries.ID,
		TargetAmount: dec("200"),
	}
	if err := f.repo.UpsertBudget(ctx, budget); err != nil {
		t.Fatalf("upsert budget: %v", err)
	}

	// One settled account expense, one still-unpaid card expense.
	acct, err := core.NewAccountExpense(f.ws.ID, "mercato", dec("50"), date(2025, 1, 10), f.account.ID, groceries.ID)
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, acct, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	onCard, err := core.NewCardExpense(f.ws.ID, "supermercato", dec("70"), date(2025, 1, 12), card.ID, groceries.ID, "")
	if err != nil {
		t.Fatalf("new card expense: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, onCard, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	reports, err := analytics.BudgetProgress(ctx, f.ws.ID, 2025, time.January)
	if err != nil {
		t.Fatalf("budget progress: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if !reports[0].Spent.Equal(dec("120")) {
		t.Errorf("spent = %s, want 120 (card rows count before settlement)", reports[0].Spent)
	}
	if !reports[0].Percent.Equal(dec("60")) {
		t.Errorf("percent = %s, want 60", reports[0].Percent)
	}
}

func TestGoalProgressAcrossWorkspaces(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	analytics := NewAnalyticsService(f.repo)

	// A second workspace in the same tenant contributing to the same goal.
	other := core.Workspace{ID: uuid.NewString(), TenantID: f.tenant.ID, Name: "studio"}
	if err := f.repo.InsertWorkspace(ctx, other); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	otherAccount := core.Account{ID: uuid.NewString(), WorkspaceID: other.ID, Name: "conto studio", Balance: dec("1000")}
	if err := f.repo.InsertAccount(ctx, otherAccount); err != nil {
		t.Fatalf("insert account: %v", err)
	}

	goal := core.Goal{
		ID:           uuid.NewString(),
		TenantID:     f.tenant.ID,
		Name:         "casa nuova",
		TargetAmount: dec("1000"),
		ContributionRules: map[string]decimal.Decimal{
			f.ws.ID:  dec("60"),
			other.ID: dec("40"),
		},
	}
	if err := f.repo.InsertGoal(ctx, goal); err != nil {
		t.Fatalf("insert goal: %v", err)
	}

	vaultA := core.Vault{ID: uuid.NewString(), AccountID: f.account.ID, Name: "quota casa", GoalID: goal.ID}
	vaultB := core.Vault{ID: uuid.NewString(), AccountID: otherAccount.ID, Name: "quota studio", GoalID: goal.ID}
	for _, v := range []core.Vault{vaultA, vaultB} {
		if err := f.repo.InsertVault(ctx, v); err != nil {
			t.Fatalf("insert vault: %v", err)
		}
	}

	if _, err := f.ledger.MoveVaultFunds(ctx, core.KindVaultDeposit, f.ws.ID, "quota", dec("300"), date(2025, 1, 5), vaultA.ID); err != nil {
		t.Fatalf("deposit A: %v", err)
	}
	if _, err := f.ledger.MoveVaultFunds(ctx, core.KindVaultDeposit, other.ID, "quota", dec("250"), date(2025, 1, 6), vaultB.ID); err != nil {
		t.Fatalf("deposit B: %v", err)
	}
	// A withdrawal reduces the contribution of its workspace.
	if _, err := f.ledger.MoveVaultFunds(ctx, core.KindVaultWithdraw, other.ID, "imprevisto", dec("50"), date(2025, 1, 7), vaultB.ID); err != nil {
		t.Fatalf("withdraw B: %v", err)
	}

	report, err := analytics.GoalProgress(ctx, goal.ID)
	if err != nil {
		t.Fatalf("goal progress: %v", err)
	}
	if !report.Current.Equal(dec("500")) {
		t.Errorf("current = %s, want 500", report.Current)
	}
	if !report.Percent.Equal(dec("50")) {
		t.Errorf("percent = %s, want 50", report.Percent)
	}

	shares := make(map[string]GoalShare, len(report.Shares))
	for _, share := range report.Shares {
		shares[share.WorkspaceID] = share
	}
	a := shares[f.ws.ID]
	if !a.Paid.Equal(dec("300")) || !a.TargetShare.Equal(dec("600")) || !a.Percent.Equal(dec("50")) {
		t.Errorf("workspace A share = %+v, want paid 300 of 600 (50%%)", a)
	}
	b := shares[other.ID]
	if !b.Paid.Equal(dec("200")) || !b.TargetShare.Equal(dec("400")) || !b.Percent.Equal(dec("50")) {
		t.Errorf("workspace B share = %+v, want paid 200 of 400 (50%%)", b)
	}
}

func TestCardInvoiceDerived(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	analytics := NewAnalyticsService(f.repo)
	card := f.addCard(t, 5, 15)

	for _, day := range []int{2, 4} {
		e, err := core.NewCardExpense(f.ws.ID, "spesa", dec("25"), date(2025, 1, day), card.ID, "", "")
		if err != nil {
			t.Fatalf("new expense: %v", err)
		}
		if _, err := f.ledger.CreateTransaction(ctx, e, CreateOptions{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	// Dated past the closing day, this row belongs to the next cycle.
	late, err := core.NewCardExpense(f.ws.ID, "spesa tardiva", dec("99"), date(2025, 1, 20), card.ID, "", "")
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, late, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	report, err := analytics.CardInvoice(ctx, card.ID, date(2025, 1, 3))
	if err != nil {
		t.Fatalf("card invoice: %v", err)
	}
	if !report.Total.Equal(dec("50")) || report.Rows != 2 {
		t.Errorf("invoice = %s over %d rows, want 50 over 2", report.Total, report.Rows)
	}
	if !report.Cycle.PeriodEnd.Equal(date(2025, 1, 5)) {
		t.Errorf("period end = %s, want 2025-01-05", report.Cycle.PeriodEnd)
	}
	if !report.Cycle.DueDate.Equal(date(2025, 1, 15)) {
		t.Errorf("due = %s, want 2025-01-15", report.Cycle.DueDate)
	}

	next, err := analytics.CardInvoice(ctx, card.ID, date(2025, 1, 20))
	if err != nil {
		t.Fatalf("next cycle invoice: %v", err)
	}
	if !next.Total.Equal(dec("99")) {
		t.Errorf("next cycle total = %s, want 99", next.Total)
	}
}

func TestMonthlySummaryExcludesSettlementRows(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	analytics := NewAnalyticsService(f.repo)
	card := f.addCard(t, 5, 15)

	income, err := core.NewIncome(f.ws.ID, "stipendio", dec("1500"), date(2025, 1, 2), f.account.ID, "")
	if err != nil {
		t.Fatalf("new income: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, income, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	onCard, err := core.NewCardExpense(f.ws.ID, "spesa", dec("80"), date(2025, 1, 3), card.ID, "", "")
	if err != nil {
		t.Fatalf("new card expense: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, onCard, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.ledger.PayCreditCardInvoice(ctx, f.ws.ID, card.ID, f.account.ID, date(2025, 1, 3), decimal.Zero); err != nil {
		t.Fatalf("pay invoice: %v", err)
	}

	summary, err := analytics.Summarize(ctx, f.ws.ID, 2025, time.January)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !summary.Income.Equal(dec("1500")) {
		t.Errorf("income = %s, want 1500", summary.Income)
	}
	// The card spend counts once, at purchase; the settlement row is skipped.
	if !summary.Expenses.Equal(dec("80")) {
		t.Errorf("expenses = %s, want 80", summary.Expenses)
	}
	if !summary.Net.Equal(dec("1420")) {
		t.Errorf("net = %s, want 1420", summary.Net)
	}
}

func TestSummaryCacheInvalidation(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	analytics := NewAnalyticsService(f.repo)

	income, err := core.NewIncome(f.ws.ID, "stipendio", dec("100"), date(2025, 1, 2), f.account.ID, "")
	if err != nil {
		t.Fatalf("new income: %v", err)
	}
	if _, err := f.ledger.CreateTransaction(ctx, income, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := analytics.Summarize(ctx, f.ws.ID, 2025, time.January)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !first.Income.Equal(dec("100")) {
		t.Errorf("income = %s, want 100", first.Income)
	}

	// Without invalidation a new write is not visible...
	if _, err := f.ledger.CreateTransaction(ctx, income, CreateOptions{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	cached, err := analytics.Summarize(ctx, f.ws.ID, 2025, time.January)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !cached.Income.Equal(dec("100")) {
		t.Errorf("cached income = %s, want stale 100", cached.Income)
	}

	// ...and visible right after it.
	analytics.Invalidate(f.ws.ID, date(2025, 1, 2))
	fresh, err := analytics.Summarize(ctx, f.ws.ID, 2025, time.January)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if !fresh.Income.Equal(dec("200")) {
		t.Errorf("fresh income = %s, want 200", fresh.Income)
	}
}
