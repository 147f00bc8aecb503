package services

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cofre/internal/cache"
	"cofre/internal/core"
	"cofre/internal/storage"
)

// BudgetReport is the spend of one budgeted category over a month.
// Spent counts every expense in the category, card rows included,
// whether or not they are settled yet: a budget tracks commitment.
type BudgetReport struct {
	Budget  core.Budget
	Spent   decimal.Decimal
	Percent decimal.Decimal
}

// GoalShare is one workspace's stake in a shared goal.
type GoalShare struct {
	WorkspaceID string
	Paid        decimal.Decimal
	TargetShare decimal.Decimal
	Percent     decimal.Decimal
}

// GoalReport aggregates the vault flows linked to a goal.
type GoalReport struct {
	Goal    core.Goal
	Current decimal.Decimal
	Percent decimal.Decimal
	Shares  []GoalShare
}

// InvoiceReport is the derived open invoice of a card for one cycle.
type InvoiceReport struct {
	Card  core.CreditCard
	Cycle core.Cycle
	Total decimal.Decimal
	Rows  int
}

// MonthlySummary is the cash-flow roll-up of a workspace month. Income and
// Expenses follow the cash-flow sign of each kind; transfers and vault
// moves are neutral.
type MonthlySummary struct {
	Income   decimal.Decimal
	Expenses decimal.Decimal
	Net      decimal.Decimal
}

// AnalyticsService answers read-only aggregation queries over the ledger.
// Monthly summaries are cached per workspace month; any write in the
// workspace invalidates through Invalidate.
type AnalyticsService struct {
	repo    *storage.Repository
	summary *cache.LRUCache[MonthlySummary]
}

func NewAnalyticsService(repo *storage.Repository) *AnalyticsService {
	return &AnalyticsService{
		repo:    repo,
		summary: cache.NewLRUCache[MonthlySummary](256, 5*time.Minute),
	}
}

// SummaryCache exposes the cache for cleanup registration.
func (s *AnalyticsService) SummaryCache() *cache.LRUCache[MonthlySummary] {
	return s.summary
}

// Invalidate drops the cached summary of a workspace month after a write.
func (s *AnalyticsService) Invalidate(workspaceID string, ref time.Time) {
	s.summary.Delete(summaryKey(workspaceID, ref.Year(), ref.Month()))
}

func summaryKey(workspaceID string, year int, month time.Month) string {
	return fmt.Sprintf("%s/%04d-%02d", workspaceID, year, month)
}

// Summarize rolls up the workspace's cash flow for a calendar month.
func (s *AnalyticsService) Summarize(ctx context.Context, workspaceID string, year int, month time.Month) (MonthlySummary, error) {
	key := summaryKey(workspaceID, year, month)
	if cached, ok := s.summary.Get(key); ok {
		return cached, nil
	}

	from, to := core.MonthWindow(year, month, time.UTC)
	rows, err := s.repo.ListTransactionsByWorkspace(ctx, workspaceID, from, to)
	if err != nil {
		return MonthlySummary{}, err
	}

	// Card spend is counted at purchase; the settlement row written by an
	// invoice payment would count it a second time.
	settlementCategory := ""
	categories, err := s.repo.ListCategories(ctx, workspaceID)
	if err != nil {
		return MonthlySummary{}, err
	}
	for _, c := range categories {
		if c.Name == InvoicePaymentCategory {
			settlementCategory = c.ID
			break
		}
	}

	var out MonthlySummary
	for _, t := range rows {
		if settlementCategory != "" && t.CategoryID == settlementCategory {
			continue
		}
		switch t.Kind.CashFlowSign() {
		case 1:
			out.Income = out.Income.Add(t.Amount)
		case -1:
			out.Expenses = out.Expenses.Add(t.Amount)
		}
	}
	out.Net = out.Income.Sub(out.Expenses)

	s.summary.Set(key, out)
	return out, nil
}

// BudgetProgress reports every budget of the workspace against the month's
// spend in its category.
func (s *AnalyticsService) BudgetProgress(ctx context.Context, workspaceID string, year int, month time.Month) ([]BudgetReport, error) {
	budgets, err := s.repo.ListBudgets(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	from, to := core.MonthWindow(year, month, time.UTC)
	reports := make([]BudgetReport, 0, len(budgets))
	for _, b := range budgets {
		spent, err := s.repo.SumExpensesByCategory(ctx, workspaceID, b.CategoryID, from, to)
		if err != nil {
			return nil, err
		}
		r := BudgetReport{Budget: b, Spent: spent}
		if b.TargetAmount.IsPositive() {
			r.Percent = spent.Div(b.TargetAmount).Mul(decimal.NewFromInt(100)).Round(2)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// GoalProgress derives a goal's current amount from the net vault flows
// linked to it, broken down per contributing workspace. The target share of
// each workspace comes from the goal's contribution rules; a workspace
// without a rule gets a zero share, its payments still count toward the
// total.
func (s *AnalyticsService) GoalProgress(ctx context.Context, goalID string) (GoalReport, error) {
	goal, err := s.repo.GetGoal(ctx, goalID)
	if err != nil {
		return GoalReport{}, err
	}

	flows, err := s.repo.SumVaultFlowsByGoal(ctx, goalID)
	if err != nil {
		return GoalReport{}, err
	}

	hundred := decimal.NewFromInt(100)
	report := GoalReport{Goal: goal}
	for _, flow := range flows {
		report.Current = report.Current.Add(flow.Net)

		share := GoalShare{WorkspaceID: flow.WorkspaceID, Paid: flow.Net}
		if rule, ok := goal.ContributionRules[flow.WorkspaceID]; ok {
			share.TargetShare = goal.TargetAmount.Mul(rule).Div(hundred).Round(2)
			if share.TargetShare.IsPositive() {
				share.Percent = flow.Net.Div(share.TargetShare).Mul(hundred).Round(2)
			}
		}
		report.Shares = append(report.Shares, share)
	}
	if goal.TargetAmount.IsPositive() {
		report.Percent = report.Current.Div(goal.TargetAmount).Mul(hundred).Round(2)
	}
	return report, nil
}

// CardInvoice derives the open invoice of a card for the cycle containing
// ref. Nothing is stored; the total is always recomputed from the unpaid
// rows in the window.
func (s *AnalyticsService) CardInvoice(ctx context.Context, cardID string, ref time.Time) (InvoiceReport, error) {
	card, err := s.repo.GetCreditCard(ctx, cardID)
	if err != nil {
		return InvoiceReport{}, err
	}

	cycle := core.CycleFor(ref, card.ClosingDay, card.DueDay)
	unpaid, err := s.repo.ListUnpaidCardTransactions(ctx, cardID, cycle.PeriodStart, cycle.PeriodEnd)
	if err != nil {
		return InvoiceReport{}, err
	}

	report := InvoiceReport{Card: card, Cycle: cycle, Rows: len(unpaid)}
	for _, row := range unpaid {
		report.Total = report.Total.Add(row.Amount)
	}
	return report, nil
}
