package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cofre/internal/amqp"
	"cofre/internal/core"
	"cofre/internal/storage"
)

// InvoicePaymentCategory names the category attached to settlement rows
// written by PayCreditCardInvoice.
const InvoicePaymentCategory = "Invoice payment"

// budgetWarnPercent is the usage level at which a budget threshold event
// fires.
var budgetWarnPercent = decimal.NewFromInt(80)

// LedgerService orchestrates transaction lifecycle operations across SQLite
// and AMQP. Every mutation runs inside one database transaction; events are
// published after commit, best-effort.
type LedgerService struct {
	repo   *storage.Repository
	events *amqp.Client
}

func NewLedgerService(repo *storage.Repository, events *amqp.Client) *LedgerService {
	return &LedgerService{
		repo:   repo,
		events: events,
	}
}

// CreateOptions carries the recurrence and installment settings of a new
// transaction. At most one of the two may be set.
type CreateOptions struct {
	Frequency    core.Frequency
	Installments int
	CategoryName string // resolved to a category in the workspace when set
}

// CheckAccess verifies the user is a member of the workspace. Every
// user-facing operation goes through it before touching the ledger.
func (s *LedgerService) CheckAccess(ctx context.Context, userID, workspaceID string) error {
	ok, err := s.repo.IsWorkspaceMember(ctx, userID, workspaceID)
	if err != nil {
		return fmt.Errorf("check workspace membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("user %s on workspace %s: %w", userID, workspaceID, core.ErrForbidden)
	}
	return nil
}

// CreateTransaction persists the entry and applies its balance effects in
// one atomic unit. With Installments > 1 it writes the whole group up
// front, one row per billing period; with a Frequency it marks the row as
// the template of a recurring series.
func (s *LedgerService) CreateTransaction(ctx context.Context, t core.Transaction, opts CreateOptions) ([]core.Transaction, error) {
	if opts.Frequency == "" {
		opts.Frequency = core.FreqNone
	}
	if !opts.Frequency.Valid() {
		return nil, &core.ValidationError{Field: "frequency", Reason: "unknown frequency " + string(opts.Frequency)}
	}
	if opts.Installments > 1 && opts.Frequency != core.FreqNone {
		return nil, &core.ValidationError{Field: "installments", Reason: "cannot combine installments with a recurrence"}
	}
	if opts.Installments > 1 && t.CreditCardID == "" {
		return nil, &core.ValidationError{Field: "installments", Reason: "installments require the credit card channel"}
	}
	if opts.Installments > 1 && t.SettlementAccountID != "" {
		return nil, &core.ValidationError{Field: "installments", Reason: "installment rows cannot be pre-settled"}
	}

	var created []core.Transaction
	err := s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		if err := requireChannelScope(ctx, q, t); err != nil {
			return err
		}
		if opts.CategoryName != "" {
			cat, err := q.ResolveCategory(ctx, t.WorkspaceID, opts.CategoryName, t.Kind)
			if err != nil {
				return err
			}
			t.CategoryID = cat.ID
		}

		if opts.Installments > 1 {
			rows, err := buildInstallments(t, opts.Installments)
			if err != nil {
				return err
			}
			for _, row := range rows {
				if err := q.InsertTransaction(ctx, row); err != nil {
					return err
				}
			}
			// Unpaid card rows carry no balance effect until settled.
			created = rows
			return nil
		}

		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if opts.Frequency != core.FreqNone {
			t.Frequency = opts.Frequency
			t.SeriesID = t.ID
			t.NextOccurrence = core.NextOccurrence(opts.Frequency, t.Date)
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, t); err != nil {
			return err
		}
		if err := applyEffects(ctx, q, t, 1); err != nil {
			return err
		}
		created = []core.Transaction{t}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, amqp.EventTransactionCreated, t.WorkspaceID, created[0].ID, t.Amount.StringFixed(2), t.Description)
	if t.Kind == core.KindExpense && t.CategoryID != "" {
		s.checkBudgetThreshold(ctx, t.WorkspaceID, t.CategoryID, t.Date)
	}
	if t.Kind == core.KindVaultDeposit {
		s.checkGoalReached(ctx, t)
	}
	return created, nil
}

// DeleteTransaction removes the row and reverses exactly the balance
// effects it applied at creation, leaving every balance as if the entry
// had never existed.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id string) error {
	var deleted core.Transaction
	err := s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		t, err := q.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if err := applyEffects(ctx, q, t, -1); err != nil {
			return err
		}
		deleted = t
		return q.DeleteTransaction(ctx, id)
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, amqp.EventTransactionDeleted, deleted.WorkspaceID, deleted.ID, deleted.Amount.StringFixed(2), deleted.Description)
	return nil
}

// UpdateTransaction replaces the stored row with updated, reversing the old
// balance effects and applying the new ones inside the same atomic unit. The
// kind and workspace of an entry are immutable.
func (s *LedgerService) UpdateTransaction(ctx context.Context, updated core.Transaction) error {
	return s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		old, err := q.GetTransaction(ctx, updated.ID)
		if err != nil {
			return err
		}
		if updated.Kind != old.Kind {
			return core.Consistencyf("transaction %s kind cannot change from %s to %s", old.ID, old.Kind, updated.Kind)
		}
		if updated.WorkspaceID != old.WorkspaceID {
			return core.Consistencyf("transaction %s cannot move between workspaces", old.ID)
		}
		updated.CreatedAt = old.CreatedAt
		if err := updated.Validate(); err != nil {
			return err
		}
		if err := requireChannelScope(ctx, q, updated); err != nil {
			return err
		}

		if err := applyEffects(ctx, q, old, -1); err != nil {
			return err
		}
		if err := applyEffects(ctx, q, updated, 1); err != nil {
			return err
		}
		return q.UpdateTransaction(ctx, updated)
	})
}

// CreateTransfer moves money between two accounts as a single ledger entry.
func (s *LedgerService) CreateTransfer(ctx context.Context, workspaceID, description string, amount decimal.Decimal, date time.Time, fromAccountID, toAccountID string) (core.Transaction, error) {
	t, err := core.NewTransfer(workspaceID, description, amount, date, fromAccountID, toAccountID)
	if err != nil {
		return core.Transaction{}, err
	}
	rows, err := s.CreateTransaction(ctx, t, CreateOptions{})
	if err != nil {
		return core.Transaction{}, err
	}
	return rows[0], nil
}

// MoveVaultFunds deposits into or withdraws from a vault, with the parent
// account taking the opposite effect.
func (s *LedgerService) MoveVaultFunds(ctx context.Context, kind core.TxKind, workspaceID, description string, amount decimal.Decimal, date time.Time, vaultID string) (core.Transaction, error) {
	vault, err := s.repo.GetVault(ctx, vaultID)
	if err != nil {
		return core.Transaction{}, err
	}
	t, err := core.NewVaultMovement(kind, workspaceID, description, amount, date, vaultID, vault.AccountID, "")
	if err != nil {
		return core.Transaction{}, err
	}
	rows, err := s.CreateTransaction(ctx, t, CreateOptions{})
	if err != nil {
		return core.Transaction{}, err
	}
	return rows[0], nil
}

// PayCreditCardInvoice settles the card's invoice for the cycle containing
// ref: it writes one settlement expense against fromAccountID for the total
// of the unpaid rows in the cycle window and flips those rows to paid. Card
// and settlement account must both live in workspaceID. Paying an already
// settled cycle is a no-op. A non-zero expected amount that disagrees with
// the derived total aborts the unit.
func (s *LedgerService) PayCreditCardInvoice(ctx context.Context, workspaceID, cardID, fromAccountID string, ref time.Time, expected decimal.Decimal) (decimal.Decimal, error) {
	var (
		total decimal.Decimal
		card  core.CreditCard
	)
	err := s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		var err error
		card, err = q.GetCreditCard(ctx, cardID)
		if err != nil {
			return err
		}
		if card.WorkspaceID != workspaceID {
			return fmt.Errorf("credit card %s in workspace %s: %w", cardID, workspaceID, core.ErrNotFound)
		}

		cycle := core.CycleFor(ref, card.ClosingDay, card.DueDay)
		unpaid, err := q.ListUnpaidCardTransactions(ctx, cardID, cycle.PeriodStart, cycle.PeriodEnd)
		if err != nil {
			return err
		}
		for _, row := range unpaid {
			total = total.Add(row.Amount)
		}
		if total.IsZero() {
			return nil
		}
		if !expected.IsZero() && !expected.Equal(total) {
			return core.Consistencyf("invoice payment of %s does not match open total %s for card %s", expected, total, cardID)
		}

		cat, err := q.ResolveCategory(ctx, card.WorkspaceID, InvoicePaymentCategory, core.KindExpense)
		if err != nil {
			return err
		}
		settlement, err := core.NewAccountExpense(card.WorkspaceID,
			fmt.Sprintf("Invoice %s", card.Name), total, cycle.DueDate, fromAccountID, cat.ID)
		if err != nil {
			return err
		}
		settlement.ID = uuid.NewString()
		if err := requireChannelScope(ctx, q, settlement); err != nil {
			return err
		}
		if err := q.InsertTransaction(ctx, settlement); err != nil {
			return err
		}
		if err := applyEffects(ctx, q, settlement, 1); err != nil {
			return err
		}

		flipped, err := q.MarkInvoicePaid(ctx, cardID, cycle.PeriodStart, cycle.PeriodEnd)
		if err != nil {
			return err
		}
		if flipped != int64(len(unpaid)) {
			return core.Consistencyf("invoice payment flipped %d rows, expected %d", flipped, len(unpaid))
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}

	if !total.IsZero() {
		s.publishEvent(ctx, amqp.EventInvoicePaid, card.WorkspaceID, cardID, total.StringFixed(2), card.Name)
	}
	return total, nil
}

// ImportRecord is one external row handed to ImportTransactions. A negative
// amount becomes an expense, a positive one an income.
type ImportRecord struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Category    string
}

// ImportTransactions signs the records into account-channel entries in a
// single atomic unit. Either every record lands or none does.
func (s *LedgerService) ImportTransactions(ctx context.Context, workspaceID, accountID string, records []ImportRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	err := s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		account, err := q.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.WorkspaceID != workspaceID {
			return fmt.Errorf("account %s in workspace %s: %w", accountID, workspaceID, core.ErrNotFound)
		}
		for i, r := range records {
			var (
				t   core.Transaction
				err error
			)
			amount := r.Amount.Abs()
			if r.Amount.IsNegative() {
				t, err = core.NewAccountExpense(workspaceID, r.Description, amount, r.Date, accountID, "")
			} else {
				t, err = core.NewIncome(workspaceID, r.Description, amount, r.Date, accountID, "")
			}
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if r.Category != "" {
				cat, err := q.ResolveCategory(ctx, workspaceID, r.Category, t.Kind)
				if err != nil {
					return fmt.Errorf("record %d: %w", i, err)
				}
				t.CategoryID = cat.ID
			}
			t.ID = uuid.NewString()
			if err := q.InsertTransaction(ctx, t); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if err := applyEffects(ctx, q, t, 1); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Imported transactions",
		"workspace_id", workspaceID,
		"account_id", accountID,
		"count", len(records))
	return len(records), nil
}

// GetTransaction returns one ledger entry by id.
// RecordAudit persists an audit entry for a committed mutation. It is
// best-effort: a write failure is logged, never surfaced, so the audit
// trail cannot fail the mutation it describes.
func (s *LedgerService) RecordAudit(ctx context.Context, workspaceID, actorID string, action core.AuditAction, entity, entityID, details string) {
	if len(details) > 255 {
		details = details[:255]
	}
	entry := core.AuditEntry{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		ActorID:     actorID,
		Action:      action,
		Entity:      entity,
		EntityID:    entityID,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.InsertAuditEntry(ctx, entry); err != nil {
		slog.ErrorContext(ctx, "Failed to write audit entry",
			"workspace_id", workspaceID, "entity", entity, "error", err)
	}
}

// ListAudit returns the newest audit entries for a workspace.
func (s *LedgerService) ListAudit(ctx context.Context, workspaceID string, limit int) ([]core.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditEntries(ctx, workspaceID, limit)
}

func (s *LedgerService) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions returns the workspace's entries in a date range.
func (s *LedgerService) ListTransactions(ctx context.Context, workspaceID string, from, to time.Time) ([]core.Transaction, error) {
	return s.repo.ListTransactionsByWorkspace(ctx, workspaceID, from, to)
}

// SetBudget creates or replaces the workspace's budget for the named
// category, resolving the category on the fly.
func (s *LedgerService) SetBudget(ctx context.Context, workspaceID, categoryName string, target decimal.Decimal) (core.Budget, error) {
	var budget core.Budget
	err := s.repo.WithinTx(ctx, func(q *storage.Queries) error {
		cat, err := q.ResolveCategory(ctx, workspaceID, categoryName, core.KindExpense)
		if err != nil {
			return err
		}
		budget = core.Budget{
			ID:           uuid.NewString(),
			WorkspaceID:  workspaceID,
			CategoryID:   cat.ID,
			TargetAmount: target,
		}
		if err := budget.Validate(); err != nil {
			return err
		}
		return q.UpsertBudget(ctx, budget)
	})
	if err != nil {
		return core.Budget{}, err
	}
	return budget, nil
}

// StopRecurrence clears the pending occurrence of a recurring series.
func (s *LedgerService) StopRecurrence(ctx context.Context, seriesID string) error {
	return s.repo.StopSeries(ctx, seriesID)
}

// requireChannelScope resolves every channel id the entry references and
// rejects ids living outside the entry's workspace. A foreign id reads as
// absent, never as forbidden, so callers learn nothing about another
// workspace's entities.
func requireChannelScope(ctx context.Context, q *storage.Queries, t core.Transaction) error {
	for _, id := range []string{t.AccountID, t.RecipientAccountID, t.SettlementAccountID} {
		if id == "" {
			continue
		}
		account, err := q.GetAccount(ctx, id)
		if err != nil {
			return err
		}
		if account.WorkspaceID != t.WorkspaceID {
			return fmt.Errorf("account %s in workspace %s: %w", id, t.WorkspaceID, core.ErrNotFound)
		}
	}
	if t.CreditCardID != "" {
		card, err := q.GetCreditCard(ctx, t.CreditCardID)
		if err != nil {
			return err
		}
		if card.WorkspaceID != t.WorkspaceID {
			return fmt.Errorf("credit card %s in workspace %s: %w", t.CreditCardID, t.WorkspaceID, core.ErrNotFound)
		}
	}
	if t.VaultID != "" {
		vault, err := q.GetVault(ctx, t.VaultID)
		if err != nil {
			return err
		}
		// A vault has no workspace of its own; it lives where its parent
		// account lives.
		parent, err := q.GetAccount(ctx, vault.AccountID)
		if err != nil {
			return err
		}
		if parent.WorkspaceID != t.WorkspaceID {
			return fmt.Errorf("vault %s in workspace %s: %w", t.VaultID, t.WorkspaceID, core.ErrNotFound)
		}
	}
	return nil
}

// applyEffects applies (direction +1) or reverses (direction -1) the balance
// effects of the entry. An unpaid card row has none; a pre-settled card row
// touches its settlement account; a card row settled later by an invoice
// payment keeps no effect of its own, the settlement row carries it.
func applyEffects(ctx context.Context, q *storage.Queries, t core.Transaction, direction int64) error {
	d := t.Amount.Mul(decimal.NewFromInt(direction))

	switch t.Kind {
	case core.KindIncome:
		return q.ApplyAccountDelta(ctx, t.AccountID, d)
	case core.KindExpense:
		if t.AccountID != "" {
			return q.ApplyAccountDelta(ctx, t.AccountID, d.Neg())
		}
		if t.SettlementAccountID != "" {
			return q.ApplyAccountDelta(ctx, t.SettlementAccountID, d.Neg())
		}
		return nil
	case core.KindTransfer:
		if err := q.ApplyAccountDelta(ctx, t.AccountID, d.Neg()); err != nil {
			return err
		}
		return q.ApplyAccountDelta(ctx, t.RecipientAccountID, d)
	case core.KindVaultDeposit:
		if err := q.ApplyAccountDelta(ctx, t.AccountID, d.Neg()); err != nil {
			return err
		}
		return q.ApplyVaultDelta(ctx, t.VaultID, d)
	case core.KindVaultWithdraw:
		if err := q.ApplyVaultDelta(ctx, t.VaultID, d.Neg()); err != nil {
			return err
		}
		return q.ApplyAccountDelta(ctx, t.AccountID, d)
	default:
		return core.Consistencyf("no balance effect defined for kind %s", t.Kind)
	}
}

// buildInstallments splits t into its installment rows, one billing period
// apart, sharing a group id.
func buildInstallments(t core.Transaction, n int) ([]core.Transaction, error) {
	parts, err := core.SplitInstallments(t.Amount, n)
	if err != nil {
		return nil, err
	}

	group := uuid.NewString()
	rows := make([]core.Transaction, n)
	for i, part := range parts {
		row := t
		row.ID = uuid.NewString()
		row.Amount = part
		row.Date = core.NextOccurrenceN(core.FreqMonthly, t.Date, i)
		row.InstallmentGroup = group
		row.InstallmentIndex = i + 1
		row.InstallmentTotal = n
		if err := row.Validate(); err != nil {
			return nil, err
		}
		rows[i] = row
	}
	return rows, nil
}

// checkBudgetThreshold emits a budget event when the category's spend in
// the entry's month crosses the warning percentage. Best-effort: a failure
// here never fails the write that triggered it.
func (s *LedgerService) checkBudgetThreshold(ctx context.Context, workspaceID, categoryID string, ref time.Time) {
	budgets, err := s.repo.ListBudgets(ctx, workspaceID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load budgets for threshold check", "error", err)
		return
	}
	var budget *core.Budget
	for i := range budgets {
		if budgets[i].CategoryID == categoryID {
			budget = &budgets[i]
			break
		}
	}
	if budget == nil {
		return
	}

	from, to := core.MonthWindow(ref.Year(), ref.Month(), ref.Location())
	spent, err := s.repo.SumExpensesByCategory(ctx, workspaceID, categoryID, from, to)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to sum category spend", "error", err)
		return
	}

	percent := spent.Div(budget.TargetAmount).Mul(decimal.NewFromInt(100))
	if percent.LessThan(budgetWarnPercent) {
		return
	}
	s.publishEvent(ctx, amqp.EventBudgetThreshold, workspaceID, budget.ID,
		spent.StringFixed(2), fmt.Sprintf("budget at %s%%", percent.Round(0)))
}

// checkGoalReached emits a goal event when a vault deposit pushes the
// linked goal's saved total across its target. Best-effort, like the
// budget check.
func (s *LedgerService) checkGoalReached(ctx context.Context, t core.Transaction) {
	vault, err := s.repo.GetVault(ctx, t.VaultID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load vault for goal check", "vault_id", t.VaultID, "error", err)
		return
	}
	if vault.GoalID == "" {
		return
	}
	goal, err := s.repo.GetGoal(ctx, vault.GoalID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to load goal for goal check", "goal_id", vault.GoalID, "error", err)
		return
	}

	flows, err := s.repo.SumVaultFlowsByGoal(ctx, vault.GoalID)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to sum goal flows", "goal_id", vault.GoalID, "error", err)
		return
	}
	current := decimal.Zero
	for _, flow := range flows {
		current = current.Add(flow.Net)
	}

	// Only the deposit that crosses the line announces it; later deposits
	// on an already reached goal stay quiet.
	if !crossedTarget(current.Sub(t.Amount), current, goal.TargetAmount) {
		return
	}
	s.publishEvent(ctx, amqp.EventGoalReached, t.WorkspaceID, goal.ID, current.StringFixed(2), goal.Name)
}

// crossedTarget reports whether a deposit moved the running total from
// below the target to at or above it.
func crossedTarget(before, after, target decimal.Decimal) bool {
	return target.IsPositive() && before.LessThan(target) && after.GreaterThanOrEqual(target)
}

func (s *LedgerService) publishEvent(ctx context.Context, eventType, workspaceID, entityID, amount, detail string) {
	if s.events == nil {
		slog.WarnContext(ctx, "AMQP client not available, skipping event", "type", eventType)
		return
	}
	event := amqp.NewEvent(eventType, workspaceID, entityID)
	event.Amount = amount
	event.Detail = detail
	if err := s.events.PublishEvent(ctx, event); err != nil {
		// The write already committed; losing the event is acceptable.
		slog.ErrorContext(ctx, "Failed to publish event",
			"type", eventType, "entity_id", entityID, "error", err)
	}
}

// Close closes both storage and AMQP connections.
func (s *LedgerService) Close() error {
	var errs []error

	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
