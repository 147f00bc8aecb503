package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cofre/internal/core"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "cofre.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedWorkspace creates a tenant, a workspace and an account with the given
// opening balance, returning their IDs.
func seedWorkspace(t *testing.T, repo *Repository, opening string) (workspaceID, accountID string) {
	t.Helper()
	ctx := context.Background()

	tenant := core.Tenant{ID: uuid.NewString(), Name: "casa"}
	if err := repo.InsertTenant(ctx, tenant); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	ws := core.Workspace{ID: uuid.NewString(), TenantID: tenant.ID, Name: "principale"}
	if err := repo.InsertWorkspace(ctx, ws); err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
	acc := core.Account{
		ID:          uuid.NewString(),
		WorkspaceID: ws.ID,
		Name:        "conto corrente",
		Balance:     decimal.RequireFromString(opening),
	}
	if err := repo.InsertAccount(ctx, acc); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	return ws.ID, acc.ID
}

func TestAccountDelta(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, accID := seedWorkspace(t, repo, "100.00")

	if err := repo.ApplyAccountDelta(ctx, accID, decimal.RequireFromString("-30.50")); err != nil {
		t.Fatalf("apply delta: %v", err)
	}
	acc, err := repo.GetAccount(ctx, accID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if want := decimal.RequireFromString("69.5"); !acc.Balance.Equal(want) {
		t.Errorf("balance = %s, want %s", acc.Balance, want)
	}

	// Accounts are allowed to overdraw.
	if err := repo.ApplyAccountDelta(ctx, accID, decimal.RequireFromString("-100")); err != nil {
		t.Fatalf("overdraw: %v", err)
	}
}

func TestVaultDeltaGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, accID := seedWorkspace(t, repo, "1000")

	vault := core.Vault{ID: uuid.NewString(), AccountID: accID, Name: "vacanze"}
	if err := repo.InsertVault(ctx, vault); err != nil {
		t.Fatalf("insert vault: %v", err)
	}
	if err := repo.ApplyVaultDelta(ctx, vault.ID, decimal.RequireFromString("50")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := repo.ApplyVaultDelta(ctx, vault.ID, decimal.RequireFromString("-80"))
	var insufficient *core.InsufficientVaultBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientVaultBalanceError, got %v", err)
	}
	if want := decimal.RequireFromString("30"); !insufficient.Deficit().Equal(want) {
		t.Errorf("deficit = %s, want %s", insufficient.Deficit(), want)
	}

	// The failed withdrawal must not have touched the balance.
	v, err := repo.GetVault(ctx, vault.ID)
	if err != nil {
		t.Fatalf("get vault: %v", err)
	}
	if want := decimal.RequireFromString("50"); !v.Balance.Equal(want) {
		t.Errorf("balance after failed withdraw = %s, want %s", v.Balance, want)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	wsID, accID := seedWorkspace(t, repo, "0")

	tx, err := core.NewIncome(wsID, "stipendio", decimal.RequireFromString("1800.00"),
		time.Date(2025, 1, 27, 0, 0, 0, 0, time.UTC), accID, "")
	if err != nil {
		t.Fatalf("new income: %v", err)
	}
	tx.ID = uuid.NewString()

	if err := repo.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Amount.Equal(tx.Amount) {
		t.Errorf("amount = %s, want %s", got.Amount, tx.Amount)
	}
	if !got.Date.Equal(tx.Date) {
		t.Errorf("date = %s, want %s", got.Date, tx.Date)
	}
	if got.Kind != core.KindIncome || !got.IsPaid {
		t.Errorf("kind/isPaid = %s/%v, want INCOME/true", got.Kind, got.IsPaid)
	}

	if err := repo.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetTransaction(ctx, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("after delete expected ErrNotFound, got %v", err)
	}
}

func TestMarkInvoicePaidIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	wsID, _ := seedWorkspace(t, repo, "0")

	card := core.CreditCard{
		ID: uuid.NewString(), WorkspaceID: wsID, Name: "visa",
		Limit: decimal.RequireFromString("2000"), ClosingDay: 5, DueDay: 15,
	}
	if err := repo.InsertCreditCard(ctx, card); err != nil {
		t.Fatalf("insert card: %v", err)
	}

	for _, amount := range []string{"12.00", "30.00"} {
		tx, err := core.NewCardExpense(wsID, "spesa", decimal.RequireFromString(amount),
			time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), card.ID, "", "")
		if err != nil {
			t.Fatalf("new card expense: %v", err)
		}
		tx.ID = uuid.NewString()
		if err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	from := time.Date(2024, 12, 6, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)

	n, err := repo.MarkInvoicePaid(ctx, card.ID, from, to)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if n != 2 {
		t.Errorf("first pass settled %d rows, want 2", n)
	}

	n, err = repo.MarkInvoicePaid(ctx, card.ID, from, to)
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if n != 0 {
		t.Errorf("second pass settled %d rows, want 0", n)
	}
}

func TestClaimOccurrenceRace(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	wsID, accID := seedWorkspace(t, repo, "0")

	due := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	tx, err := core.NewAccountExpense(wsID, "affitto", decimal.RequireFromString("700"),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), accID, "")
	if err != nil {
		t.Fatalf("new expense: %v", err)
	}
	tx.ID = uuid.NewString()
	tx.SeriesID = tx.ID
	tx.Frequency = core.FreqMonthly
	tx.NextOccurrence = due
	if err := repo.InsertTransaction(ctx, tx); err != nil {
		t.Fatalf("insert template: %v", err)
	}

	next := core.NextOccurrence(core.FreqMonthly, due)
	ok, err := repo.ClaimOccurrence(ctx, tx.ID, due, next)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatal("first claim should win")
	}

	// A second sweeper holding the stale pointer loses the claim.
	ok, err = repo.ClaimOccurrence(ctx, tx.ID, due, next)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatal("stale claim must lose")
	}

	if err := repo.StopSeries(ctx, tx.ID); err != nil {
		t.Fatalf("stop series: %v", err)
	}
	dueRows, err := repo.DueSeries(ctx, next.Add(time.Hour))
	if err != nil {
		t.Fatalf("due series: %v", err)
	}
	if len(dueRows) != 0 {
		t.Errorf("stopped series still due: %d rows", len(dueRows))
	}
}

func TestGoalContributionRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	wsID, _ := seedWorkspace(t, repo, "0")

	goal := core.Goal{
		ID:           uuid.NewString(),
		WorkspaceID:  wsID,
		Name:         "fondo emergenza",
		TargetAmount: decimal.RequireFromString("5000"),
		ContributionRules: map[string]decimal.Decimal{
			wsID: decimal.RequireFromString("60"),
		},
	}
	if err := repo.InsertGoal(ctx, goal); err != nil {
		t.Fatalf("insert goal: %v", err)
	}
	got, err := repo.GetGoal(ctx, goal.ID)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if !got.ContributionRules[wsID].Equal(decimal.RequireFromString("60")) {
		t.Errorf("contribution rule lost in round trip: %v", got.ContributionRules)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	_, accID := seedWorkspace(t, repo, "100")

	errBoom := errors.New("boom")
	err := repo.WithinTx(ctx, func(q *Queries) error {
		if err := q.ApplyAccountDelta(ctx, accID, decimal.RequireFromString("-40")); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}

	acc, err := repo.GetAccount(ctx, accID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if want := decimal.RequireFromString("100"); !acc.Balance.Equal(want) {
		t.Errorf("balance after rollback = %s, want %s", acc.Balance, want)
	}
}

func TestListCardsDueOnDayMonthEnd(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	wsID, _ := seedWorkspace(t, repo, "0")

	endOfMonth := core.CreditCard{
		ID: uuid.NewString(), WorkspaceID: wsID, Name: "carta fine mese",
		Limit: decimal.RequireFromString("2000"), ClosingDay: 20, DueDay: 31,
	}
	midMonth := core.CreditCard{
		ID: uuid.NewString(), WorkspaceID: wsID, Name: "carta meta mese",
		Limit: decimal.RequireFromString("1000"), ClosingDay: 5, DueDay: 15,
	}
	for _, c := range []core.CreditCard{endOfMonth, midMonth} {
		if err := repo.InsertCreditCard(ctx, c); err != nil {
			t.Fatalf("insert card: %v", err)
		}
	}

	// February has no 31st; the end-of-month card clamps to the 28th.
	cards, err := repo.ListCardsDueOnDay(ctx, 28, true)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != endOfMonth.ID {
		t.Fatalf("got %d cards on clamped month end, want the due-day-31 card", len(cards))
	}

	// The 28th of a longer month matches nothing.
	cards, err = repo.ListCardsDueOnDay(ctx, 28, false)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 0 {
		t.Fatalf("got %d cards on a plain 28th, want none", len(cards))
	}

	// Exact matches are unaffected by the clamp flag.
	cards, err = repo.ListCardsDueOnDay(ctx, 15, false)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != midMonth.ID {
		t.Fatalf("got %d cards on the 15th, want the due-day-15 card", len(cards))
	}
}
