package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	KindIncome        TxKind = "INCOME"
	KindExpense       TxKind = "EXPENSE"
	KindTransfer      TxKind = "TRANSFER"
	KindVaultDeposit  TxKind = "VAULT_DEPOSIT"
	KindVaultWithdraw TxKind = "VAULT_WITHDRAW"
)

const (
	FreqNone    Frequency = "NONE"
	FreqWeekly  Frequency = "WEEKLY"
	FreqMonthly Frequency = "MONTHLY"
	FreqYearly  Frequency = "YEARLY"
)

type (
	// TxKind is the closed set of ledger entry kinds. Construction goes
	// through the New* constructors so each kind carries exactly the
	// channel references it needs.
	TxKind string

	// Frequency is the repetition rule of a recurring series.
	Frequency string

	Tenant struct {
		ID   string
		Name string
	}

	Workspace struct {
		ID       string
		TenantID string
		Name     string
	}

	// Account is a bank or wallet balance holder. Balance is mutated only
	// through the storage balance primitives, inside an atomic unit.
	Account struct {
		ID          string
		WorkspaceID string
		Name        string
		Institution string
		Balance     decimal.Decimal
	}

	// Vault is a named sub-reservation of money inside an Account. A
	// deposit debits the parent account by the same amount; deletion is
	// only allowed at zero balance.
	Vault struct {
		ID           string
		AccountID    string
		Name         string
		Balance      decimal.Decimal
		TargetAmount decimal.Decimal
		GoalID       string
	}

	// CreditCard holds no balance; its open invoice is always derived from
	// the unpaid transactions of its current cycle.
	CreditCard struct {
		ID          string
		WorkspaceID string
		Name        string
		Institution string
		Limit       decimal.Decimal
		ClosingDay  int
		DueDay      int
	}

	Category struct {
		ID          string
		WorkspaceID string
		Name        string
		Kind        TxKind
	}

	// Transaction is the atomic ledger entry. Amount is always positive;
	// the kind decides the sign of every balance effect.
	Transaction struct {
		ID          string
		WorkspaceID string
		Description string
		Amount      decimal.Decimal
		Kind        TxKind
		Date        time.Time
		IsPaid      bool

		AccountID           string // account channel, or parent account for VAULT_*
		CreditCardID        string // card channel
		RecipientAccountID  string // TRANSFER destination
		VaultID             string // VAULT_* target
		SettlementAccountID string // pre-settled card expense only
		CategoryID          string

		Frequency        Frequency
		NextOccurrence   time.Time // zero when the series is stopped or absent
		SeriesID         string    // template transaction for materialized occurrences
		InstallmentGroup string
		InstallmentIndex int
		InstallmentTotal int

		CreatedAt time.Time
	}

	Budget struct {
		ID           string
		WorkspaceID  string
		CategoryID   string
		TargetAmount decimal.Decimal
	}

	// Goal is a savings target, optionally shared across the workspaces of
	// a tenant. Its current amount is derived from linked vault balances,
	// never stored.
	Goal struct {
		ID                string
		TenantID          string // set for shared goals
		WorkspaceID       string // set for workspace-local goals
		Name              string
		TargetAmount      decimal.Decimal
		Deadline          time.Time
		ContributionRules map[string]decimal.Decimal // workspaceID -> expected percent
	}

	// Notification is a persisted alert for one user, written by the
	// notify worker from ledger events.
	Notification struct {
		ID        string
		UserID    string
		Title     string
		Body      string
		Read      bool
		CreatedAt time.Time
	}

	// AuditEntry records who did what to which entity. Entries are
	// written best-effort after a mutation commits; losing one never
	// fails the mutation itself.
	AuditEntry struct {
		ID          string
		WorkspaceID string
		ActorID     string
		Action      AuditAction
		Entity      string // "transaction", "budget", ...
		EntityID    string
		Details     string
		CreatedAt   time.Time
	}
)

// AuditAction classifies an audit entry.
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditOther  AuditAction = "ACTION" // invoice payments, imports, recurrence stops
)

// CashFlowSign returns the signed effect of the kind on the primary
// account's balance: +1 inflow, -1 outflow, 0 neutral. A TRANSFER is 0
// globally; its two legs are applied explicitly by the lifecycle manager.
func (k TxKind) CashFlowSign() int {
	switch k {
	case KindIncome, KindVaultWithdraw:
		return 1
	case KindExpense, KindVaultDeposit:
		return -1
	default:
		return 0
	}
}

// NetWorthSign returns the effect of the kind on net worth. Vault moves
// and transfers only shift money between pockets.
func (k TxKind) NetWorthSign() int {
	switch k {
	case KindIncome:
		return 1
	case KindExpense:
		return -1
	default:
		return 0
	}
}

func (k TxKind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer, KindVaultDeposit, KindVaultWithdraw:
		return true
	}
	return false
}

func (f Frequency) Valid() bool {
	switch f {
	case FreqNone, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

func validAmount(a decimal.Decimal) error {
	if !a.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	return nil
}

func validDescription(s string) error {
	if strings.TrimSpace(s) == "" {
		return &ValidationError{Field: "description", Reason: "cannot be empty"}
	}
	if len(s) > 200 {
		return &ValidationError{Field: "description", Reason: "too long (max 200 characters)"}
	}
	return nil
}

func validDate(d time.Time) error {
	if d.IsZero() {
		return &ValidationError{Field: "date", Reason: "cannot be zero"}
	}
	return nil
}

// Validate checks the per-kind channel invariant after the fact, for rows
// read back from storage. Construction-time enforcement lives in the
// New* constructors.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: "unknown transaction kind " + string(t.Kind)}
	}
	if err := validAmount(t.Amount); err != nil {
		return err
	}
	if err := validDescription(t.Description); err != nil {
		return err
	}
	if err := validDate(t.Date); err != nil {
		return err
	}

	switch t.Kind {
	case KindTransfer:
		if t.AccountID == "" || t.RecipientAccountID == "" {
			return &ValidationError{Field: "accounts", Reason: "transfer requires source and recipient accounts"}
		}
		if t.AccountID == t.RecipientAccountID {
			return Consistencyf("transfer source and recipient are the same account %s", t.AccountID)
		}
	case KindVaultDeposit, KindVaultWithdraw:
		if t.VaultID == "" || t.AccountID == "" {
			return &ValidationError{Field: "vault", Reason: "vault movement requires vault and parent account"}
		}
	default:
		hasAccount := t.AccountID != ""
		hasCard := t.CreditCardID != ""
		if hasAccount == hasCard {
			return &InvalidChannelError{Kind: t.Kind}
		}
	}
	return nil
}

// NewIncome builds an account-channel income entry. Income through a
// credit card is not representable.
func NewIncome(workspaceID, description string, amount decimal.Decimal, date time.Time, accountID, categoryID string) (Transaction, error) {
	t := Transaction{
		WorkspaceID: workspaceID,
		Description: description,
		Amount:      amount,
		Kind:        KindIncome,
		Date:        date,
		IsPaid:      true,
		AccountID:   accountID,
		CategoryID:  categoryID,
		Frequency:   FreqNone,
	}
	if accountID == "" {
		return Transaction{}, &InvalidChannelError{Kind: KindIncome}
	}
	return t, t.Validate()
}

// NewAccountExpense builds an expense settled immediately from an account.
func NewAccountExpense(workspaceID, description string, amount decimal.Decimal, date time.Time, accountID, categoryID string) (Transaction, error) {
	t := Transaction{
		WorkspaceID: workspaceID,
		Description: description,
		Amount:      amount,
		Kind:        KindExpense,
		Date:        date,
		IsPaid:      true,
		AccountID:   accountID,
		CategoryID:  categoryID,
		Frequency:   FreqNone,
	}
	if accountID == "" {
		return Transaction{}, &InvalidChannelError{Kind: KindExpense}
	}
	return t, t.Validate()
}

// NewCardExpense builds a card-channel expense. It joins the card's open
// invoice and has no balance effect until settled. A non-empty
// settlementAccountID marks the row pre-settled: the lifecycle manager
// debits that account at creation and the row never joins an invoice
// payment.
func NewCardExpense(workspaceID, description string, amount decimal.Decimal, date time.Time, cardID, categoryID, settlementAccountID string) (Transaction, error) {
	t := Transaction{
		WorkspaceID:         workspaceID,
		Description:         description,
		Amount:              amount,
		Kind:                KindExpense,
		Date:                date,
		IsPaid:              settlementAccountID != "",
		CreditCardID:        cardID,
		SettlementAccountID: settlementAccountID,
		CategoryID:          categoryID,
		Frequency:           FreqNone,
	}
	if cardID == "" {
		return Transaction{}, &InvalidChannelError{Kind: KindExpense}
	}
	return t, t.Validate()
}

// NewTransfer builds a single logical transfer row referencing both
// accounts. The source leg debits, the recipient leg credits.
func NewTransfer(workspaceID, description string, amount decimal.Decimal, date time.Time, fromAccountID, toAccountID string) (Transaction, error) {
	t := Transaction{
		WorkspaceID:        workspaceID,
		Description:        description,
		Amount:             amount,
		Kind:               KindTransfer,
		Date:               date,
		IsPaid:             true,
		AccountID:          fromAccountID,
		RecipientAccountID: toAccountID,
		Frequency:          FreqNone,
	}
	return t, t.Validate()
}

// NewVaultMovement builds a deposit into or withdrawal out of a vault.
// accountID is the vault's parent account, which receives the opposite
// balance effect.
func NewVaultMovement(kind TxKind, workspaceID, description string, amount decimal.Decimal, date time.Time, vaultID, accountID, categoryID string) (Transaction, error) {
	if kind != KindVaultDeposit && kind != KindVaultWithdraw {
		return Transaction{}, &ValidationError{Field: "kind", Reason: "vault movement must be VAULT_DEPOSIT or VAULT_WITHDRAW"}
	}
	t := Transaction{
		WorkspaceID: workspaceID,
		Description: description,
		Amount:      amount,
		Kind:        kind,
		Date:        date,
		IsPaid:      true,
		AccountID:   accountID,
		VaultID:     vaultID,
		CategoryID:  categoryID,
		Frequency:   FreqNone,
	}
	return t, t.Validate()
}

func (c CreditCard) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "cannot be empty"}
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return &ValidationError{Field: "closingDay", Reason: "must be between 1 and 31"}
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return &ValidationError{Field: "dueDay", Reason: "must be between 1 and 31"}
	}
	return nil
}

func (b Budget) Validate() error {
	if b.CategoryID == "" {
		return &ValidationError{Field: "categoryId", Reason: "cannot be empty"}
	}
	if err := validAmount(b.TargetAmount); err != nil {
		return err
	}
	return nil
}

func (g Goal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return &ValidationError{Field: "name", Reason: "cannot be empty"}
	}
	if err := validAmount(g.TargetAmount); err != nil {
		return err
	}
	if g.TenantID == "" && g.WorkspaceID == "" {
		return &ValidationError{Field: "scope", Reason: "goal needs a tenant or workspace owner"}
	}
	return nil
}
