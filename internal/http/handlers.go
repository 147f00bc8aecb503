package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"cofre/internal/core"
	"cofre/internal/log"
	"cofre/internal/services"
)

const dateLayout = "2006-01-02"

// txView is the wire shape of a ledger entry. Amounts travel as strings
// so clients never touch binary floats.
type txView struct {
	ID                  string `json:"id"`
	WorkspaceID         string `json:"workspaceId"`
	Description         string `json:"description"`
	Amount              string `json:"amount"`
	Kind                string `json:"kind"`
	Date                string `json:"date"`
	IsPaid              bool   `json:"isPaid"`
	AccountID           string `json:"accountId,omitempty"`
	CreditCardID        string `json:"creditCardId,omitempty"`
	RecipientAccountID  string `json:"recipientAccountId,omitempty"`
	VaultID             string `json:"vaultId,omitempty"`
	SettlementAccountID string `json:"settlementAccountId,omitempty"`
	CategoryID          string `json:"categoryId,omitempty"`
	Frequency           string `json:"frequency,omitempty"`
	NextOccurrence      string `json:"nextOccurrence,omitempty"`
	SeriesID            string `json:"seriesId,omitempty"`
	InstallmentGroup    string `json:"installmentGroup,omitempty"`
	InstallmentIndex    int    `json:"installmentIndex,omitempty"`
	InstallmentTotal    int    `json:"installmentTotal,omitempty"`
}

func viewOf(t core.Transaction) txView {
	v := txView{
		ID:                  t.ID,
		WorkspaceID:         t.WorkspaceID,
		Description:         t.Description,
		Amount:              t.Amount.String(),
		Kind:                string(t.Kind),
		Date:                t.Date.Format(dateLayout),
		IsPaid:              t.IsPaid,
		AccountID:           t.AccountID,
		CreditCardID:        t.CreditCardID,
		RecipientAccountID:  t.RecipientAccountID,
		VaultID:             t.VaultID,
		SettlementAccountID: t.SettlementAccountID,
		CategoryID:          t.CategoryID,
		SeriesID:            t.SeriesID,
		InstallmentGroup:    t.InstallmentGroup,
		InstallmentIndex:    t.InstallmentIndex,
		InstallmentTotal:    t.InstallmentTotal,
	}
	if t.Frequency != core.FreqNone {
		v.Frequency = string(t.Frequency)
	}
	if !t.NextOccurrence.IsZero() {
		v.NextOccurrence = t.NextOccurrence.Format(dateLayout)
	}
	return v
}

func viewsOf(ts []core.Transaction) []txView {
	views := make([]txView, len(ts))
	for i, t := range ts {
		views[i] = viewOf(t)
	}
	return views
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	year, month, err := parseMonth(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	from, to := core.MonthWindow(year, month, time.UTC)
	rows, err := s.ledger.ListTransactions(r.Context(), workspaceID, from, to)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewsOf(rows))
}

type createTransactionRequest struct {
	Kind                string `json:"kind"`
	Description         string `json:"description"`
	Amount              string `json:"amount"`
	Date                string `json:"date"`
	AccountID           string `json:"accountId"`
	CreditCardID        string `json:"creditCardId"`
	SettlementAccountID string `json:"settlementAccountId"`
	Category            string `json:"category"`
	Frequency           string `json:"frequency"`
	Installments        int    `json:"installments"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req createTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var t core.Transaction
	switch core.TxKind(req.Kind) {
	case core.KindIncome:
		t, err = core.NewIncome(workspaceID, req.Description, amount, date, req.AccountID, "")
	case core.KindExpense:
		if req.CreditCardID != "" {
			t, err = core.NewCardExpense(workspaceID, req.Description, amount, date, req.CreditCardID, "", req.SettlementAccountID)
		} else {
			t, err = core.NewAccountExpense(workspaceID, req.Description, amount, date, req.AccountID, "")
		}
	default:
		err = &core.ValidationError{Field: "kind", Reason: "must be INCOME or EXPENSE; transfers and vault moves have their own endpoints"}
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	opts := services.CreateOptions{
		Frequency:    core.Frequency(req.Frequency),
		Installments: req.Installments,
		CategoryName: req.Category,
	}
	rows, err := s.ledger.CreateTransaction(r.Context(), t, opts)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	for _, row := range rows {
		s.analytics.Invalidate(workspaceID, row.Date)
	}

	fields := log.NewFields().
		WithOperation(log.OpCreate).
		WithTransaction(rows[0].ID, workspaceID, string(rows[0].Kind), rows[0].Amount.String())
	log.FromContext(r.Context()).InfoContext(r.Context(), "Transaction created", fields.ToSlice()...)
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditCreate, "transaction", rows[0].ID, req.Description)

	writeJSON(w, http.StatusCreated, viewsOf(rows))
}

type updateTransactionRequest struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req updateTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	old, err := s.ledger.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if old.WorkspaceID != workspaceID {
		writeError(r.Context(), w, core.ErrNotFound)
		return
	}

	updated := old
	if req.Description != "" {
		updated.Description = req.Description
	}
	if req.Amount != "" {
		if updated.Amount, err = core.ParseAmount(req.Amount); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}
	if req.Date != "" {
		if updated.Date, err = parseDate(req.Date); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	if err := s.ledger.UpdateTransaction(r.Context(), updated); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.analytics.Invalidate(workspaceID, old.Date)
	s.analytics.Invalidate(workspaceID, updated.Date)
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditUpdate, "transaction", updated.ID, updated.Description)
	writeJSON(w, http.StatusOK, viewOf(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	t, err := s.ledger.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if t.WorkspaceID != workspaceID {
		writeError(r.Context(), w, core.ErrNotFound)
		return
	}
	if err := s.ledger.DeleteTransaction(r.Context(), t.ID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.analytics.Invalidate(workspaceID, t.Date)
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditDelete, "transaction", t.ID, t.Description)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStopRecurrence(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	t, err := s.ledger.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if t.WorkspaceID != workspaceID {
		writeError(r.Context(), w, core.ErrNotFound)
		return
	}
	if err := s.ledger.StopRecurrence(r.Context(), t.ID); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditOther, "recurrence", t.ID, "series stopped")
	w.WriteHeader(http.StatusNoContent)
}

type transferRequest struct {
	Description   string `json:"description"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	FromAccountID string `json:"fromAccountId"`
	ToAccountID   string `json:"toAccountId"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	t, err := s.ledger.CreateTransfer(r.Context(), workspaceID, req.Description, amount, date, req.FromAccountID, req.ToAccountID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.analytics.Invalidate(workspaceID, t.Date)
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditCreate, "transaction", t.ID, req.Description)
	writeJSON(w, http.StatusCreated, viewOf(t))
}

type vaultMovementRequest struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
}

func (s *Server) handleVaultMovement(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req vaultMovementRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	t, err := s.ledger.MoveVaultFunds(r.Context(), core.TxKind(req.Kind), workspaceID, req.Description, amount, date, r.PathValue("vaultID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.analytics.Invalidate(workspaceID, t.Date)
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditCreate, "transaction", t.ID, req.Description)
	writeJSON(w, http.StatusCreated, viewOf(t))
}

type payInvoiceRequest struct {
	AccountID      string `json:"accountId"`
	Date           string `json:"date"`
	ExpectedAmount string `json:"expectedAmount"`
}

func (s *Server) handlePayInvoice(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req payInvoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ref, err := parseDate(req.Date)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	expected := decimal.Zero
	if req.ExpectedAmount != "" {
		if expected, err = core.ParseAmount(req.ExpectedAmount); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}
	paid, err := s.ledger.PayCreditCardInvoice(r.Context(), workspaceID, r.PathValue("cardID"), req.AccountID, ref, expected)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	// The settlement row is dated on the due date, which can fall in the
	// month after the reference date.
	s.analytics.Invalidate(workspaceID, ref)
	s.analytics.Invalidate(workspaceID, ref.AddDate(0, 1, 0))
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditOther, "invoice", r.PathValue("cardID"), "paid "+paid.String())
	writeJSON(w, http.StatusOK, map[string]string{"paidAmount": paid.String()})
}

func (s *Server) handleCardInvoice(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	ref, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	report, err := s.analytics.CardInvoice(r.Context(), r.PathValue("cardID"), ref)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if report.Card.WorkspaceID != workspaceID {
		writeError(r.Context(), w, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cardId":      report.Card.ID,
		"cardName":    report.Card.Name,
		"periodStart": report.Cycle.PeriodStart.Format(dateLayout),
		"periodEnd":   report.Cycle.PeriodEnd.Format(dateLayout),
		"dueDate":     report.Cycle.DueDate.Format(dateLayout),
		"total":       report.Total.String(),
		"rows":        report.Rows,
	})
}

type importRequest struct {
	AccountID string `json:"accountId"`
	Records   []struct {
		Date        string `json:"date"`
		Amount      string `json:"amount"`
		Description string `json:"description"`
		Category    string `json:"category"`
	} `json:"records"`
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req importRequest
	if !decodeBody(w, r, &req) {
		return
	}

	records := make([]services.ImportRecord, 0, len(req.Records))
	for i, rec := range req.Records {
		date, err := parseDate(rec.Date)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		// Imported amounts carry their sign: negative rows become expenses.
		amount, err := decimal.NewFromString(rec.Amount)
		if err != nil {
			writeError(r.Context(), w, &core.ValidationError{Field: "records", Reason: "record " + strconv.Itoa(i) + ": amount is not a number"})
			return
		}
		records = append(records, services.ImportRecord{
			Date:        date,
			Amount:      amount,
			Description: rec.Description,
			Category:    rec.Category,
		})
	}

	n, err := s.ledger.ImportTransactions(r.Context(), workspaceID, req.AccountID, records)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	for _, rec := range records {
		s.analytics.Invalidate(workspaceID, rec.Date)
	}
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditOther, "import", req.AccountID, strconv.Itoa(n)+" rows imported")
	writeJSON(w, http.StatusCreated, map[string]int{"imported": n})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	year, month, err := parseMonth(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	summary, err := s.analytics.Summarize(r.Context(), workspaceID, year, month)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"income":   summary.Income.String(),
		"expenses": summary.Expenses.String(),
		"net":      summary.Net.String(),
	})
}

func (s *Server) handleBudgetProgress(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	year, month, err := parseMonth(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	reports, err := s.analytics.BudgetProgress(r.Context(), workspaceID, year, month)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out := make([]map[string]string, len(reports))
	for i, rep := range reports {
		out[i] = map[string]string{
			"budgetId":   rep.Budget.ID,
			"categoryId": rep.Budget.CategoryID,
			"target":     rep.Budget.TargetAmount.String(),
			"spent":      rep.Spent.String(),
			"percent":    rep.Percent.String(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type upsertBudgetRequest struct {
	Category string `json:"category"`
	Amount   string `json:"amount"`
}

func (s *Server) handleUpsertBudget(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	var req upsertBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target, err := core.ParseAmount(req.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	budget, err := s.ledger.SetBudget(r.Context(), workspaceID, req.Category, target)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.ledger.RecordAudit(r.Context(), workspaceID, actorID(r), core.AuditUpdate, "budget", budget.ID, req.Category)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":         budget.ID,
		"categoryId": budget.CategoryID,
		"target":     budget.TargetAmount.String(),
	})
}

func (s *Server) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	report, err := s.analytics.GoalProgress(r.Context(), r.PathValue("goalID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	shares := make([]map[string]string, len(report.Shares))
	for i, share := range report.Shares {
		shares[i] = map[string]string{
			"workspaceId": share.WorkspaceID,
			"paid":        share.Paid.String(),
			"targetShare": share.TargetShare.String(),
			"percent":     share.Percent.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"goalId":  report.Goal.ID,
		"name":    report.Goal.Name,
		"target":  report.Goal.TargetAmount.String(),
		"current": report.Current.String(),
		"percent": report.Percent.String(),
		"shares":  shares,
	})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if !s.authorize(w, r, workspaceID) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(r.Context(), w, &core.ValidationError{Field: "limit", Reason: "must be an integer"})
			return
		}
		limit = n
	}
	entries, err := s.ledger.ListAudit(r.Context(), workspaceID, limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out := make([]map[string]string, len(entries))
	for i, e := range entries {
		out[i] = map[string]string{
			"id":        e.ID,
			"actorId":   e.ActorID,
			"action":    string(e.Action),
			"entity":    e.Entity,
			"entityId":  e.EntityID,
			"details":   e.Details,
			"createdAt": e.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, out)
}
