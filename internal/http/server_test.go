package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"cofre/internal/core"
	"cofre/internal/services"
	"cofre/internal/storage"
)

const (
	testTenant    = "tenant-1"
	testWorkspace = "ws-1"
	testUser      = "user-1"
	testOutsider  = "user-2"
	testAccount   = "acc-1"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.Open(filepath.Join(t.TempDir(), "cofre.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.InsertTenant(ctx, core.Tenant{ID: testTenant, Name: "Household"}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := repo.InsertWorkspace(ctx, core.Workspace{ID: testWorkspace, TenantID: testTenant, Name: "Personal"}); err != nil {
		t.Fatalf("seed workspace: %v", err)
	}
	if err := repo.InsertUser(ctx, testUser, testTenant, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := repo.InsertUser(ctx, testOutsider, testTenant, "Eve", "eve@example.com"); err != nil {
		t.Fatalf("seed outsider: %v", err)
	}
	if err := repo.AddWorkspaceMember(ctx, testWorkspace, testUser); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	if err := repo.InsertAccount(ctx, core.Account{
		ID:          testAccount,
		WorkspaceID: testWorkspace,
		Name:        "Checking",
		Balance:     decimal.RequireFromString("1000"),
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	s := NewServer(":0", services.NewLedgerService(repo, nil), services.NewAnalyticsService(repo))
	t.Cleanup(func() { s.limiter.Stop() })
	return s
}

func (s *Server) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeViews(t *testing.T, rec *httptest.ResponseRecorder) []txView {
	t.Helper()
	var views []txView
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&views); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return views
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/transactions", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status = %d, want 401", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/transactions", testOutsider, "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-member: status = %d, want 403", rec.Code)
	}
}

func TestTransactionLifecycle(t *testing.T) {
	s := newTestServer(t)

	body := `{"kind":"EXPENSE","description":"Groceries","amount":"75.50","date":"2024-01-10","accountId":"` + testAccount + `","category":"Food"}`
	rec := s.do(t, http.MethodPost, "/workspaces/"+testWorkspace+"/transactions", testUser, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decodeViews(t, rec)
	if len(created) != 1 {
		t.Fatalf("create returned %d rows, want 1", len(created))
	}
	if created[0].Amount != "75.5" || created[0].Kind != "EXPENSE" || !created[0].IsPaid {
		t.Errorf("unexpected row: %+v", created[0])
	}
	if created[0].CategoryID == "" {
		t.Error("category was not resolved")
	}

	rec = s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/transactions?year=2024&month=1", testUser, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status = %d", rec.Code)
	}
	if rows := decodeViews(t, rec); len(rows) != 1 || rows[0].ID != created[0].ID {
		t.Errorf("list returned %+v, want the created row", rows)
	}

	rec = s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/summary?year=2024&month=1", testUser, "")
	var summary map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["expenses"] != "75.5" || summary["net"] != "-75.5" {
		t.Errorf("summary = %v, want expenses 75.5 net -75.5", summary)
	}

	rec = s.do(t, http.MethodDelete, "/workspaces/"+testWorkspace+"/transactions/"+created[0].ID, testUser, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The deletion must have dropped the cached month.
	rec = s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/summary?year=2024&month=1", testUser, "")
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["expenses"] != "0" {
		t.Errorf("summary after delete = %v, want expenses 0", summary)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	body := `{"kind":"TRANSFER","description":"x","amount":"10","accountId":"` + testAccount + `"}`
	rec := s.do(t, http.MethodPost, "/workspaces/"+testWorkspace+"/transactions", testUser, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("transfer through generic endpoint: status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/workspaces/"+testWorkspace+"/transactions/nope", testUser, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}

	body = `{"description":"x","amount":"-5","date":"2024-01-10","fromAccountId":"` + testAccount + `","toAccountId":"` + testAccount + `"}`
	rec = s.do(t, http.MethodPost, "/workspaces/"+testWorkspace+"/transfers", testUser, body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("signed amount: status = %d, want 400", rec.Code)
	}
}

func TestBudgetUpsertAndProgress(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPut, "/workspaces/"+testWorkspace+"/budgets", testUser, `{"category":"Food","amount":"200"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert budget: status = %d, body %s", rec.Code, rec.Body.String())
	}

	body := `{"kind":"EXPENSE","description":"Groceries","amount":"50","date":"2024-02-05","accountId":"` + testAccount + `","category":"Food"}`
	if rec = s.do(t, http.MethodPost, "/workspaces/"+testWorkspace+"/transactions", testUser, body); rec.Code != http.StatusCreated {
		t.Fatalf("create expense: status = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/budgets?year=2024&month=2", testUser, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("budget progress: status = %d", rec.Code)
	}
	var reports []map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &reports); err != nil {
		t.Fatalf("decode reports: %v", err)
	}
	if len(reports) != 1 || reports[0]["spent"] != "50" || reports[0]["percent"] != "25" {
		t.Errorf("reports = %v, want one at 50 spent / 25 percent", reports)
	}
}

func TestAuditTrail(t *testing.T) {
	s := newTestServer(t)

	body := `{"kind":"EXPENSE","description":"groceries","amount":"30","date":"2024-01-10","accountId":"` + testAccount + `"}`
	if rec := s.do(t, http.MethodPost, "/workspaces/"+testWorkspace+"/transactions", testUser, body); rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body)
	}
	if rec := s.do(t, http.MethodPut, "/workspaces/"+testWorkspace+"/budgets", testUser, `{"category":"Food","amount":"200"}`); rec.Code != http.StatusOK {
		t.Fatalf("budget: status = %d: %s", rec.Code, rec.Body)
	}

	rec := s.do(t, http.MethodGet, "/workspaces/"+testWorkspace+"/audit", testUser, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit: status = %d: %s", rec.Code, rec.Body)
	}
	var entries []struct {
		ActorID string `json:"actorId"`
		Action  string `json:"action"`
		Entity  string `json:"entity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	seen := make(map[string]string)
	for _, e := range entries {
		if e.ActorID != testUser {
			t.Errorf("actor = %q, want %q", e.ActorID, testUser)
		}
		seen[e.Entity] = e.Action
	}
	if seen["transaction"] != "CREATE" {
		t.Errorf("transaction action = %q, want CREATE", seen["transaction"])
	}
	if seen["budget"] != "UPDATE" {
		t.Errorf("budget action = %q, want UPDATE", seen["budget"])
	}
}
