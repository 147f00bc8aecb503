package http

import (
	"context"
	"net/http"
	"sync"

	"cofre/internal/log"
	"cofre/internal/middleware/ratelimit"
	"cofre/internal/middleware/trace"
	"cofre/internal/services"
)

type Server struct {
	http.Server

	ledger    *services.LedgerService
	analytics *services.AnalyticsService

	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	shutdownOnce sync.Once
}

// NewServer wires the JSON API routes, returning a ready-to-run server.
// Callers authenticate with an X-User-ID header; every workspace-scoped
// route checks membership before touching the ledger.
func NewServer(addr string, ledger *services.LedgerService, analytics *services.AnalyticsService) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		ledger:    ledger,
		analytics: analytics,
		limiter:   ratelimit.NewLimiter(ratelimit.DefaultConfig()),
	}

	s.tracer = trace.NewMiddleware(clientIP)
	limited := s.limiter.Middleware(clientIP, nil)
	logged := log.Middleware(log.New(log.Config{Component: log.ComponentHTTP}))
	wrap := func(h http.HandlerFunc) http.Handler {
		return s.tracer.Middleware(logged(limited(apiHeaders(h))))
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("GET /workspaces/{workspaceID}/transactions", wrap(s.handleListTransactions))
	mux.Handle("POST /workspaces/{workspaceID}/transactions", wrap(s.handleCreateTransaction))
	mux.Handle("PUT /workspaces/{workspaceID}/transactions/{id}", wrap(s.handleUpdateTransaction))
	mux.Handle("DELETE /workspaces/{workspaceID}/transactions/{id}", wrap(s.handleDeleteTransaction))
	mux.Handle("POST /workspaces/{workspaceID}/transactions/{id}/stop", wrap(s.handleStopRecurrence))

	mux.Handle("POST /workspaces/{workspaceID}/transfers", wrap(s.handleCreateTransfer))
	mux.Handle("POST /workspaces/{workspaceID}/vaults/{vaultID}/movements", wrap(s.handleVaultMovement))
	mux.Handle("POST /workspaces/{workspaceID}/cards/{cardID}/payments", wrap(s.handlePayInvoice))
	mux.Handle("GET /workspaces/{workspaceID}/cards/{cardID}/invoice", wrap(s.handleCardInvoice))
	mux.Handle("POST /workspaces/{workspaceID}/imports", wrap(s.handleImport))

	mux.Handle("GET /workspaces/{workspaceID}/summary", wrap(s.handleSummary))
	mux.Handle("GET /workspaces/{workspaceID}/budgets", wrap(s.handleBudgetProgress))
	mux.Handle("PUT /workspaces/{workspaceID}/budgets", wrap(s.handleUpsertBudget))
	mux.Handle("GET /workspaces/{workspaceID}/goals/{goalID}/progress", wrap(s.handleGoalProgress))
	mux.Handle("GET /workspaces/{workspaceID}/audit", wrap(s.handleListAudit))

	return s
}

// apiHeaders sets the response headers every JSON endpoint shares.
func apiHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next(w, r)
	}
}

// clientIP extracts the caller's address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	m := s.tracer.GetMetrics()
	writeJSON(w, http.StatusOK, map[string]int64{
		"total_requests":           m.TotalRequests,
		"average_response_time_us": m.AverageResponseTime,
		"active_rate_limit_keys":   int64(s.limiter.ActiveClients()),
	})
}
