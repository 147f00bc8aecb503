package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"cofre/internal/core"
	"cofre/internal/log"
)

// errorResponse is the JSON body of every non-2xx reply.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Error("Failed to encode response", "error", err)
		}
	}
}

// writeError maps the error taxonomy onto HTTP statuses: validation and
// channel errors are the caller's fault, a vault deficit is unprocessable,
// a consistency violation conflicts with ledger state.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation   *core.ValidationError
		channel      *core.InvalidChannelError
		insufficient *core.InsufficientVaultBalanceError
		consistency  *core.ConsistencyError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrForbidden):
		status = http.StatusForbidden
	case errors.As(err, &validation), errors.As(err, &channel):
		status = http.StatusBadRequest
	case errors.As(err, &insufficient):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &consistency):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		fields := log.NewFields().WithError(err)
		log.FromContext(ctx).ErrorContext(ctx, "Request failed", fields.ToSlice()...)
		writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// authorize resolves the caller from X-User-ID and checks workspace
// membership. It writes the error response itself and reports success.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, workspaceID string) bool {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing X-User-ID header"})
		return false
	}
	if err := s.ledger.CheckAccess(r.Context(), userID, workspaceID); err != nil {
		writeError(r.Context(), w, err)
		return false
	}
	return true
}

// actorID returns the caller's user id. Only meaningful after authorize
// has accepted the request.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// parseDate reads a 2006-01-02 value, defaulting to today when empty.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	return d, nil
}

// parseMonth reads year and month query parameters, defaulting to the
// current month.
func parseMonth(r *http.Request) (int, time.Month, error) {
	now := time.Now().UTC()
	year, month := now.Year(), now.Month()

	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1970 || y > 9999 {
			return 0, 0, &core.ValidationError{Field: "year", Reason: "must be a four-digit year"}
		}
		year = y
	}
	if v := r.URL.Query().Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return 0, 0, &core.ValidationError{Field: "month", Reason: "must be between 1 and 12"}
		}
		month = time.Month(m)
	}
	return year, month, nil
}
