package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are stored as canonical decimal strings and summed in Go, never
// in SQL, so no float coercion can drift a balance.

func decToDB(d decimal.Decimal) string {
	return d.String()
}

func decFromDB(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount %q: %w", s, err)
	}
	return d, nil
}

// Dates are stored as Unix seconds so range predicates stay numeric.

func timeToDB(t time.Time) int64 {
	return t.Unix()
}

func timeFromDB(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullTimeToDB(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullTimeFromDB(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return timeFromDB(v.Int64)
}

func nullStrToDB(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStrFromDB(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	return v.String
}
