package core

import "time"

// Cycle is one credit-card billing window. Charges dated inside
// [PeriodStart, PeriodEnd] are billed together and fall due on DueDate.
type Cycle struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueDate     time.Time
}

// Contains reports whether d falls inside the cycle window, inclusive on
// both ends. Only the calendar day matters.
func (c Cycle) Contains(d time.Time) bool {
	day := midnight(d)
	return !day.Before(c.PeriodStart) && !day.After(c.PeriodEnd)
}

// CycleFor maps a reference date and a card's (closingDay, dueDay) pair to
// the billing cycle containing that date.
//
// The open cycle ends on the next occurrence of closingDay at or after the
// reference date: a charge on Jan 3 with closing day 5 bills on Jan 5,
// while a charge on Jan 10 rolls into the cycle closing Feb 5. The period
// starts the day after the previous closing. The due date is the next
// occurrence of dueDay strictly after the closing date, wrapping into the
// following month when dueDay <= closingDay (closes day 28, due day 5).
//
// Closing and due days beyond the length of a month clamp to its last day,
// so day 31 means "last day" in February.
func CycleFor(ref time.Time, closingDay, dueDay int) Cycle {
	year, month, _ := ref.Date()

	end := clampedDate(year, month, closingDay, ref.Location())
	if ref.Day() > end.Day() {
		// Already past this month's closing; the cycle closes next month.
		end = clampedDate(year, month+1, closingDay, ref.Location())
	}

	prevEnd := clampedDate(end.Year(), end.Month()-1, closingDay, ref.Location())
	start := prevEnd.AddDate(0, 0, 1)

	due := clampedDate(end.Year(), end.Month(), dueDay, ref.Location())
	if !due.After(end) {
		due = clampedDate(end.Year(), end.Month()+1, dueDay, ref.Location())
	}

	return Cycle{PeriodStart: start, PeriodEnd: end, DueDate: due}
}

// NextOccurrence advances a date by one period of the given frequency.
// Monthly and yearly steps clamp to the last day of a short target month
// instead of spilling over (Jan 31 -> Feb 28, not Mar 3).
func NextOccurrence(freq Frequency, from time.Time) time.Time {
	switch freq {
	case FreqWeekly:
		return from.AddDate(0, 0, 7)
	case FreqYearly:
		return clampedDate(from.Year()+1, from.Month(), from.Day(), from.Location())
	case FreqMonthly:
		return clampedDate(from.Year(), from.Month()+1, from.Day(), from.Location())
	default:
		return time.Time{}
	}
}

// NextOccurrenceN advances a date by n periods in one step, clamping
// against the target month rather than the intermediate ones, so
// Jan 31 + 2 monthly steps lands on Mar 31, not Mar 28.
func NextOccurrenceN(freq Frequency, from time.Time, n int) time.Time {
	if n == 0 {
		return from
	}
	switch freq {
	case FreqWeekly:
		return from.AddDate(0, 0, 7*n)
	case FreqYearly:
		return clampedDate(from.Year()+n, from.Month(), from.Day(), from.Location())
	case FreqMonthly:
		return clampedDate(from.Year(), from.Month()+time.Month(n), from.Day(), from.Location())
	default:
		return time.Time{}
	}
}

// clampedDate builds a date at midnight, clamping day to the length of the
// target month. month may be outside 1..12; time.Date normalizes it first.
func clampedDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	// Normalize the year/month pair before clamping the day against it.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, 0, 0, 0, 0, loc)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// MonthWindow returns the inclusive first and last instants of a calendar
// month, for budget-period queries.
func MonthWindow(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}
