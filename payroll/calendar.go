/*
calendar.go - Date arithmetic for monthly payroll

PURPOSE:
  Payroll is day-granular: employment windows, salary effectivity, and
  absences are all calendar dates. This file provides the small set of
  date operations the engine needs - day counts, range clamping, and
  proration factors - all normalized to midnight UTC so comparisons
  never trip over wall-clock noise.

PRORATION:
  A mid-month hire, termination, or salary change pays a fraction of the
  monthly amount. The fraction is calendar days active / calendar days in
  the month. The factor keeps full decimal precision; rounding happens on
  the resulting line, not the factor.

SEE ALSO:
  - period.go: monthly payroll periods built on these helpers
  - salary.go: effective-dated segments clamped with OverlapDays
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Date builds a normalized calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOnly truncates a timestamp to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func SameDay(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// DaysBetween counts calendar days in [from, to], inclusive on both ends.
// Returns 0 when to precedes from.
func DaysBetween(from, to time.Time) int {
	f, t := DateOnly(from), DateOnly(to)
	if t.Before(f) {
		return 0
	}
	return int(t.Sub(f).Hours()/24) + 1
}

// DaysInMonth returns the calendar length of a month.
func DaysInMonth(year int, month time.Month) int {
	return Date(year, month+1, 1).AddDate(0, 0, -1).Day()
}

// OverlapDays counts the days common to [aFrom, aTo] and [bFrom, bTo].
func OverlapDays(aFrom, aTo, bFrom, bTo time.Time) int {
	from, to, ok := ClampRange(aFrom, aTo, bFrom, bTo)
	if !ok {
		return 0
	}
	return DaysBetween(from, to)
}

// ClampRange intersects [from, to] with [start, end]. ok is false when the
// ranges do not overlap.
func ClampRange(from, to, start, end time.Time) (time.Time, time.Time, bool) {
	f, t := DateOnly(from), DateOnly(to)
	s, e := DateOnly(start), DateOnly(end)
	if f.Before(s) {
		f = s
	}
	if t.After(e) {
		t = e
	}
	if t.Before(f) {
		return time.Time{}, time.Time{}, false
	}
	return f, t, true
}

// ProrationFactor is activeDays/totalDays as an exact decimal ratio.
// A full month yields exactly 1.
func ProrationFactor(activeDays, totalDays int) decimal.Decimal {
	if totalDays <= 0 || activeDays <= 0 {
		return decimal.Zero
	}
	if activeDays >= totalDays {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(activeDays)).Div(decimal.NewFromInt(int64(totalDays)))
}

// ParseDate parses a DateLayout string.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate renders a date in DateLayout.
func FormatDate(t time.Time) string {
	return DateOnly(t).Format(DateLayout)
}
