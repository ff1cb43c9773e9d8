/*
period.go - Monthly payroll periods

PURPOSE:
  A PayrollPeriod is the unit of payroll time: one calendar month with a
  pay day, a status, and an identity of the form "2025-03". Runs belong
  to exactly one period; items aggregate within it; statutory tables are
  selected by its dates.

LIFECYCLE:
  open -> closed. Closing is terminal. A closed period is never reopened;
  corrections to what was paid in it travel through backpay requests,
  which recompute history under the period's original statutory tables
  and carry the difference into a later open period.

CLOSE REQUIREMENTS:
  Every run in the period must be terminal (paid or cancelled) before
  the period closes. Year-to-date snapshots are already current by then:
  they fold forward when each run is approved.

SEE ALSO:
  - run.go: the run state machine inside a period
  - ytd.go: snapshots folded at run approval
*/
package payroll

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One calendar month of payroll
// =============================================================================

// PeriodID is "YYYY-MM", sortable and human-readable.
type PeriodID string

type PeriodStatus string

const (
	PeriodOpen   PeriodStatus = "open"
	PeriodClosed PeriodStatus = "closed"
)

// DefaultPayDay is the day of month salaries are due, clamped to the
// month's length (February pays on the 25th too; a 31st pay day would
// clamp in shorter months).
const DefaultPayDay = 25

type PayrollPeriod struct {
	ID     PeriodID
	Year   int
	Month  time.Month
	Start  time.Time
	End    time.Time
	PayDay time.Time
	Status PeriodStatus

	CreatedAt time.Time
	ClosedAt  *time.Time
}

// NewPeriod builds an open period for a calendar month.
func NewPeriod(year int, month time.Month) PayrollPeriod {
	start := Date(year, month, 1)
	end := Date(year, month, DaysInMonth(year, month))
	payDay := DefaultPayDay
	if payDay > end.Day() {
		payDay = end.Day()
	}
	return PayrollPeriod{
		ID:     PeriodIDOf(year, month),
		Year:   year,
		Month:  month,
		Start:  start,
		End:    end,
		PayDay: Date(year, month, payDay),
		Status: PeriodOpen,
	}
}

// PeriodIDOf renders the canonical period identity.
func PeriodIDOf(year int, month time.Month) PeriodID {
	return PeriodID(fmt.Sprintf("%04d-%02d", year, int(month)))
}

// PeriodIDFor returns the period identity containing a date.
func PeriodIDFor(t time.Time) PeriodID {
	d := DateOnly(t)
	return PeriodIDOf(d.Year(), d.Month())
}

// ParsePeriodID parses "YYYY-MM" back into year and month.
func ParsePeriodID(id PeriodID) (int, time.Month, error) {
	var year, month int
	if _, err := fmt.Sscanf(string(id), "%4d-%2d", &year, &month); err != nil {
		return 0, 0, fmt.Errorf("malformed period id %q: %w", id, err)
	}
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("malformed period id %q: month out of range", id)
	}
	return year, time.Month(month), nil
}

func (p PayrollPeriod) Days() int {
	return DaysInMonth(p.Year, p.Month)
}

func (p PayrollPeriod) Contains(t time.Time) bool {
	d := DateOnly(t)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p PayrollPeriod) IsOpen() bool   { return p.Status == PeriodOpen }
func (p PayrollPeriod) IsClosed() bool { return p.Status == PeriodClosed }

// Next returns the following month's period (always fresh and open).
func (p PayrollPeriod) Next() PayrollPeriod {
	next := p.Start.AddDate(0, 1, 0)
	return NewPeriod(next.Year(), next.Month())
}

// Previous returns the preceding month's period.
func (p PayrollPeriod) Previous() PayrollPeriod {
	prev := p.Start.AddDate(0, -1, 0)
	return NewPeriod(prev.Year(), prev.Month())
}
