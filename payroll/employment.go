/*
employment.go - Employees, employment history, and absences

PURPOSE:
  Employment facts bound what a period computation may pay:
    - The employment window (hire to termination) clamps every segment.
    - Unpaid absences subtract days from whatever remains.
  Employment events are the audit trail behind those facts: a promotion
  explains a salary version, a termination event sets the termination
  date, a suspension explains a block of unpaid days.

DAY UNIQUENESS:
  An employee has at most one absence row per calendar day, enforced by
  the store with a partial unique index. Overlapping absence entries are
  a data error, not something to deduplicate at computation time.

SEE ALSO:
  - salary.go: versions interleaved with the employment window
  - service.go: UnpaidDays feeding proration
*/
package payroll

import (
	"time"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID    EmployeeID // staff number, e.g. "GRA-00123"
	Name  string
	Email string

	SSNITNumber string
	TIN         string

	Grade      string
	Department string

	HireDate        time.Time
	TerminationDate *time.Time

	// OvertimeQualified marks junior staff whose overtime is taxed at the
	// concessionary flat rates instead of joining regular taxable income.
	OvertimeQualified bool

	CreatedAt time.Time
}

// EmploymentWindow clamps a period to the employee's employed days.
// ok is false when the employee was not employed at all in the period.
func (e Employee) EmploymentWindow(p PayrollPeriod) (time.Time, time.Time, bool) {
	to := p.End
	if e.TerminationDate != nil && e.TerminationDate.Before(to) {
		to = *e.TerminationDate
	}
	return ClampRange(e.HireDate, to, p.Start, p.End)
}

// ActiveIn reports whether the employee has any employed days in the period.
func (e Employee) ActiveIn(p PayrollPeriod) bool {
	_, _, ok := e.EmploymentWindow(p)
	return ok
}

// =============================================================================
// EMPLOYMENT EVENTS - The history behind the facts
// =============================================================================

type EmploymentEventType string

const (
	EventHired      EmploymentEventType = "hired"
	EventPromoted   EmploymentEventType = "promoted"
	EventTransferred EmploymentEventType = "transferred"
	EventSuspended  EmploymentEventType = "suspended"
	EventReinstated EmploymentEventType = "reinstated"
	EventTerminated EmploymentEventType = "terminated"
)

type EmploymentEvent struct {
	ID         string
	EmployeeID EmployeeID
	Type       EmploymentEventType

	EffectiveDate time.Time

	// New state carried by the event, where applicable.
	Grade      string
	Department string

	Note      string
	CreatedAt time.Time
}

// =============================================================================
// ABSENCES - Unpaid days
// =============================================================================

type AbsenceKind string

const (
	AbsenceUnpaidLeave      AbsenceKind = "unpaid_leave"
	AbsenceUnpaidSuspension AbsenceKind = "unpaid_suspension"
	AbsenceAWOL             AbsenceKind = "awol"
)

type Absence struct {
	ID         string
	EmployeeID EmployeeID
	Date       time.Time
	Kind       AbsenceKind
	Reference  string
	CreatedAt  time.Time
}

// CountAbsenceDays counts absences falling inside [from, to].
func CountAbsenceDays(absences []Absence, from, to time.Time) int {
	f, t := DateOnly(from), DateOnly(to)
	n := 0
	for _, a := range absences {
		d := DateOnly(a.Date)
		if !d.Before(f) && !d.After(t) {
			n++
		}
	}
	return n
}
