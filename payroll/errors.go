/*
errors.go - Centralized error types for the payroll engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Domain packages (backpay, loans, statutory) wrap these with context of
  their own.

ERROR CATEGORIES:
  1. Ledger errors - posting persistence failures
  2. State machine errors - illegal run/period/request transitions
  3. Computation errors - per-employee failures inside a run
  4. Store errors - uniqueness and missing-row translations

USAGE:
  if errors.Is(err, payroll.ErrVersionConflict) {
      // source item moved under the request; recompute
  }

SEE ALSO:
  - ledger.go, run.go, service.go: producers of these errors
  - api/handlers.go: maps categories to HTTP status codes
*/
package payroll

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a posting with the same
	// idempotency key already exists. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateAbsence is returned when recording a second absence for
	// the same employee and calendar day.
	ErrDuplicateAbsence = errors.New("duplicate absence on same day")

	// ErrPeriodExists is returned when opening a period for a month that
	// already has one.
	ErrPeriodExists = errors.New("period already exists")

	// ErrPeriodClosed is returned when an operation needs an open period.
	ErrPeriodClosed = errors.New("period is closed")

	// ErrPeriodNotFound is returned when a referenced period doesn't exist.
	ErrPeriodNotFound = errors.New("period not found")

	// ErrRunExists is returned when a period already has a live regular run.
	ErrRunExists = errors.New("run already exists for period")

	// ErrRunNotFound is returned when a referenced run doesn't exist.
	ErrRunNotFound = errors.New("run not found")

	// ErrItemNotFound is returned when a referenced payroll item doesn't exist.
	ErrItemNotFound = errors.New("payroll item not found")

	// ErrEmployeeNotFound is returned when a referenced employee doesn't exist.
	ErrEmployeeNotFound = errors.New("employee not found")

	// ErrComponentNotFound is returned when a pay component code is unknown.
	ErrComponentNotFound = errors.New("pay component not found")

	// ErrSalaryOverlap is returned when a salary version would overlap an
	// existing one for the employee.
	ErrSalaryOverlap = errors.New("salary versions overlap")

	// ErrSalaryBeforeHire is returned when a salary version's effective
	// date precedes the employee's hire date.
	ErrSalaryBeforeHire = errors.New("salary effective before hire date")

	// ErrNoSalaryInForce is returned when an employee has no salary version
	// covering any day of the period being computed.
	ErrNoSalaryInForce = errors.New("no salary version in force")

	// ErrInvalidTransition is returned on an illegal state machine move.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrVersionConflict is returned when a backpay line's source item has
	// been recomputed since the request was calculated. The request must be
	// recomputed; it is never silently reapplied.
	ErrVersionConflict = errors.New("source item version conflict")

	// ErrNegativeNetPay is returned when deductions exceed what the
	// protected-pay rule allows the computation to absorb.
	ErrNegativeNetPay = errors.New("net pay is negative")

	// ErrStatutoryNotFound is returned when no statutory table covers the
	// requested date or version. Never treated as a zero-rate.
	ErrStatutoryNotFound = errors.New("statutory table not found")

	// ErrRunHasFailures is returned when approving a run that still has
	// failed items. Fix the inputs and recompute first.
	ErrRunHasFailures = errors.New("run has failed items")

	// ErrRunNotTerminal is returned when closing a period that still has
	// runs in a non-terminal state.
	ErrRunNotTerminal = errors.New("period has non-terminal runs")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidTransitionError reports an illegal state machine move.
type InvalidTransitionError struct {
	Kind string // "run", "period", "backpay_request", "loan"
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Kind, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// NegativeNetPayError reports the aggregates that drove net below zero.
type NegativeNetPayError struct {
	EmployeeID EmployeeID
	Gross      Money
	Deductions Money
	Net        Money
}

func (e *NegativeNetPayError) Error() string {
	return fmt.Sprintf("negative net pay for %s: gross %v, deductions %v, net %v",
		e.EmployeeID, e.Gross.Value, e.Deductions.Value, e.Net.Value)
}

func (e *NegativeNetPayError) Unwrap() error { return ErrNegativeNetPay }

// VersionConflictError reports stale backpay lines.
type VersionConflictError struct {
	ItemID      ItemID
	WantVersion int
	HaveVersion int
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("item %s moved from version %d to %d since request computation",
		e.ItemID, e.WantVersion, e.HaveVersion)
}

func (e *VersionConflictError) Unwrap() error { return ErrVersionConflict }

// SalaryOverlapError reports the colliding versions.
type SalaryOverlapError struct {
	EmployeeID EmployeeID
	Existing   int // version number in the way
}

func (e *SalaryOverlapError) Error() string {
	return fmt.Sprintf("salary version overlaps version %d for %s", e.Existing, e.EmployeeID)
}

func (e *SalaryOverlapError) Unwrap() error { return ErrSalaryOverlap }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPeriodNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrComponentNotFound) ||
		errors.Is(err, ErrStatutoryNotFound)
}

// IsConflict returns true for uniqueness and state collisions that map to
// HTTP 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateAbsence) ||
		errors.Is(err, ErrPeriodExists) ||
		errors.Is(err, ErrRunExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrVersionConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return IsConflict(err) ||
		errors.Is(err, ErrSalaryOverlap) ||
		errors.Is(err, ErrSalaryBeforeHire) ||
		errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrNegativeNetPay)
}
