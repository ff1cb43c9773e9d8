/*
store.go - Persistence interface for the loan book

PURPOSE:
  What the loan service needs from a database: the payroll store (it
  validates employees and periods) plus the loan and installment tables
  it owns.

TRANSACTIONS:
  Same arrangement as backpay: the service reuses payroll's WithTx and
  widens the transactional view back to Store inside the callback.

SEE ALSO:
  - payroll/store.go:  the embedded interfaces
  - store/sqlite:      the production implementation
*/
package loans

import (
	"context"

	"github.com/warp/payroll-engine/payroll"
)

// Store is the full persistence surface for loans.
type Store interface {
	payroll.Store

	SaveLoan(ctx context.Context, l *Loan) error
	UpdateLoan(ctx context.Context, l *Loan) error

	// GetLoan returns ErrLoanNotFound for unknown IDs.
	GetLoan(ctx context.Context, id LoanID) (*Loan, error)

	// ListLoans returns one employee's loans, oldest disbursement first.
	// A zero employee ID lists everyone's.
	ListLoans(ctx context.Context, employeeID payroll.EmployeeID) ([]Loan, error)

	// SaveInstallments writes a freshly built schedule in one shot.
	SaveInstallments(ctx context.Context, rows []Installment) error

	UpdateInstallment(ctx context.Context, row Installment) error

	// GetInstallment returns ErrInstallmentNotFound for unknown IDs.
	GetInstallment(ctx context.Context, id string) (*Installment, error)

	// InstallmentsForLoan returns a loan's schedule in sequence order.
	InstallmentsForLoan(ctx context.Context, loanID LoanID) ([]Installment, error)

	// InstallmentsThrough returns the employee's undischarged installments
	// on ACTIVE loans falling due in or before the period, ordered by
	// period then sequence. This is what a run presents for collection:
	// the current month's row plus anything deferred from earlier months.
	InstallmentsThrough(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]Installment, error)

	// InstallmentsByRun returns installments a run collected, for unwinding
	// when that run is cancelled.
	InstallmentsByRun(ctx context.Context, runID payroll.RunID) ([]Installment, error)
}

// TxStore is what Service needs: the loan store plus payroll's
// transactional runner. Overlapping embedded methods are identical.
type TxStore interface {
	Store
	payroll.TxStore
}
