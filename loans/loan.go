/*
loan.go - Loan book model and amortization

PURPOSE:
  A loan is money the company put in an employee's hands that payroll
  claws back over a fixed number of monthly installments. Two kinds:
  staff loans carry interest on a reducing balance; salary advances are
  interest-free bridge money. Either way, disbursement freezes a full
  schedule up front - one installment per period, consecutive periods,
  principal parts summing EXACTLY to the amount lent.

AMORTIZATION:
  Equal-installment reducing balance. The level payment is

      payment = P * r * (1+r)^n / ((1+r)^n - 1)        r = AnnualRate/12

  (the positive-exponent form of P*r/(1-(1+r)^-n)), pesewa-rounded.
  Each row's interest is the running balance times r, rounded; its
  principal is payment minus interest. The FINAL row takes whatever
  balance remains instead, absorbing all accumulated rounding, so
  sum(principal parts) == Principal to the pesewa. Zero rate collapses
  to P/n with the same final-row absorber.

EXAMPLE:
  GHS 10,000 at 12% a year over 6 months (r = 1% monthly):
    payment = 1725.48
    row 1: interest 100.00, principal 1625.48, balance 8374.52
    ...
    row 6: principal = remaining 1708.34, interest 17.08
  Principal parts sum to exactly 10,000.00.

SEE ALSO:
  - service.go: disbursement, early settlement, cancellation
  - source.go:  how installments surface in payroll runs
*/
package loans

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrLoanNotFound is returned when a referenced loan doesn't exist.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrInstallmentNotFound is returned when a referenced installment
	// doesn't exist.
	ErrInstallmentNotFound = errors.New("loan installment not found")

	// ErrLoanHasCollections is returned when cancelling a loan payroll has
	// already collected against. Settle it instead.
	ErrLoanHasCollections = errors.New("loan has collected installments")
)

// =============================================================================
// LOAN
// =============================================================================

type LoanID string

type LoanKind string

const (
	KindStaffLoan     LoanKind = "staff_loan"     // interest-bearing, reducing balance
	KindSalaryAdvance LoanKind = "salary_advance" // interest-free
)

type LoanStatus string

const (
	LoanActive    LoanStatus = "active"    // installments still being collected
	LoanSettled   LoanStatus = "settled"   // fully recovered or paid off early
	LoanCancelled LoanStatus = "cancelled" // withdrawn before any deduction
)

type Loan struct {
	ID         LoanID
	EmployeeID payroll.EmployeeID
	Kind       LoanKind

	// Principal is the amount disbursed; AnnualRate a fraction (0.12 for
	// 12% a year). Salary advances must carry a zero rate.
	Principal  payroll.Money
	AnnualRate decimal.Decimal
	TermMonths int

	// StartPeriod is the first period an installment falls due in.
	StartPeriod payroll.PeriodID

	Status      LoanStatus
	DisbursedAt time.Time
	DisbursedBy string
	SettledAt   *time.Time
}

// =============================================================================
// INSTALLMENT
// =============================================================================

type InstallmentStatus string

const (
	InstallmentScheduled InstallmentStatus = "scheduled" // not yet presented or collected
	InstallmentDeducted  InstallmentStatus = "deducted"  // recovered by an approved run
	InstallmentDeferred  InstallmentStatus = "deferred"  // pushed out by the deduction cap
	InstallmentWaived    InstallmentStatus = "waived"    // discharged without collection
)

// Installment is one scheduled recovery. Deferred installments stay due
// and are re-presented every period until a run collects them.
type Installment struct {
	ID       string
	LoanID   LoanID
	Sequence int // 1-based position in the schedule
	PeriodID payroll.PeriodID

	Principal payroll.Money
	Interest  payroll.Money
	Total     payroll.Money

	Status InstallmentStatus

	// DeductedRunID is the run that collected this installment; nil until
	// then. At most one run ever holds it.
	DeductedRunID *payroll.RunID
}

// Undischarged reports whether the installment is still owed.
func (i Installment) Undischarged() bool {
	return i.Status == InstallmentScheduled || i.Status == InstallmentDeferred
}

// =============================================================================
// SCHEDULE - Amortization at disbursement
// =============================================================================

var twelve = decimal.NewFromInt(12)

// Schedule builds the loan's full installment schedule: TermMonths rows
// over consecutive periods from StartPeriod, principal parts summing
// exactly to Principal.
func Schedule(l *Loan) ([]Installment, error) {
	if l.TermMonths <= 0 {
		return nil, fmt.Errorf("loan term must be positive, got %d", l.TermMonths)
	}
	if !l.Principal.IsPositive() {
		return nil, fmt.Errorf("loan principal must be positive, got %s", l.Principal)
	}
	if l.AnnualRate.IsNegative() {
		return nil, fmt.Errorf("loan rate must not be negative, got %s", l.AnnualRate)
	}
	year, month, err := payroll.ParsePeriodID(l.StartPeriod)
	if err != nil {
		return nil, err
	}

	monthlyRate := l.AnnualRate.Div(twelve)
	payment := levelPayment(l.Principal, monthlyRate, l.TermMonths)

	rows := make([]Installment, 0, l.TermMonths)
	balance := l.Principal
	for k := 1; k <= l.TermMonths; k++ {
		interest := balance.Mul(monthlyRate).RoundPesewa()
		var principal payroll.Money
		if k == l.TermMonths {
			// Final row absorbs the rounding drift.
			principal = balance
		} else {
			principal = payment.Sub(interest)
			if principal.GreaterThan(balance) {
				principal = balance
			}
			if principal.IsNegative() {
				principal = balance.Zero()
			}
		}
		rows = append(rows, Installment{
			ID:        uuid.NewString(),
			LoanID:    l.ID,
			Sequence:  k,
			PeriodID:  payroll.PeriodIDOf(year, month),
			Principal: principal,
			Interest:  interest,
			Total:     principal.Add(interest),
			Status:    InstallmentScheduled,
		})
		balance = balance.Sub(principal)
		year, month = nextMonth(year, month)
	}
	return rows, nil
}

// levelPayment is the constant monthly payment for an equal-installment
// reducing-balance loan, pesewa-rounded. Zero rate degenerates to P/n.
func levelPayment(principal payroll.Money, monthlyRate decimal.Decimal, term int) payroll.Money {
	if monthlyRate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(term))).RoundPesewa()
	}
	growth := compound(monthlyRate, term) // (1+r)^n
	numerator := principal.Mul(monthlyRate).Mul(growth)
	return numerator.Div(growth.Sub(decimal.NewFromInt(1))).RoundPesewa()
}

// compound returns (1+r)^n by iterated multiplication.
func compound(r decimal.Decimal, n int) decimal.Decimal {
	base := decimal.NewFromInt(1).Add(r)
	out := decimal.NewFromInt(1)
	for i := 0; i < n; i++ {
		out = out.Mul(base)
	}
	return out
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

// TotalInterest sums a schedule's interest parts.
func TotalInterest(rows []Installment) payroll.Money {
	total := payroll.ZeroMoney(payroll.GHS)
	for _, r := range rows {
		total = total.Add(r.Interest)
	}
	return total
}
