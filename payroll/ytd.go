package payroll

import (
	"context"
	"time"
)

// =============================================================================
// YTD SNAPSHOT - Running year totals per employee
// =============================================================================

// YTDSnapshot carries an employee's cumulative totals for one tax year.
// Used for:
//   - Payslip YTD columns
//   - GRA and SSNIT year-end filings
//   - Fast reads (avoid replaying the ledger)
//
// The posting ledger remains the source of truth; a snapshot can always
// be rebuilt from it with RebuildYTD.
type YTDSnapshot struct {
	EmployeeID EmployeeID
	Year       int

	Gross          Money
	TaxableIncome  Money
	PAYE           Money
	SSNITEmployee  Money
	SSNITEmployer  Money
	OtherDeduction Money
	Arrears        Money
	Net            Money

	Periods      int // approved periods folded in
	LastPeriodID PeriodID
	UpdatedAt    time.Time
}

func NewYTDSnapshot(employeeID EmployeeID, year int) *YTDSnapshot {
	z := ZeroMoney(GHS)
	return &YTDSnapshot{
		EmployeeID: employeeID, Year: year,
		Gross: z, TaxableIncome: z, PAYE: z, SSNITEmployee: z, SSNITEmployer: z,
		OtherDeduction: z, Arrears: z, Net: z,
	}
}

// Fold adds one approved item into the running totals.
func (s *YTDSnapshot) Fold(it *PayrollItem, at time.Time) {
	s.Gross = s.Gross.Add(it.Gross)
	s.TaxableIncome = s.TaxableIncome.Add(it.TaxableIncome)
	s.PAYE = s.PAYE.Add(it.PAYE)
	s.SSNITEmployee = s.SSNITEmployee.Add(it.SSNITEmployee)
	s.SSNITEmployer = s.SSNITEmployer.Add(it.SSNITEmployer)
	s.OtherDeduction = s.OtherDeduction.Add(it.OtherDeductions)
	s.Arrears = s.Arrears.Add(it.Arrears)
	s.Net = s.Net.Add(it.NetPay)
	s.Periods++
	s.LastPeriodID = it.PeriodID
	s.UpdatedAt = at
}

// Unfold removes a cancelled run's item from the totals. The matching
// ledger reversals keep RebuildYTD in agreement.
func (s *YTDSnapshot) Unfold(it *PayrollItem, at time.Time) {
	s.Gross = s.Gross.Sub(it.Gross)
	s.TaxableIncome = s.TaxableIncome.Sub(it.TaxableIncome)
	s.PAYE = s.PAYE.Sub(it.PAYE)
	s.SSNITEmployee = s.SSNITEmployee.Sub(it.SSNITEmployee)
	s.SSNITEmployer = s.SSNITEmployer.Sub(it.SSNITEmployer)
	s.OtherDeduction = s.OtherDeduction.Sub(it.OtherDeductions)
	s.Arrears = s.Arrears.Sub(it.Arrears)
	s.Net = s.Net.Sub(it.NetPay)
	s.Periods--
	s.UpdatedAt = at
}

// =============================================================================
// REBUILD - Derive the snapshot from the posting ledger
// =============================================================================

// RebuildYTD replays an employee's postings for a year. This is the audit
// path: every cash bucket must agree with the stored snapshot. TaxableIncome
// is an assessment figure, not a posting, so it stays zero here.
func RebuildYTD(ctx context.Context, store LedgerStore, employeeID EmployeeID, year int) (*YTDSnapshot, error) {
	from := Date(year, time.January, 1)
	to := Date(year, time.December, 31)

	txs, err := store.LoadRange(ctx, employeeID, from, to)
	if err != nil {
		return nil, err
	}

	s := NewYTDSnapshot(employeeID, year)
	seen := map[PeriodID]bool{}
	for _, tx := range txs {
		// Reversals carry the original code with a negated amount, so they
		// land in the same bucket and cancel out.
		switch tx.Code {
		case CodePAYE:
			s.PAYE = s.PAYE.Add(tx.Amount)
		case CodeArrearsPAYE:
			s.PAYE = s.PAYE.Add(tx.Amount)
		case CodeSSNITEmployee:
			s.SSNITEmployee = s.SSNITEmployee.Add(tx.Amount)
		case CodeArrearsSSNIT:
			s.SSNITEmployee = s.SSNITEmployee.Add(tx.Amount)
		case CodeSSNITEmployer:
			s.SSNITEmployer = s.SSNITEmployer.Add(tx.Amount)
		case CodeNetPay:
			s.Net = s.Net.Add(tx.Amount)
			if !seen[tx.PeriodID] {
				seen[tx.PeriodID] = true
				s.Periods++
				s.LastPeriodID = tx.PeriodID
			}
		case CodeArrears:
			s.Arrears = s.Arrears.Add(tx.Amount)
			s.Gross = s.Gross.Add(tx.Amount)
		default:
			if c, ok := LookupComponent(tx.Code); ok && c.IsDeduction() {
				s.OtherDeduction = s.OtherDeduction.Add(tx.Amount)
			} else {
				s.Gross = s.Gross.Add(tx.Amount)
			}
		}
		if tx.CreatedAt.After(s.UpdatedAt) {
			s.UpdatedAt = tx.CreatedAt
		}
	}
	return s, nil
}
