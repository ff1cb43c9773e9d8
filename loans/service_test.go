package loans_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/loans"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
	"github.com/warp/payroll-engine/statutory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func ghs(v float64) payroll.Money {
	return payroll.NewMoney(v, payroll.GHS)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func assertMoney(t *testing.T, want string, got payroll.Money, msg string) {
	t.Helper()
	assert.True(t, got.Equal(payroll.MustParseMoney(want, payroll.GHS)),
		"%s: want %s, got %s", msg, want, got)
}

func rate(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// fixture wires the loan book into run computation as a deduction source,
// the same graph the server assembles.
type fixture struct {
	ctx      context.Context
	store    *store.TxMemory
	payrolls *payroll.PayrollService
	periods  *payroll.PeriodService
	salaries *payroll.SalaryService
	loans    *loans.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	loanSvc := &loans.Service{Store: st, Audit: st}
	return &fixture{
		ctx:   context.Background(),
		store: st,
		payrolls: &payroll.PayrollService{
			Store:       st,
			Statutory:   statutory.NewGhanaCalculator(),
			Distributor: &payroll.DeductionDistributor{},
			Sources:     []payroll.DeductionSource{loanSvc},
			Audit:       st,
		},
		periods:  &payroll.PeriodService{Store: st, Audit: st},
		salaries: &payroll.SalaryService{Store: st},
		loans:    loanSvc,
	}
}

func (f *fixture) addStaff(t *testing.T, id payroll.EmployeeID, basic float64) {
	t.Helper()
	err := f.store.SaveEmployee(f.ctx, &payroll.Employee{
		ID: id, Name: "Staff " + string(id), HireDate: date(2023, time.June, 1),
	})
	require.NoError(t, err)
	_, err = f.salaries.AddVersion(f.ctx, id, ghs(basic), "L4", 2, date(2023, time.June, 1), "test setup")
	require.NoError(t, err)
}

func (f *fixture) disburse(t *testing.T, l loans.Loan) (*loans.Loan, []loans.Installment) {
	t.Helper()
	out, rows, err := f.loans.Disburse(f.ctx, l, "treasury")
	require.NoError(t, err)
	return out, rows
}

// approvedRun opens a period and takes its regular run through approval.
func (f *fixture) approvedRun(t *testing.T, year int, month time.Month) *payroll.PayrollRun {
	t.Helper()
	p, err := f.periods.OpenPeriod(f.ctx, year, month, "hr-admin")
	require.NoError(t, err)
	run, err := f.payrolls.CreateRun(f.ctx, p.ID, payroll.RunRegular, "payroll-officer", "")
	require.NoError(t, err)
	run, err = f.payrolls.ComputeRun(f.ctx, run.ID)
	require.NoError(t, err)
	run, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)
	return run
}

func (f *fixture) soleItem(t *testing.T, runID payroll.RunID) payroll.PayrollItem {
	t.Helper()
	items, err := f.store.ItemsForRun(f.ctx, runID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}

func (f *fixture) installment(t *testing.T, loanID loans.LoanID, sequence int) loans.Installment {
	t.Helper()
	rows, err := f.store.InstallmentsForLoan(f.ctx, loanID)
	require.NoError(t, err)
	for _, r := range rows {
		if r.Sequence == sequence {
			return r
		}
	}
	t.Fatalf("no installment %d on loan %s", sequence, loanID)
	return loans.Installment{}
}

// =============================================================================
// SCHEDULE - Amortization math
// =============================================================================

func TestSchedule_StaffLoanAmortization(t *testing.T) {
	// GIVEN: GHS 10,000 at 12% a year over 6 months (1% monthly)
	// WHEN: Building the schedule
	// THEN: Level payment 1,725.48; each row's interest is 1% of the
	//       running balance; the final row takes the remaining balance and
	//       principal parts sum exactly to 10,000

	l := &loans.Loan{
		ID: "L-1", EmployeeID: "E-001", Kind: loans.KindStaffLoan,
		Principal: ghs(10000), AnnualRate: rate(0.12), TermMonths: 6,
		StartPeriod: payroll.PeriodIDOf(2024, time.April),
	}
	rows, err := loans.Schedule(l)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	type want struct{ interest, principal string }
	wants := []want{
		{"100.00", "1625.48"},
		{"83.75", "1641.73"},
		{"67.33", "1658.15"},
		{"50.75", "1674.73"},
		{"34.00", "1691.48"},
		{"17.08", "1708.43"}, // remaining balance, absorbs the drift
	}
	sum := payroll.ZeroMoney(payroll.GHS)
	for i, w := range wants {
		assert.Equal(t, i+1, rows[i].Sequence)
		assertMoney(t, w.interest, rows[i].Interest, "interest")
		assertMoney(t, w.principal, rows[i].Principal, "principal")
		assert.True(t, rows[i].Total.Equal(rows[i].Principal.Add(rows[i].Interest)), "total = principal + interest")
		assert.Equal(t, loans.InstallmentScheduled, rows[i].Status)
		sum = sum.Add(rows[i].Principal)
	}
	assertMoney(t, "10000", sum, "principal parts sum to the amount lent")
	assertMoney(t, "352.91", loans.TotalInterest(rows), "total interest")

	assert.Equal(t, payroll.PeriodIDOf(2024, time.April), rows[0].PeriodID)
	assert.Equal(t, payroll.PeriodIDOf(2024, time.September), rows[5].PeriodID)
}

func TestSchedule_ZeroRateFinalRowAbsorbs(t *testing.T) {
	// GIVEN: An interest-free GHS 1,000 advance over 3 months
	// WHEN: Building the schedule
	// THEN: 333.33 + 333.33 + 333.34, zero interest throughout

	l := &loans.Loan{
		ID: "L-2", EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1000), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	}
	rows, err := loans.Schedule(l)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assertMoney(t, "333.33", rows[0].Principal, "row 1")
	assertMoney(t, "333.33", rows[1].Principal, "row 2")
	assertMoney(t, "333.34", rows[2].Principal, "final row")
	assertMoney(t, "0", loans.TotalInterest(rows), "no interest")
}

func TestSchedule_PeriodsRollAcrossYearEnd(t *testing.T) {
	// GIVEN: A 3-month schedule starting November 2024
	// WHEN: Building it
	// THEN: Consecutive periods roll into January 2025

	l := &loans.Loan{
		ID: "L-3", EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(900), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.November),
	}
	rows, err := loans.Schedule(l)
	require.NoError(t, err)

	assert.Equal(t, payroll.PeriodIDOf(2024, time.November), rows[0].PeriodID)
	assert.Equal(t, payroll.PeriodIDOf(2024, time.December), rows[1].PeriodID)
	assert.Equal(t, payroll.PeriodIDOf(2025, time.January), rows[2].PeriodID)
}

func TestSchedule_RejectsBadInputs(t *testing.T) {
	base := loans.Loan{
		ID: "L-4", EmployeeID: "E-001", Kind: loans.KindStaffLoan,
		Principal: ghs(1000), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	}

	zeroTerm := base
	zeroTerm.TermMonths = 0
	_, err := loans.Schedule(&zeroTerm)
	assert.Error(t, err, "zero term")

	noPrincipal := base
	noPrincipal.Principal = ghs(0)
	_, err = loans.Schedule(&noPrincipal)
	assert.Error(t, err, "zero principal")

	negRate := base
	negRate.AnnualRate = rate(-0.01)
	_, err = loans.Schedule(&negRate)
	assert.Error(t, err, "negative rate")
}

// =============================================================================
// DISBURSE
// =============================================================================

func TestDisburse_SalaryAdvanceMustBeInterestFree(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)

	_, _, err := f.loans.Disburse(f.ctx, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), AnnualRate: rate(0.10), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	}, "treasury")
	assert.Error(t, err)
}

func TestDisburse_UnknownKindRejected(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)

	_, _, err := f.loans.Disburse(f.ctx, loans.Loan{
		EmployeeID: "E-001", Kind: "mortgage",
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	}, "treasury")
	assert.Error(t, err)
}

func TestDisburse_UnknownEmployeeRejected(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.loans.Disburse(f.ctx, loans.Loan{
		EmployeeID: "ghost", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	}, "treasury")
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)
}

func TestDisburse_FreezesScheduleAndOutstanding(t *testing.T) {
	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)

	l, rows := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	assert.Equal(t, loans.LoanActive, l.Status)
	assert.Equal(t, "treasury", l.DisbursedBy)
	require.Len(t, rows, 3)

	due, err := f.loans.Outstanding(f.ctx, l.ID)
	require.NoError(t, err)
	assertMoney(t, "1200", due, "nothing collected yet")
}

// =============================================================================
// COLLECTION - Installments through payroll runs
// =============================================================================

func TestCollection_RunDeductsInstallment(t *testing.T) {
	// GIVEN: A GHS 1,200 advance over 3 months from March 2024, employee
	//        on GHS 5,000/month
	// WHEN: March's run is computed and approved
	// THEN: 400 comes out of net pay, installment 1 is deducted under the
	//       run's ID, and the outstanding balance drops to 800

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	run := f.approvedRun(t, 2024, time.March)
	it := f.soleItem(t, run.ID)

	assertMoney(t, "400", it.OtherDeductions, "installment taken")
	assertMoney(t, "3545.25", it.NetPay, "net after statutory and installment")

	inst := f.installment(t, l.ID, 1)
	assert.Equal(t, loans.InstallmentDeducted, inst.Status)
	require.NotNil(t, inst.DeductedRunID)
	assert.Equal(t, run.ID, *inst.DeductedRunID)

	due, err := f.loans.Outstanding(f.ctx, l.ID)
	require.NoError(t, err)
	assertMoney(t, "800", due, "outstanding after one installment")

	got, err := f.store.GetLoan(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loans.LoanActive, got.Status)
}

func TestCollection_MissedPeriodCarriesForward(t *testing.T) {
	// GIVEN: A schedule starting March, but March's run never happens
	// WHEN: April's run is computed and approved
	// THEN: Both installment 1 (carried) and installment 2 are collected

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	run := f.approvedRun(t, 2024, time.April)
	it := f.soleItem(t, run.ID)

	assertMoney(t, "800", it.OtherDeductions, "two installments collected")
	assert.Equal(t, loans.InstallmentDeducted, f.installment(t, l.ID, 1).Status)
	assert.Equal(t, loans.InstallmentDeducted, f.installment(t, l.ID, 2).Status)
	assert.Equal(t, loans.InstallmentScheduled, f.installment(t, l.ID, 3).Status)
}

func TestCollection_LastInstallmentSettlesLoan(t *testing.T) {
	// GIVEN: A one-installment advance
	// WHEN: The run collecting it is approved
	// THEN: The schedule is discharged and the loan settles itself

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(900), TermMonths: 1,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	f.approvedRun(t, 2024, time.March)

	got, err := f.store.GetLoan(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loans.LoanSettled, got.Status)
	assert.NotNil(t, got.SettledAt)
}

func TestCollection_CapShortfallDefersInstallment(t *testing.T) {
	// GIVEN: An installment of 1,500 against capacity of 1,445.25
	//        (half of 5,000 gross less statutory 1,054.75)
	// WHEN: The run is approved
	// THEN: Installments are atomic: nothing is taken, the row defers,
	//       and the schedule re-presents it next period

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(4500), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	run := f.approvedRun(t, 2024, time.March)
	it := f.soleItem(t, run.ID)

	assertMoney(t, "0", it.OtherDeductions, "atomic installment not split")
	assertMoney(t, "3945.25", it.NetPay, "net untouched")

	inst := f.installment(t, l.ID, 1)
	assert.Equal(t, loans.InstallmentDeferred, inst.Status)
	assert.Nil(t, inst.DeductedRunID)

	due, err := f.loans.InstallmentsDue(f.ctx, "E-001", payroll.PeriodIDOf(2024, time.April))
	require.NoError(t, err)
	assert.Len(t, due, 2, "deferred row plus April's own")
}

func TestCollection_CancelRunReleases(t *testing.T) {
	// GIVEN: An approved run that collected the only installment and
	//        settled the loan
	// WHEN: The run is cancelled
	// THEN: The installment reverts to scheduled and the loan reopens

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(900), TermMonths: 1,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	run := f.approvedRun(t, 2024, time.March)
	_, err := f.payrolls.CancelRun(f.ctx, run.ID, "cfo", "bank file rejected")
	require.NoError(t, err)

	inst := f.installment(t, l.ID, 1)
	assert.Equal(t, loans.InstallmentScheduled, inst.Status)
	assert.Nil(t, inst.DeductedRunID)

	got, err := f.store.GetLoan(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loans.LoanActive, got.Status)
	assert.Nil(t, got.SettledAt)
}

// =============================================================================
// SETTLE / CANCEL
// =============================================================================

func TestSettle_WaivesPendingAndForgivesInterest(t *testing.T) {
	// GIVEN: A 10,000 staff loan with one installment collected
	//        (principal part 1,625.48)
	// WHEN: Settling early
	// THEN: The remaining principal 8,374.52 is due, pending rows are
	//       waived, and the loan is settled

	f := newFixture(t)
	f.addStaff(t, "E-001", 8000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindStaffLoan,
		Principal: ghs(10000), AnnualRate: rate(0.12), TermMonths: 6,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})
	f.approvedRun(t, 2024, time.March)

	due, err := f.loans.Settle(f.ctx, l.ID, "treasury")
	require.NoError(t, err)
	assertMoney(t, "8374.52", due, "remaining principal, interest forgiven")

	got, rows, err := f.loans.Get(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loans.LoanSettled, got.Status)
	for _, r := range rows {
		if r.Sequence == 1 {
			assert.Equal(t, loans.InstallmentDeducted, r.Status)
		} else {
			assert.Equal(t, loans.InstallmentWaived, r.Status)
		}
	}

	_, err = f.loans.Settle(f.ctx, l.ID, "treasury")
	assert.ErrorIs(t, err, payroll.ErrInvalidTransition, "settle is once")
}

func TestCancel_BeforeAnyCollection(t *testing.T) {
	// GIVEN: A disbursed loan nothing has been collected against
	// WHEN: Cancelling it
	// THEN: The schedule is waived and the book stops presenting it

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})

	require.NoError(t, f.loans.Cancel(f.ctx, l.ID, "treasury", "entered in error"))

	got, err := f.store.GetLoan(f.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, loans.LoanCancelled, got.Status)

	due, err := f.loans.InstallmentsDue(f.ctx, "E-001", payroll.PeriodIDOf(2024, time.May))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestCancel_RefusedAfterCollection(t *testing.T) {
	// GIVEN: A loan with a deducted installment
	// WHEN: Cancelling
	// THEN: Refused; settlement is the only way out

	f := newFixture(t)
	f.addStaff(t, "E-001", 5000)
	l, _ := f.disburse(t, loans.Loan{
		EmployeeID: "E-001", Kind: loans.KindSalaryAdvance,
		Principal: ghs(1200), TermMonths: 3,
		StartPeriod: payroll.PeriodIDOf(2024, time.March),
	})
	f.approvedRun(t, 2024, time.March)

	err := f.loans.Cancel(f.ctx, l.ID, "treasury", "too late")
	assert.ErrorIs(t, err, loans.ErrLoanHasCollections)
}
