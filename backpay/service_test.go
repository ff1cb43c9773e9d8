package backpay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/backpay"
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

// fixture wires the full graph: runs carry approved backpay through the
// Backpay source exactly as the production wiring does.
type fixture struct {
	ctx      context.Context
	store    *store.TxMemory
	payrolls *payroll.PayrollService
	periods  *payroll.PeriodService
	salaries *payroll.SalaryService
	backpays *backpay.Service
}

func newFixture(t *testing.T, policy backpay.ApprovalPolicy) *fixture {
	t.Helper()
	st := store.NewTxMemory()
	calc := statutory.NewGhanaCalculator()
	bp := &backpay.Service{Store: st, Statutory: calc, Policy: policy, Audit: st}
	return &fixture{
		ctx:   context.Background(),
		store: st,
		payrolls: &payroll.PayrollService{
			Store:       st,
			Statutory:   calc,
			Distributor: &payroll.DeductionDistributor{},
			Backpay:     bp,
			Audit:       st,
		},
		periods:  &payroll.PeriodService{Store: st, Audit: st},
		salaries: &payroll.SalaryService{Store: st},
		backpays: bp,
	}
}

func (f *fixture) addEmployee(t *testing.T, id payroll.EmployeeID, hire time.Time) {
	t.Helper()
	err := f.store.SaveEmployee(f.ctx, &payroll.Employee{
		ID: id, Name: "Staff " + string(id), HireDate: hire,
	})
	require.NoError(t, err)
}

func (f *fixture) setSalary(t *testing.T, id payroll.EmployeeID, basic float64, from time.Time) *payroll.SalaryVersion {
	t.Helper()
	v, err := f.salaries.AddVersion(f.ctx, id, ghs(basic), "L4", 2, from, "test setup")
	require.NoError(t, err)
	return v
}

// payMonth takes one period through its full life: open, compute, approve,
// pay, close. Backpay only ever corrects periods in this state.
func (f *fixture) payMonth(t *testing.T, year int, month time.Month) *payroll.PayrollRun {
	t.Helper()
	p, err := f.periods.OpenPeriod(f.ctx, year, month, "hr-admin")
	require.NoError(t, err)
	run, err := f.payrolls.CreateRun(f.ctx, p.ID, payroll.RunRegular, "payroll-officer", "")
	require.NoError(t, err)
	run, err = f.payrolls.ComputeRun(f.ctx, run.ID)
	require.NoError(t, err)
	run, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)
	run, err = f.payrolls.MarkPaid(f.ctx, run.ID, "treasury")
	require.NoError(t, err)
	_, err = f.periods.ClosePeriod(f.ctx, p.ID, "hr-admin")
	require.NoError(t, err)
	return run
}

func (f *fixture) computedRun(t *testing.T, periodID payroll.PeriodID) *payroll.PayrollRun {
	t.Helper()
	run, err := f.payrolls.CreateRun(f.ctx, periodID, payroll.RunRegular, "payroll-officer", "")
	require.NoError(t, err)
	run, err = f.payrolls.ComputeRun(f.ctx, run.ID)
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

// raiseAfterTwoPaidMonths is the canonical scenario: GHS 2,000/month paid
// and closed for January and February 2024, then a raise to 2,800
// backdated to 1 January lands in March.
func raiseAfterTwoPaidMonths(t *testing.T, f *fixture) *backpay.BackpayRequest {
	t.Helper()
	f.addEmployee(t, "E-100", date(2023, time.June, 1))
	f.setSalary(t, "E-100", 2000, date(2023, time.June, 1))
	f.payMonth(t, 2024, time.January)
	f.payMonth(t, 2024, time.February)

	v := f.setSalary(t, "E-100", 2800, date(2024, time.January, 1))
	r, err := f.backpays.CreateForSalaryChange(f.ctx, *v)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateForSalaryChange_NoClosedPeriods_NoRequest(t *testing.T) {
	// GIVEN: A raise effective in a month with no closed payroll history
	// WHEN: Raising a request for the salary change
	// THEN: Nothing to correct, no request is created

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-100", date(2023, time.June, 1))
	f.setSalary(t, "E-100", 2000, date(2023, time.June, 1))

	v := f.setSalary(t, "E-100", 2800, date(2024, time.January, 1))
	r, err := f.backpays.CreateForSalaryChange(f.ctx, *v)

	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestCreate_UnknownEmployeeRejected(t *testing.T) {
	// GIVEN: No such employee
	// WHEN: Raising a manual request
	// THEN: Not-found from the employee lookup

	f := newFixture(t, backpay.ApprovalPolicy{})
	_, err := f.backpays.Create(f.ctx, "ghost", date(2024, time.January, 1), "correction", "hr-admin")
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)
}

// =============================================================================
// COMPUTE - Per-period deltas
// =============================================================================

func TestCompute_BackdatedRaiseProducesPerPeriodDeltas(t *testing.T) {
	// GIVEN: GHS 2,000/month paid for Jan and Feb 2024, both closed; a
	//        raise to 2,800 backdated to 1 January
	// WHEN: Computing the request
	// THEN: One line per corrected period. Each: gross +800; PAYE
	//       353.80 - 221.50 = +132.30; SSNIT-EE 154 - 110 = +44;
	//       SSNIT-ER 364 - 260 = +104; net +623.70

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	assert.Equal(t, backpay.RequestPending, r.Status)

	r, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	_, lines, err := f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	for _, l := range lines {
		assertMoney(t, "2000", l.OldBasic, "old basic")
		assertMoney(t, "2800", l.NewBasic, "new basic")
		assertMoney(t, "800", l.GrossDelta, "gross delta")
		assertMoney(t, "132.30", l.PAYEDelta, "PAYE delta")
		assertMoney(t, "44", l.SSNITEmployeeDelta, "employee SSNIT delta")
		assertMoney(t, "104", l.SSNITEmployerDelta, "employer SSNIT delta")
		assertMoney(t, "623.70", l.NetDelta, "net delta")
		assert.Equal(t, "ghana-paye-2024", l.TaxTableVersion)
		assert.Equal(t, "ghana-ssnit-2024", l.SSNITVersion)
		assert.NotEmpty(t, l.SourceItemID)
		assert.Equal(t, 1, l.SourceItemVersion)
	}

	assertMoney(t, "1600", r.Totals.Gross, "total gross")
	assertMoney(t, "264.60", r.Totals.PAYE, "total PAYE")
	assertMoney(t, "88", r.Totals.SSNITEmployee, "total employee SSNIT")
	assertMoney(t, "208", r.Totals.SSNITEmployer, "total employer SSNIT")
	assertMoney(t, "1247.40", r.Totals.Net, "total net")
	require.NotNil(t, r.ComputedAt)
}

func TestCompute_ZeroPolicyAutoApproves(t *testing.T) {
	// GIVEN: The zero approval policy
	// WHEN: Computing a request with real deltas
	// THEN: Approved in the same pass, stamped by policy

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)

	r, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	assert.Equal(t, backpay.RequestApproved, r.Status)
	require.NotNil(t, r.ApprovedBy)
	assert.Equal(t, "policy", *r.ApprovedBy)
	assert.NotNil(t, r.ApprovedAt)
}

func TestCompute_RequiresApprovalStopsAtComputed(t *testing.T) {
	// GIVEN: A policy requiring an operator
	// WHEN: Computing
	// THEN: The request waits at computed until someone approves it

	f := newFixture(t, backpay.ApprovalPolicy{RequiresApproval: true})
	r := raiseAfterTwoPaidMonths(t, f)

	r, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestComputed, r.Status)
	assert.Nil(t, r.ApprovedBy)

	r, err = f.backpays.Approve(f.ctx, r.ID, "cfo")
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	require.NotNil(t, r.ApprovedBy)
	assert.Equal(t, "cfo", *r.ApprovedBy)
}

func TestCompute_SmallAmountWaiverAutoApproves(t *testing.T) {
	// GIVEN: Approval required but waived at or below GHS 2,000 net
	// WHEN: Computing a request whose net total is 1,247.40
	// THEN: The waiver applies and the request auto-approves

	cap := ghs(2000)
	f := newFixture(t, backpay.ApprovalPolicy{RequiresApproval: true, AutoApproveUpTo: &cap})
	r := raiseAfterTwoPaidMonths(t, f)

	r, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	require.NotNil(t, r.ApprovedBy)
	assert.Equal(t, "policy", *r.ApprovedBy)
}

func TestCompute_OpenPeriodExcluded(t *testing.T) {
	// GIVEN: January paid and closed, February paid but still open
	// WHEN: Computing a raise backdated to 1 January
	// THEN: Only the closed period produces a line; the open one will pick
	//       the new salary up when its own run recomputes

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-101", date(2023, time.June, 1))
	f.setSalary(t, "E-101", 2000, date(2023, time.June, 1))
	f.payMonth(t, 2024, time.January)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.February, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)
	_, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)
	_, err = f.payrolls.MarkPaid(f.ctx, run.ID, "treasury")
	require.NoError(t, err)
	// February deliberately left open

	v := f.setSalary(t, "E-101", 2800, date(2024, time.January, 1))
	r, err := f.backpays.CreateForSalaryChange(f.ctx, *v)
	require.NoError(t, err)
	require.NotNil(t, r)

	r, err = f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	_, lines, err := f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, payroll.PeriodID("2024-01"), lines[0].PeriodID)
	assertMoney(t, "623.70", r.Totals.Net, "total net")
}

func TestCompute_NoDeltaNoLines(t *testing.T) {
	// GIVEN: A manual request with no underlying salary change
	// WHEN: Computing
	// THEN: The recompute reproduces what was paid; zero lines, zero totals

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-102", date(2023, time.June, 1))
	f.setSalary(t, "E-102", 2000, date(2023, time.June, 1))
	f.payMonth(t, 2024, time.January)

	r, err := f.backpays.Create(f.ctx, "E-102", date(2024, time.January, 1), "audit check", "hr-admin")
	require.NoError(t, err)

	r, err = f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	_, lines, err := f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, lines)
	assertMoney(t, "0", r.Totals.Net, "total net")
}

// =============================================================================
// APPLICATION - Arrears ride the next run
// =============================================================================

func TestArrears_NextRunCarriesApprovedRequest(t *testing.T) {
	// GIVEN: An approved request for two corrected months (gross +1,600)
	// WHEN: Computing March's run
	// THEN: The item carries the arrears on top of regular pay and the
	//       request is reserved for the run

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	r, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, backpay.RequestApproved, r.Status)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)
	it := f.soleItem(t, run.ID)

	// Regular March at 2,800 plus two months of arrears
	assertMoney(t, "2800", it.BasicPay, "basic")
	assertMoney(t, "1600", it.Arrears, "arrears gross")
	assertMoney(t, "4400", it.Gross, "gross incl. arrears")
	assertMoney(t, "618.40", it.PAYE, "PAYE incl. arrears tax")
	assertMoney(t, "242", it.SSNITEmployee, "employee SSNIT incl. arrears")
	assertMoney(t, "3539.60", it.NetPay, "net pay")

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	require.NotNil(t, r.AppliedRunID)
	assert.Equal(t, run.ID, *r.AppliedRunID)
}

func TestArrears_RunApprovalConfirmsApplied(t *testing.T) {
	// GIVEN: A run carrying a reserved request
	// WHEN: Approving the run
	// THEN: The request flips to applied and stays tied to the run

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)
	_, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApplied, r.Status)
	require.NotNil(t, r.AppliedRunID)
	assert.Equal(t, run.ID, *r.AppliedRunID)
}

func TestArrears_CancelRunReleasesReservation(t *testing.T) {
	// GIVEN: A computed run holding the request's reservation
	// WHEN: Cancelling the run
	// THEN: The reservation is freed and the next run carries the arrears

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	first := f.computedRun(t, p.ID)
	_, err = f.payrolls.CancelRun(f.ctx, first.ID, "payroll-officer", "wrong cutoff")
	require.NoError(t, err)

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	assert.Nil(t, r.AppliedRunID)

	second := f.computedRun(t, p.ID)
	it := f.soleItem(t, second.ID)
	assertMoney(t, "1600", it.Arrears, "arrears carried by the fresh run")

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, r.AppliedRunID)
	assert.Equal(t, second.ID, *r.AppliedRunID)
}

func TestArrears_AppliedRunCancellationReturnsToApproved(t *testing.T) {
	// GIVEN: An applied request whose run is then cancelled
	// WHEN: The cancellation reverses the run's postings
	// THEN: The request returns to approved, free for a later run

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)
	_, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)
	_, err = f.payrolls.CancelRun(f.ctx, run.ID, "cfo", "bank file rejected")
	require.NoError(t, err)

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	assert.Nil(t, r.AppliedRunID)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_ReservedRequestRefused(t *testing.T) {
	// GIVEN: A live run holding the request's reservation
	// WHEN: Cancelling the request directly
	// THEN: Refused; the run must be cancelled first

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	f.computedRun(t, p.ID)

	_, err = f.backpays.Cancel(f.ctx, r.ID, "hr-admin", "raised in error")
	assert.ErrorIs(t, err, backpay.ErrRequestReserved)
}

func TestCancel_PendingRequest(t *testing.T) {
	// GIVEN: A pending request nothing has touched
	// WHEN: Cancelling it
	// THEN: Terminal; compute refuses afterwards

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-103", date(2023, time.June, 1))
	f.setSalary(t, "E-103", 2000, date(2023, time.June, 1))

	r, err := f.backpays.Create(f.ctx, "E-103", date(2024, time.January, 1), "raised in error", "hr-admin")
	require.NoError(t, err)

	r, err = f.backpays.Cancel(f.ctx, r.ID, "hr-admin", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestCancelled, r.Status)
	assert.True(t, r.IsTerminal())

	_, err = f.backpays.Compute(f.ctx, r.ID)
	assert.ErrorIs(t, err, payroll.ErrInvalidTransition)
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_MatchesComputeWithoutWrites(t *testing.T) {
	// GIVEN: Two paid, closed months at GHS 2,000
	// WHEN: Previewing a raise to 2,800 effective 1 January
	// THEN: Same lines and totals a real request would compute, and no
	//       request or salary version is persisted

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-104", date(2023, time.June, 1))
	f.setSalary(t, "E-104", 2000, date(2023, time.June, 1))
	f.payMonth(t, 2024, time.January)
	f.payMonth(t, 2024, time.February)

	lines, totals, err := f.backpays.Preview(f.ctx, "E-104", ghs(2800), date(2024, time.January, 1))
	require.NoError(t, err)

	require.Len(t, lines, 2)
	for _, l := range lines {
		assertMoney(t, "800", l.GrossDelta, "gross delta")
		assertMoney(t, "623.70", l.NetDelta, "net delta")
	}
	assertMoney(t, "1600", totals.Gross, "total gross")
	assertMoney(t, "1247.40", totals.Net, "total net")

	requests, err := f.backpays.List(f.ctx, "E-104")
	require.NoError(t, err)
	assert.Empty(t, requests)

	history, err := f.store.SalaryHistory(f.ctx, "E-104")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPreview_MidPeriodEffectiveDateSplits(t *testing.T) {
	// GIVEN: January 2024 paid and closed at GHS 2,000
	// WHEN: Previewing a raise to 2,800 effective 16 January
	// THEN: The recomputed month splits at the boundary: 15 days at the
	//       old rate, 16 at the new; gross delta 800 x 16/31 = 412.90

	f := newFixture(t, backpay.ApprovalPolicy{})
	f.addEmployee(t, "E-105", date(2023, time.June, 1))
	f.setSalary(t, "E-105", 2000, date(2023, time.June, 1))
	f.payMonth(t, 2024, time.January)

	lines, totals, err := f.backpays.Preview(f.ctx, "E-105", ghs(2800), date(2024, time.January, 16))
	require.NoError(t, err)

	require.Len(t, lines, 1)
	assertMoney(t, "412.90", lines[0].GrossDelta, "prorated gross delta")
	assertMoney(t, "412.90", totals.Gross, "total gross")
}

// =============================================================================
// VERSION SAFETY - Staleness and table pinning
// =============================================================================

func TestArrears_SourceItemDriftMarksRequestStale(t *testing.T) {
	// GIVEN: An approved request whose January source item has since
	//        moved to a newer version
	// WHEN: March's run reaches for the arrears
	// THEN: The request flips to stale with the conflict recorded, the
	//       reservation is dropped, and the run computes without arrears;
	//       a recompute brings the request back against the new version

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	_, lines, err := f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	item, err := f.store.GetItem(f.ctx, lines[0].SourceItemID)
	require.NoError(t, err)
	item.Version++
	require.NoError(t, f.store.UpdateItem(f.ctx, item))

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)

	it := f.soleItem(t, run.ID)
	assertMoney(t, "0", it.Arrears, "no arrears from a stale request")
	assertMoney(t, "2800", it.Gross, "regular pay only")

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestStale, r.Status)
	assert.Nil(t, r.AppliedRunID)
	assert.Contains(t, r.Error, "version")

	// Recomputing rebuilds the lines against the moved item.
	r, err = f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)

	_, lines, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	assert.Equal(t, 2, lines[0].SourceItemVersion)

	run, err = f.payrolls.ComputeRun(f.ctx, run.ID)
	require.NoError(t, err)
	it = f.soleItem(t, run.ID)
	assertMoney(t, "1600", it.Arrears, "arrears carried after recompute")
}

func TestCompute_CorrectionSpanningTaxYearPinsEachPeriodsTables(t *testing.T) {
	// GIVEN: GHS 500/month paid and closed for December 2023 and January
	//        2024, then a raise to 600 backdated to 1 December
	// WHEN: Computing the request
	// THEN: December's delta is taxed under the 2023 tables and January's
	//       under the 2024 tables, each line pinned to its own versions.
	//       The same GHS 100 gross delta yields different PAYE: taxable
	//       moves 472.50 -> 567.00, which under the 2023 bands adds
	//       11.00 - 3.53 = 7.47 but under the wider 2024 free band only
	//       3.85 - 0 = 3.85

	f := newFixture(t, backpay.ApprovalPolicy{RequiresApproval: true})
	f.addEmployee(t, "E-106", date(2023, time.June, 1))
	f.setSalary(t, "E-106", 500, date(2023, time.June, 1))
	f.payMonth(t, 2023, time.December)
	f.payMonth(t, 2024, time.January)

	v := f.setSalary(t, "E-106", 600, date(2023, time.December, 1))
	r, err := f.backpays.CreateForSalaryChange(f.ctx, *v)
	require.NoError(t, err)
	require.NotNil(t, r)
	r, err = f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	_, lines, err := f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	byPeriod := map[payroll.PeriodID]backpay.BackpayLine{}
	for _, l := range lines {
		byPeriod[l.PeriodID] = l
	}

	dec := byPeriod["2023-12"]
	assert.Equal(t, "ghana-paye-2023", dec.TaxTableVersion)
	assert.Equal(t, "ghana-ssnit-2023", dec.SSNITVersion)
	assertMoney(t, "100", dec.GrossDelta, "December gross delta")
	assertMoney(t, "5.50", dec.SSNITEmployeeDelta, "December employee SSNIT delta")
	assertMoney(t, "7.47", dec.PAYEDelta, "December PAYE delta under 2023 bands")
	assertMoney(t, "87.03", dec.NetDelta, "December net delta")

	jan := byPeriod["2024-01"]
	assert.Equal(t, "ghana-paye-2024", jan.TaxTableVersion)
	assert.Equal(t, "ghana-ssnit-2024", jan.SSNITVersion)
	assertMoney(t, "100", jan.GrossDelta, "January gross delta")
	assertMoney(t, "5.50", jan.SSNITEmployeeDelta, "January employee SSNIT delta")
	assertMoney(t, "3.85", jan.PAYEDelta, "January PAYE delta under 2024 bands")
	assertMoney(t, "90.65", jan.NetDelta, "January net delta")

	assertMoney(t, "200", r.Totals.Gross, "total gross")
	assertMoney(t, "11.32", r.Totals.PAYE, "total PAYE across table versions")
	assertMoney(t, "177.68", r.Totals.Net, "total net")
}

// =============================================================================
// TERMINATED EMPLOYEES - Arrears-only settlement
// =============================================================================

func TestArrears_SupplementaryRunSettlesTerminatedEmployee(t *testing.T) {
	// GIVEN: January and February 2024 paid at GHS 2,000 and closed, the
	//        employee terminated 29 February, then an approved raise to
	//        2,800 backdated to 1 January
	// WHEN: Computing a March supplementary run
	// THEN: The former employee gets an arrears-only item: no basic, two
	//       corrected months of deltas, and approval flips the request to
	//       applied. A regular run still excludes them.

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)

	emp, err := f.store.GetEmployee(f.ctx, "E-100")
	require.NoError(t, err)
	term := date(2024, time.February, 29)
	emp.TerminationDate = &term
	require.NoError(t, f.store.UpdateEmployee(f.ctx, emp))

	_, err = f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)

	regular, err := f.payrolls.CreateRun(f.ctx, p.ID, payroll.RunRegular, "payroll-officer", "")
	require.NoError(t, err)
	regular, err = f.payrolls.ComputeRun(f.ctx, regular.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, regular.EmployeeCount, "regular runs never pay outside the employment window")
	_, err = f.payrolls.CancelRun(f.ctx, regular.ID, "payroll-officer", "nothing to pay")
	require.NoError(t, err)

	supp, err := f.payrolls.CreateRun(f.ctx, p.ID, payroll.RunSupplementary, "payroll-officer", "final arrears settlement")
	require.NoError(t, err)
	supp, err = f.payrolls.ComputeRun(f.ctx, supp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, supp.ComputedCount)

	it := f.soleItem(t, supp.ID)
	assert.Equal(t, payroll.ItemComputed, it.Status)
	assert.Equal(t, 0, it.DaysActive)
	assertMoney(t, "0", it.BasicPay, "no regular pay after termination")
	assertMoney(t, "1600", it.Arrears, "two corrected months")
	assertMoney(t, "1600", it.Gross, "gross is arrears only")
	assertMoney(t, "264.60", it.PAYE, "arrears PAYE deltas")
	assertMoney(t, "88", it.SSNITEmployee, "arrears employee SSNIT deltas")
	assertMoney(t, "1247.40", it.NetPay, "net arrears payout")

	_, err = f.payrolls.ApproveRun(f.ctx, supp.ID, "cfo")
	require.NoError(t, err)

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApplied, r.Status)
}

// =============================================================================
// FAILURE CLEANUP AND OBSERVERS
// =============================================================================

// unavailableSource makes every item computation fail.
type unavailableSource struct{}

func (unavailableSource) DeductionsFor(ctx context.Context, employeeID payroll.EmployeeID, p *payroll.PayrollPeriod) ([]payroll.DeductionRequest, error) {
	return nil, errors.New("loan book unavailable")
}

func (unavailableSource) ConfirmDeductions(ctx context.Context, employeeID payroll.EmployeeID, runID payroll.RunID, p *payroll.PayrollPeriod, taken []payroll.DeductionAllocation) error {
	return nil
}

func (unavailableSource) ReleaseDeductions(ctx context.Context, employeeID payroll.EmployeeID, runID payroll.RunID) error {
	return nil
}

func TestArrears_FailedComputeReleasesReservation(t *testing.T) {
	// GIVEN: An approved request and a deduction source that errors after
	//        the arrears were already reserved
	// WHEN: The run's compute fails
	// THEN: The reservation is released so the retry can reserve again

	f := newFixture(t, backpay.ApprovalPolicy{})
	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	f.payrolls.Sources = []payroll.DeductionSource{unavailableSource{}}
	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run, err := f.payrolls.CreateRun(f.ctx, p.ID, payroll.RunRegular, "payroll-officer", "")
	require.NoError(t, err)
	_, err = f.payrolls.ComputeRun(f.ctx, run.ID)
	require.Error(t, err)

	r, _, err = f.backpays.Get(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, backpay.RequestApproved, r.Status)
	assert.Nil(t, r.AppliedRunID, "failed compute holds no reservation")

	f.payrolls.Sources = nil
	run, err = f.payrolls.ComputeRun(f.ctx, run.ID)
	require.NoError(t, err)
	it := f.soleItem(t, run.ID)
	assertMoney(t, "1600", it.Arrears, "arrears carried by the retry")
}

func TestArrears_ConfirmNotifiesObserver(t *testing.T) {
	// GIVEN: A service with an application observer installed
	// WHEN: A run carrying one reserved request is approved
	// THEN: The observer sees exactly one applied request, once

	f := newFixture(t, backpay.ApprovalPolicy{})
	applied := 0
	f.backpays.OnApplied = func(n int) { applied += n }

	r := raiseAfterTwoPaidMonths(t, f)
	_, err := f.backpays.Compute(f.ctx, r.ID)
	require.NoError(t, err)

	p, err := f.periods.OpenPeriod(f.ctx, 2024, time.March, "hr-admin")
	require.NoError(t, err)
	run := f.computedRun(t, p.ID)
	_, err = f.payrolls.ApproveRun(f.ctx, run.ID, "cfo")
	require.NoError(t, err)

	assert.Equal(t, 1, applied)
}
