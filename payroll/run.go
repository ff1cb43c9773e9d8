/*
run.go - Payroll run and item state machines

PURPOSE:
  A PayrollRun is one computation pass over a period: it produces one
  PayrollItem per eligible employee, each carrying detail lines for every
  component. Runs move through an explicit state machine so that money is
  only ever posted from a fully computed, human-approved state.

RUN FLOW:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │   draft ──▶ computing ──▶ computed ──▶ approved ──▶ paid        │
  │     │          │  ▲          │ │           │                    │
  │     │          ▼  │          │ │           │ (posts reversals)  │
  │     │        failed──────────┘ │           │                    │
  │     │          │   (recompute) │           ▼                    │
  │     └──────────┴───────────────┴─────▶ cancelled                │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  - Recompute is allowed from computed, failed, and computing (crash
    recovery): items are rebuilt from scratch, versions carried forward.
  - Approval requires zero failed items. Approving posts to the ledger.
  - Cancelling an approved run posts reversals; cancelling earlier
    states touches nothing (no postings exist yet).
  - paid and cancelled are terminal.

ITEMS:
  Items are recomputed wholesale on every compute pass. Each rebuild
  bumps the item's Version; retroactive pay pins the version it diffed
  against, so a recompute after the diff makes the backpay stale rather
  than silently wrong.

SEE ALSO:
  - service.go: Drives runs through this machine
  - ledger.go: Where approved runs post
  - backpay: Consumes item versions for staleness detection
*/
package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RUN - One computation pass over a period
// =============================================================================

type RunStatus string

const (
	RunDraft     RunStatus = "draft"     // Created, nothing computed yet
	RunComputing RunStatus = "computing" // Compute pass in progress
	RunComputed  RunStatus = "computed"  // All items computed, awaiting approval
	RunApproved  RunStatus = "approved"  // Approved, postings in the ledger
	RunPaid      RunStatus = "paid"      // Disbursed, terminal
	RunFailed    RunStatus = "failed"    // Compute pass aborted
	RunCancelled RunStatus = "cancelled" // Abandoned, terminal
)

type RunKind string

const (
	RunRegular       RunKind = "regular"       // The period's normal monthly run
	RunSupplementary RunKind = "supplementary" // Off-cycle run (late hires, corrections)
)

// runTransitions is the complete set of legal status moves.
var runTransitions = map[RunStatus][]RunStatus{
	RunDraft:     {RunComputing, RunCancelled},
	RunComputing: {RunComputed, RunFailed, RunComputing},
	RunComputed:  {RunComputing, RunApproved, RunCancelled},
	RunApproved:  {RunPaid, RunCancelled},
	RunFailed:    {RunComputing, RunCancelled},
}

// CanTransition reports whether from → to is a legal run status move.
func CanTransition(from, to RunStatus) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PayrollRun struct {
	ID       RunID
	PeriodID PeriodID
	Sequence int // 1-based within the period; UNIQUE(period, sequence)
	Kind     RunKind
	Status   RunStatus

	Totals        RunTotals
	EmployeeCount int
	ComputedCount int
	FailedCount   int

	FailureReason string
	Notes         string

	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ComputedAt *time.Time
	ApprovedBy *string
	ApprovedAt *time.Time
	PaidAt     *time.Time
}

// Transition moves the run to a new status or returns ErrInvalidTransition.
func (r *PayrollRun) Transition(to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return &InvalidTransitionError{Kind: "run", From: string(r.Status), To: string(to)}
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}

func (r *PayrollRun) IsTerminal() bool { return r.Status == RunPaid || r.Status == RunCancelled }

// NextSequence returns the sequence number for a new run in the period.
func NextSequence(runs []PayrollRun) int {
	max := 0
	for _, r := range runs {
		if r.Sequence > max {
			max = r.Sequence
		}
	}
	return max + 1
}

// =============================================================================
// RUN TOTALS - Aggregated over all computed items
// =============================================================================

type RunTotals struct {
	Gross          Money
	TaxableIncome  Money
	PAYE           Money
	SSNITEmployee  Money
	SSNITEmployer  Money
	OtherDeduction Money
	Arrears        Money
	Net            Money
	EmployerCost   Money // Gross + employer charges
}

func ZeroTotals() RunTotals {
	z := ZeroMoney(GHS)
	return RunTotals{
		Gross: z, TaxableIncome: z, PAYE: z, SSNITEmployee: z, SSNITEmployer: z,
		OtherDeduction: z, Arrears: z, Net: z, EmployerCost: z,
	}
}

// Accumulate folds one computed item into the totals.
func (t RunTotals) Accumulate(it *PayrollItem) RunTotals {
	t.Gross = t.Gross.Add(it.Gross)
	t.TaxableIncome = t.TaxableIncome.Add(it.TaxableIncome)
	t.PAYE = t.PAYE.Add(it.PAYE)
	t.SSNITEmployee = t.SSNITEmployee.Add(it.SSNITEmployee)
	t.SSNITEmployer = t.SSNITEmployer.Add(it.SSNITEmployer)
	t.OtherDeduction = t.OtherDeduction.Add(it.OtherDeductions)
	t.Arrears = t.Arrears.Add(it.Arrears)
	t.Net = t.Net.Add(it.NetPay)
	t.EmployerCost = t.EmployerCost.Add(it.Gross).Add(it.SSNITEmployer)
	return t
}

// =============================================================================
// ITEM - One employee's pay for one run
// =============================================================================

type ItemStatus string

const (
	ItemComputed ItemStatus = "computed"
	// ItemSkipped records an employee the run evaluated but owes nothing:
	// absent for every payable day. Skipped items post nothing and stay
	// skipped through approval and payment.
	ItemSkipped  ItemStatus = "skipped"
	ItemFailed   ItemStatus = "failed"
	ItemApproved ItemStatus = "approved"
	ItemPaid     ItemStatus = "paid"
)

type PayrollItem struct {
	ID         ItemID
	RunID      RunID
	PeriodID   PeriodID
	EmployeeID EmployeeID
	Status     ItemStatus

	// Version increments on every recompute of this employee in this run.
	// Backpay records the version it diffed against.
	Version int

	// Proration inputs, kept for payslip explanation.
	DaysActive   int
	DaysInPeriod int
	AbsenceDays  int

	BasicPay        Money // prorated basic across salary segments
	Gross           Money
	TaxableIncome   Money
	PAYE            Money
	SSNITEmployee   Money
	SSNITEmployer   Money
	OtherDeductions Money // voluntary deductions actually taken
	DeferredAmount  Money // voluntary deductions pushed to a later period
	Arrears         Money // backpay injected into this item
	NetPay          Money

	// Statutory versions actually used, pinned by backpay recomputation.
	TaxTableVersion string
	SSNITVersion    string

	FailureReason string
	Details       []PayrollItemDetail

	// Deductions is the resolved voluntary-deduction plan. Kept on the item
	// so approval can settle and create deferrals without recomputing.
	Deductions []DeductionAllocation

	ComputedAt time.Time
}

// =============================================================================
// DETAIL - One component line on an item
// =============================================================================

type PayrollItemDetail struct {
	Code        ComponentCode
	Kind        ComponentKind
	Description string

	// Base and Rate explain how Amount was derived, when applicable.
	Base *Money
	Rate *decimal.Decimal

	Amount    Money
	Taxable   bool
	GLAccount string

	// ReferenceID links arrears lines to their backpay request and loan
	// lines to their loan.
	ReferenceID string
}

// EarningLines and DeductionLines split the detail set for payslips.
func (it *PayrollItem) EarningLines() []PayrollItemDetail {
	var out []PayrollItemDetail
	for _, d := range it.Details {
		if d.Kind == KindEarning {
			out = append(out, d)
		}
	}
	return out
}

func (it *PayrollItem) DeductionLines() []PayrollItemDetail {
	var out []PayrollItemDetail
	for _, d := range it.Details {
		if d.Kind == KindDeduction {
			out = append(out, d)
		}
	}
	return out
}
