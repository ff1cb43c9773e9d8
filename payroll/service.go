/*
service.go - Run computation and lifecycle orchestration

PURPOSE:
  PayrollService drives runs through their state machine and owns the
  compute pipeline that turns employee state into payroll items. It is
  the only writer of runs, items, postings, and deferrals; everything
  else reads.

COMPUTE PIPELINE (per employee):
  1. Clamp the period to the employment window (hire/termination)
  2. Subtract recorded absence days from payable days
  3. Prorate basic pay across salary segments by calendar days
  4. Evaluate assigned components (earnings, reliefs, deduction requests)
  5. Assess statutory amounts under the period's tables
  6. Inject approved backpay arrears, statutory deltas pinned to the
     periods they correct
  7. Sequence voluntary deductions under the protected-pay cap,
     replaying open deferrals first
  8. Reject negative net pay; the item fails, the run continues

  Per-employee failures produce failed items and never abort the run;
  a store failure aborts and marks the run failed.

IDEMPOTENCY:
  Recomputing a run rebuilds its items wholesale and bumps each item's
  version. Approving posts to the ledger under per-(run,employee,code)
  idempotency keys, so a crashed approval can be retried without double
  posting. Cancelling an approved run posts reversals, never deletes.

SEE ALSO:
  - run.go: the state machines this service drives
  - regular.go: steps 1-5, shared with backpay recomputation
  - distribution.go: the deduction sequencing rules
  - ledger.go: posting construction and reversal helpers
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// BACKPAY SOURCE - Arrears supplied by the backpay package
// =============================================================================

// ArrearsLine is one approved correction carried into a run. Gross is the
// earnings delta for the corrected period; the statutory deltas were
// computed under that period's pinned table versions, not today's.
type ArrearsLine struct {
	RequestID     string
	PeriodID      PeriodID // the period being corrected
	Description   string
	Gross         Money // negative recovers an overpayment
	PAYE          Money
	SSNITEmployee Money
	SSNITEmployer Money
}

// Net is what the line changes take-home pay by.
func (l ArrearsLine) Net() Money { return l.Gross.Sub(l.PAYE).Sub(l.SSNITEmployee) }

// BackpaySource supplies approved arrears to runs. The loan-style
// reserve/confirm/release protocol keeps application exactly-once even
// across recomputes and cancellations.
type BackpaySource interface {
	// ArrearsFor reserves the employee's approved, unapplied requests for
	// this run and returns their lines. Idempotent per run: recomputing
	// returns the same lines.
	ArrearsFor(ctx context.Context, employeeID EmployeeID, runID RunID, p *PayrollPeriod) ([]ArrearsLine, error)

	// ConfirmApplied marks everything reserved by the run as applied.
	// Called after the run is approved and posted.
	ConfirmApplied(ctx context.Context, runID RunID) error

	// Release frees the run's reservations when it is cancelled.
	Release(ctx context.Context, runID RunID) error
}

// =============================================================================
// PAYROLL SERVICE
// =============================================================================

type PayrollService struct {
	Store       TxStore
	Statutory   StatutoryCalculator
	Distributor *DeductionDistributor
	Sources     []DeductionSource // loan book, welfare schemes
	Backpay     BackpaySource     // optional
	Audit       AuditLog          // optional
}

func (s *PayrollService) audit(ctx context.Context, entry AuditEntry) {
	if s.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	_ = s.Audit.AppendAudit(ctx, entry)
}

// =============================================================================
// CREATE RUN
// =============================================================================

// CreateRun opens a draft run in an open period. A period holds at most
// one live regular run; supplementary runs are unlimited.
func (s *PayrollService) CreateRun(ctx context.Context, periodID PeriodID, kind RunKind, createdBy, notes string) (*PayrollRun, error) {
	p, err := s.Store.GetPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if p.IsClosed() {
		return nil, fmt.Errorf("create run in %s: %w", periodID, ErrPeriodClosed)
	}

	runs, err := s.Store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	if kind == RunRegular {
		for _, r := range runs {
			if r.Kind == RunRegular && r.Status != RunCancelled {
				return nil, fmt.Errorf("period %s: %w", periodID, ErrRunExists)
			}
		}
	}

	now := time.Now()
	run := &PayrollRun{
		ID:        RunID(uuid.NewString()),
		PeriodID:  periodID,
		Sequence:  NextSequence(runs),
		Kind:      kind,
		Status:    RunDraft,
		Totals:    ZeroTotals(),
		Notes:     notes,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.SaveRun(ctx, run); err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEntry{ActorID: createdBy, Action: AuditRunCreated, PeriodID: periodID, RunID: run.ID})
	return run, nil
}

// =============================================================================
// COMPUTE RUN
// =============================================================================

// ComputeRun (re)computes every item in the run. Safe to call repeatedly
// until the run is approved; each pass rebuilds the items and bumps
// their versions.
func (s *PayrollService) ComputeRun(ctx context.Context, runID RunID) (*PayrollRun, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	p, err := s.Store.GetPeriod(ctx, run.PeriodID)
	if err != nil {
		return nil, err
	}
	if p.IsClosed() {
		return nil, fmt.Errorf("compute run %s: %w", runID, ErrPeriodClosed)
	}

	if err := run.Transition(RunComputing); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}

	items, err := s.computeAll(ctx, run, p)
	if err != nil {
		s.releaseArrears(ctx, run.ID)
		run.FailureReason = err.Error()
		if terr := run.Transition(RunFailed); terr == nil {
			_ = s.Store.UpdateRun(ctx, run)
		}
		return nil, err
	}

	totals := ZeroTotals()
	computed, failed := 0, 0
	for _, it := range items {
		switch it.Status {
		case ItemFailed:
			failed++
			continue
		case ItemSkipped:
			continue
		}
		computed++
		totals = totals.Accumulate(it)
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(txStore Store) error {
		if err := txStore.ReplaceRunItems(ctx, run.ID, items); err != nil {
			return err
		}
		run.Totals = totals
		run.EmployeeCount = len(items)
		run.ComputedCount = computed
		run.FailedCount = failed
		run.ComputedAt = &now
		run.FailureReason = ""
		if err := run.Transition(RunComputed); err != nil {
			return err
		}
		return txStore.UpdateRun(ctx, run)
	})
	if err != nil {
		s.releaseArrears(ctx, run.ID)
		return nil, err
	}

	s.audit(ctx, AuditEntry{ActorID: "system", Action: AuditRunComputed, PeriodID: run.PeriodID, RunID: runID,
		Payload: map[string]any{"employees": len(items), "failed": failed, "net": totals.Net.String()}})
	return run, nil
}

func (s *PayrollService) computeAll(ctx context.Context, run *PayrollRun, p *PayrollPeriod) ([]*PayrollItem, error) {
	employees, err := s.Store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].ID < employees[j].ID })

	// Versions survive recomputation; backpay staleness depends on them.
	prev, err := s.Store.ItemsForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	versions := make(map[EmployeeID]int, len(prev))
	for _, it := range prev {
		versions[it.EmployeeID] = it.Version
	}

	// One period pays each employee once: anyone already in an approved
	// or paid run of this period is skipped here.
	settled, err := s.settledEmployees(ctx, run.ID, p.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var items []*PayrollItem
	for i := range employees {
		emp := &employees[i]
		if settled[emp.ID] {
			continue
		}
		if !emp.ActiveIn(*p) {
			// Regular runs never pay outside the employment window, but
			// approved arrears owed to a terminated employee still ride
			// a supplementary run as an arrears-only item.
			if run.Kind != RunSupplementary || s.Backpay == nil {
				continue
			}
			it, err := s.computeArrearsOnly(ctx, emp, p, run.ID, versions[emp.ID]+1, now)
			if err != nil {
				return nil, fmt.Errorf("compute %s: %w", emp.ID, err)
			}
			if it != nil {
				items = append(items, it)
			}
			continue
		}
		it, err := s.computeItem(ctx, emp, p, run.ID, versions[emp.ID]+1, now)
		if err != nil {
			return nil, fmt.Errorf("compute %s: %w", emp.ID, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// releaseArrears frees the run's backpay reservations when a compute
// pass dies between reserving and persisting items. The requests stay
// approved; the next attempt reserves them again. Best effort - a
// failed release is caught by the run's eventual recompute or cancel.
func (s *PayrollService) releaseArrears(ctx context.Context, runID RunID) {
	if s.Backpay == nil {
		return
	}
	_ = s.Backpay.Release(ctx, runID)
}

func (s *PayrollService) settledEmployees(ctx context.Context, runID RunID, periodID PeriodID) (map[EmployeeID]bool, error) {
	runs, err := s.Store.RunsForPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	settled := map[EmployeeID]bool{}
	for _, r := range runs {
		if r.ID == runID || (r.Status != RunApproved && r.Status != RunPaid) {
			continue
		}
		items, err := s.Store.ItemsForRun(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			settled[it.EmployeeID] = true
		}
	}
	return settled, nil
}

// computeItem builds one employee's item. Domain problems (no salary,
// unknown component, negative net) produce a failed item and a nil error;
// only infrastructure failures return an error.
func (s *PayrollService) computeItem(ctx context.Context, emp *Employee, p *PayrollPeriod, runID RunID, version int, now time.Time) (*PayrollItem, error) {
	it := newItem(runID, p.ID, emp.ID, version, now)

	// 1-5. Regular pay: employment window, absences, prorated basic,
	// assigned components, statutory assessment.
	history, err := s.Store.SalaryHistory(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	reg, err := ComputeRegularPay(ctx, s.Store, s.Statutory, emp, p, history, "", "")
	if err != nil {
		return nil, err
	}
	it.DaysInPeriod = reg.DaysInPeriod
	it.DaysActive = reg.DaysActive
	it.AbsenceDays = reg.AbsenceDays
	it.BasicPay = reg.Basic
	it.Details = reg.Details
	if reg.FailureReason != "" {
		it.Status = ItemFailed
		it.FailureReason = reg.FailureReason
		return it, nil
	}
	if reg.DaysActive-reg.AbsenceDays <= 0 {
		// Absent every payable day: nothing owed, nothing to post.
		it.Status = ItemSkipped
		return it, nil
	}
	it.TaxTableVersion = reg.Assessment.TaxTableVersion
	it.SSNITVersion = reg.Assessment.SSNITVersion
	it.TaxableIncome = reg.Assessment.TaxableIncome
	it.PAYE = reg.Assessment.TotalTax
	it.SSNITEmployee = reg.Assessment.SSNIT.Employee
	it.SSNITEmployer = reg.Assessment.SSNIT.Employer
	gross := reg.Gross
	assignReqs := reg.DeductionRequests

	// 6. Approved arrears land in this run
	if s.Backpay != nil {
		lines, err := s.Backpay.ArrearsFor(ctx, emp.ID, runID, p)
		if err != nil {
			return nil, err
		}
		foldArrears(it, lines)
	}
	gross = gross.Add(it.Arrears)
	it.Gross = gross

	// 7. Voluntary deductions: open deferrals replay first, then this
	// month's assignments, then external sources (loans).
	deferrals, err := s.Store.OpenDeferrals(ctx, emp.ID)
	if err != nil {
		return nil, err
	}
	var requests []DeductionRequest
	for i := range deferrals {
		requests = append(requests, deferrals[i].AsRequest())
	}
	requests = append(requests, assignReqs...)
	for _, src := range s.Sources {
		srcReqs, err := src.DeductionsFor(ctx, emp.ID, p)
		if err != nil {
			return nil, err
		}
		requests = append(requests, srcReqs...)
	}

	statutory := it.PAYE.Add(it.SSNITEmployee)
	plan := s.Distributor.Distribute(gross, statutory, requests)
	it.Deductions = plan.Allocations
	it.OtherDeductions = plan.TotalTaken
	it.DeferredAmount = plan.TotalDeferred

	for _, alloc := range plan.Allocations {
		if alloc.Taken.IsZero() {
			continue
		}
		it.Details = append(it.Details, PayrollItemDetail{
			Code: alloc.Request.Code, Kind: KindDeduction, Description: alloc.Request.Description,
			Amount: alloc.Taken, GLAccount: alloc.Request.GLAccount, ReferenceID: alloc.Request.ReferenceID,
		})
	}

	// 8. Net pay and the floor check
	net := gross.Sub(statutory).Sub(plan.TotalTaken)
	it.NetPay = net
	if net.IsNegative() {
		nerr := &NegativeNetPayError{
			EmployeeID: emp.ID,
			Gross:      gross,
			Deductions: statutory.Add(plan.TotalTaken),
			Net:        net,
		}
		it.Status = ItemFailed
		it.FailureReason = nerr.Error()
		return it, nil
	}

	return it, nil
}

// computeArrearsOnly builds an item carrying nothing but approved
// arrears: no employment window, no basic, no voluntary deductions.
// Supplementary runs use it to settle employees terminated after the
// periods being corrected. Nil when nothing is reserved.
func (s *PayrollService) computeArrearsOnly(ctx context.Context, emp *Employee, p *PayrollPeriod, runID RunID, version int, now time.Time) (*PayrollItem, error) {
	lines, err := s.Backpay.ArrearsFor(ctx, emp.ID, runID, p)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}

	it := newItem(runID, p.ID, emp.ID, version, now)
	it.DaysInPeriod = p.Days()
	foldArrears(it, lines)
	it.Gross = it.Arrears
	it.NetPay = it.Gross.Sub(it.PAYE).Sub(it.SSNITEmployee)
	if it.NetPay.IsNegative() {
		nerr := &NegativeNetPayError{
			EmployeeID: emp.ID,
			Gross:      it.Gross,
			Deductions: it.PAYE.Add(it.SSNITEmployee),
			Net:        it.NetPay,
		}
		it.Status = ItemFailed
		it.FailureReason = nerr.Error()
	}
	return it, nil
}

// foldArrears lands reserved backpay lines on an item: the gross deltas
// as ARREARS earnings plus their statutory legs, one detail row per
// non-zero amount, each referencing the originating request.
func foldArrears(it *PayrollItem, lines []ArrearsLine) {
	if len(lines) == 0 {
		return
	}
	arrearsComp := MustLookupComponent(CodeArrears)
	arrearsPAYE := MustLookupComponent(CodeArrearsPAYE)
	arrearsSSNIT := MustLookupComponent(CodeArrearsSSNIT)
	for _, l := range lines {
		it.Arrears = it.Arrears.Add(l.Gross)
		it.PAYE = it.PAYE.Add(l.PAYE)
		it.SSNITEmployee = it.SSNITEmployee.Add(l.SSNITEmployee)
		it.SSNITEmployer = it.SSNITEmployer.Add(l.SSNITEmployer)

		it.Details = append(it.Details, PayrollItemDetail{
			Code: CodeArrears, Kind: KindEarning, Description: l.Description,
			Amount: l.Gross, GLAccount: arrearsComp.GLAccount, ReferenceID: l.RequestID,
		})
		if !l.PAYE.IsZero() {
			it.Details = append(it.Details, PayrollItemDetail{
				Code: CodeArrearsPAYE, Kind: KindDeduction, Description: arrearsPAYE.Name,
				Amount: l.PAYE, GLAccount: arrearsPAYE.GLAccount, ReferenceID: l.RequestID,
			})
		}
		if !l.SSNITEmployee.IsZero() {
			it.Details = append(it.Details, PayrollItemDetail{
				Code: CodeArrearsSSNIT, Kind: KindDeduction, Description: arrearsSSNIT.Name,
				Amount: l.SSNITEmployee, GLAccount: arrearsSSNIT.GLAccount, ReferenceID: l.RequestID,
			})
		}
	}
}

func newItem(runID RunID, periodID PeriodID, empID EmployeeID, version int, at time.Time) *PayrollItem {
	z := ZeroMoney(GHS)
	return &PayrollItem{
		ID:         ItemID(uuid.NewString()),
		RunID:      runID,
		PeriodID:   periodID,
		EmployeeID: empID,
		Status:     ItemComputed,
		Version:    version,
		BasicPay:   z, Gross: z, TaxableIncome: z, PAYE: z, SSNITEmployee: z, SSNITEmployer: z,
		OtherDeductions: z, DeferredAmount: z, Arrears: z, NetPay: z,
		ComputedAt: at,
	}
}

// =============================================================================
// APPROVE RUN - The critical transactional operation
// =============================================================================

// ApproveRun approves a computed run.
// This is TRANSACTIONAL:
//   - Posts every item to the ledger under idempotency keys
//   - Marks items approved and folds year-to-date snapshots forward
//   - Settles replayed deferrals and records fresh ones
//   - Moves the run to approved
//
// If ANY step fails, ALL changes are rolled back. Deduction sources and
// backpay confirm BEFORE the commit: a confirmation failure leaves the
// run computed so approval can simply be retried, and every confirm call
// is idempotent per run, so the retry re-confirms harmlessly.
func (s *PayrollService) ApproveRun(ctx context.Context, runID RunID, approverID string) (*PayrollRun, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunComputed {
		return nil, &InvalidTransitionError{Kind: "run", From: string(run.Status), To: string(RunApproved)}
	}
	if run.FailedCount > 0 {
		return nil, fmt.Errorf("run %s has %d failed items: %w", runID, run.FailedCount, ErrRunHasFailures)
	}
	p, err := s.Store.GetPeriod(ctx, run.PeriodID)
	if err != nil {
		return nil, err
	}
	items, err := s.Store.ItemsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	for i := range items {
		it := &items[i]
		if it.Status == ItemSkipped {
			continue
		}
		for _, src := range s.Sources {
			if err := src.ConfirmDeductions(ctx, it.EmployeeID, runID, p, it.Deductions); err != nil {
				return nil, fmt.Errorf("confirm deductions for %s: %w", it.EmployeeID, err)
			}
		}
	}
	if s.Backpay != nil {
		if err := s.Backpay.ConfirmApplied(ctx, runID); err != nil {
			return nil, fmt.Errorf("confirm backpay: %w", err)
		}
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(txStore Store) error {
		txLedger := NewLedger(txStore)

		for i := range items {
			it := &items[i]
			if it.Status == ItemSkipped {
				continue
			}

			if err := txLedger.AppendBatch(ctx, buildPostings(it, p, approverID, now)); err != nil {
				return fmt.Errorf("post item %s: %w", it.ID, err)
			}

			it.Status = ItemApproved
			if err := txStore.UpdateItem(ctx, it); err != nil {
				return err
			}

			if err := settleDeferrals(ctx, txStore, it, now); err != nil {
				return err
			}

			ytd, err := txStore.GetYTD(ctx, it.EmployeeID, p.Year)
			if err != nil {
				return err
			}
			if ytd == nil {
				ytd = NewYTDSnapshot(it.EmployeeID, p.Year)
			}
			ytd.Fold(it, now)
			if err := txStore.SaveYTD(ctx, ytd); err != nil {
				return err
			}
		}

		run.ApprovedBy = &approverID
		run.ApprovedAt = &now
		if err := run.Transition(RunApproved); err != nil {
			return err
		}
		return txStore.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEntry{ActorID: approverID, Action: AuditRunApproved, PeriodID: run.PeriodID, RunID: runID,
		Payload: map[string]any{"employees": run.ComputedCount, "net": run.Totals.Net.String()}})
	return run, nil
}

// buildPostings turns one item's lines into ledger postings, aggregated to
// one posting per component code. Amounts stay positive; the posting type
// carries direction. Net pay settles last against the clearing account.
func buildPostings(it *PayrollItem, p *PayrollPeriod, actorID string, now time.Time) []Transaction {
	type agg struct {
		amount Money
		kind   ComponentKind
		gl     string
	}
	var order []ComponentCode
	byCode := map[ComponentCode]*agg{}
	for _, d := range it.Details {
		a, ok := byCode[d.Code]
		if !ok {
			a = &agg{amount: ZeroMoney(GHS), kind: d.Kind, gl: d.GLAccount}
			byCode[d.Code] = a
			order = append(order, d.Code)
		}
		a.amount = a.amount.Add(d.Amount)
	}

	var txs []Transaction
	for _, code := range order {
		a := byCode[code]
		if a.amount.IsZero() {
			continue
		}
		txs = append(txs, Transaction{
			ID:             TransactionID(uuid.NewString()),
			EmployeeID:     it.EmployeeID,
			PeriodID:       it.PeriodID,
			RunID:          it.RunID,
			Code:           code,
			GLAccount:      a.gl,
			EffectiveAt:    p.PayDay,
			Amount:         a.amount,
			Type:           postingType(code, a.kind),
			ReferenceID:    string(it.ID),
			IdempotencyKey: PostingKey(it.RunID, it.EmployeeID, code),
			CreatedBy:      actorID,
			CreatedByType:  "officer",
			CreatedAt:      now,
		})
	}

	if !it.NetPay.IsZero() {
		txs = append(txs, Transaction{
			ID:             TransactionID(uuid.NewString()),
			EmployeeID:     it.EmployeeID,
			PeriodID:       it.PeriodID,
			RunID:          it.RunID,
			Code:           CodeNetPay,
			GLAccount:      GLNetPayable,
			EffectiveAt:    p.PayDay,
			Amount:         it.NetPay,
			Type:           TxNetPay,
			ReferenceID:    string(it.ID),
			IdempotencyKey: PostingKey(it.RunID, it.EmployeeID, CodeNetPay),
			CreatedBy:      actorID,
			CreatedByType:  "officer",
			CreatedAt:      now,
		})
	}
	return txs
}

func postingType(code ComponentCode, kind ComponentKind) TransactionType {
	switch code {
	case CodePAYE:
		return TxTax
	case CodeSSNITEmployee:
		return TxPension
	case CodeSSNITEmployer:
		return TxEmployerCharge
	case CodeArrears, CodeArrearsPAYE, CodeArrearsSSNIT:
		return TxBackpay
	}
	switch kind {
	case KindDeduction:
		return TxDeduction
	case KindEmployerCharge:
		return TxEmployerCharge
	}
	return TxEarning
}

// settleDeferrals marks replayed deferrals settled and records fresh ones
// for amounts the cap pushed out. Remainders of partially taken deferrals
// roll into a new open deferral keeping the original origin period.
func settleDeferrals(ctx context.Context, store Store, it *PayrollItem, now time.Time) error {
	open, err := store.OpenDeferrals(ctx, it.EmployeeID)
	if err != nil {
		return err
	}
	byID := make(map[string]*DeferredDeduction, len(open))
	for i := range open {
		byID[open[i].ID] = &open[i]
	}

	for _, alloc := range it.Deductions {
		if alloc.Request.SourceManaged {
			continue // the source re-presents its own shortfalls
		}
		if d, ok := byID[alloc.Request.ReferenceID]; ok {
			d.Status = DeferralSettled
			d.SettledRunID = &it.RunID
			d.SettledAt = &now
			if err := store.UpdateDeferral(ctx, d); err != nil {
				return err
			}
			if alloc.Deferred.IsPositive() {
				if err := store.SaveDeferral(ctx, &DeferredDeduction{
					ID:             uuid.NewString(),
					EmployeeID:     it.EmployeeID,
					Code:           d.Code,
					Amount:         alloc.Deferred,
					Priority:       d.Priority,
					Reason:         "carried forward",
					OriginPeriodID: d.OriginPeriodID,
					OriginRunID:    it.RunID,
					Status:         DeferralOpen,
					CreatedAt:      now,
				}); err != nil {
					return err
				}
			}
			continue
		}
		if alloc.Deferred.IsPositive() {
			if err := store.SaveDeferral(ctx, &DeferredDeduction{
				ID:             uuid.NewString(),
				EmployeeID:     it.EmployeeID,
				Code:           alloc.Request.Code,
				Amount:         alloc.Deferred,
				Priority:       alloc.Request.Priority,
				Reason:         "deduction cap reached",
				OriginPeriodID: it.PeriodID,
				OriginRunID:    it.RunID,
				Status:         DeferralOpen,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// MARK PAID
// =============================================================================

// MarkPaid records disbursement of an approved run. Payment rails are
// outside the engine; this only finalizes the state machine.
func (s *PayrollService) MarkPaid(ctx context.Context, runID RunID, actorID string) (*PayrollRun, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(txStore Store) error {
		items, err := txStore.ItemsForRun(ctx, runID)
		if err != nil {
			return err
		}
		for i := range items {
			if items[i].Status == ItemSkipped {
				continue
			}
			items[i].Status = ItemPaid
			if err := txStore.UpdateItem(ctx, &items[i]); err != nil {
				return err
			}
		}
		run.PaidAt = &now
		if err := run.Transition(RunPaid); err != nil {
			return err
		}
		return txStore.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, AuditEntry{ActorID: actorID, Action: AuditRunPaid, PeriodID: run.PeriodID, RunID: runID})
	return run, nil
}

// =============================================================================
// CANCEL RUN - Creates reversal postings for approved runs
// =============================================================================

// CancelRun abandons a run. Cancelling an approved run posts REVERSAL
// postings (not deletes - the ledger is append-only), unfolds year-to-date
// snapshots, and unwinds deferral bookkeeping. Paid runs cannot be
// cancelled; recover an overpayment through backpay instead.
func (s *PayrollService) CancelRun(ctx context.Context, runID RunID, actorID, reason string) (*PayrollRun, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(run.Status, RunCancelled) {
		return nil, &InvalidTransitionError{Kind: "run", From: string(run.Status), To: string(RunCancelled)}
	}

	wasApproved := run.Status == RunApproved
	var reversals []Transaction
	if wasApproved {
		posted, err := NewLedger(s.Store).RunTransactions(ctx, runID)
		if err != nil {
			return nil, err
		}
		for _, tx := range posted {
			if tx.Type == TxReversal {
				continue
			}
			reversals = append(reversals, Reversed(tx, ReversalRunCancelled+": "+reason, actorID))
		}
	}
	items, err := s.Store.ItemsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	p, err := s.Store.GetPeriod(ctx, run.PeriodID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.Store.WithTx(ctx, func(txStore Store) error {
		if wasApproved {
			txLedger := NewLedger(txStore)
			if err := txLedger.AppendBatch(ctx, reversals); err != nil {
				return err
			}

			for i := range items {
				it := &items[i]
				if it.Status == ItemSkipped {
					continue
				}
				ytd, err := txStore.GetYTD(ctx, it.EmployeeID, p.Year)
				if err != nil {
					return err
				}
				if ytd != nil {
					ytd.Unfold(it, now)
					if err := txStore.SaveYTD(ctx, ytd); err != nil {
						return err
					}
				}
			}

			deferrals, err := txStore.DeferralsByRun(ctx, runID)
			if err != nil {
				return err
			}
			for i := range deferrals {
				d := &deferrals[i]
				switch {
				case d.OriginRunID == runID && d.Status == DeferralOpen:
					d.Status = DeferralCancelled
				case d.SettledRunID != nil && *d.SettledRunID == runID:
					d.Status = DeferralOpen
					d.SettledRunID = nil
					d.SettledAt = nil
				default:
					continue
				}
				if err := txStore.UpdateDeferral(ctx, d); err != nil {
					return err
				}
			}
		}

		if err := run.Transition(RunCancelled); err != nil {
			return err
		}
		run.Notes = appendNote(run.Notes, "cancelled: "+reason)
		return txStore.UpdateRun(ctx, run)
	})
	if err != nil {
		return nil, err
	}

	// Sources are released regardless of the run's state: approval may
	// have confirmed collections and then died before its commit, and
	// releasing an unconfirmed run is a no-op.
	for i := range items {
		it := &items[i]
		for _, src := range s.Sources {
			if err := src.ReleaseDeductions(ctx, it.EmployeeID, runID); err != nil {
				return nil, fmt.Errorf("release deductions for %s: %w", it.EmployeeID, err)
			}
		}
	}
	if s.Backpay != nil {
		if err := s.Backpay.Release(ctx, runID); err != nil {
			return nil, fmt.Errorf("release backpay: %w", err)
		}
	}

	s.audit(ctx, AuditEntry{ActorID: actorID, Action: AuditRunCancelled, PeriodID: run.PeriodID, RunID: runID,
		Payload: map[string]any{"reason": reason, "reversals": len(reversals)}})
	return run, nil
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "; " + line
}

// =============================================================================
// PERIOD SERVICE - Period lifecycle
// =============================================================================

type PeriodService struct {
	Store TxStore
	Audit AuditLog // optional
}

func (ps *PeriodService) audit(ctx context.Context, entry AuditEntry) {
	if ps.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	_ = ps.Audit.AppendAudit(ctx, entry)
}

// OpenPeriod creates the period for a calendar month. At most one period
// per month ever exists.
func (ps *PeriodService) OpenPeriod(ctx context.Context, year int, month time.Month, actorID string) (*PayrollPeriod, error) {
	p := NewPeriod(year, month)
	p.CreatedAt = time.Now()
	if err := ps.Store.SavePeriod(ctx, &p); err != nil {
		return nil, err
	}

	ps.audit(ctx, AuditEntry{ActorID: actorID, Action: AuditPeriodOpened, PeriodID: p.ID})
	return &p, nil
}

// ClosePeriod closes a period once every run in it is terminal. Closing
// is final: later corrections travel through backpay.
func (ps *PeriodService) ClosePeriod(ctx context.Context, periodID PeriodID, actorID string) (*PayrollPeriod, error) {
	var p *PayrollPeriod
	err := ps.Store.WithTx(ctx, func(txStore Store) error {
		var err error
		p, err = txStore.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if p.IsClosed() {
			return fmt.Errorf("close period %s: %w", periodID, ErrPeriodClosed)
		}

		runs, err := txStore.RunsForPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		for _, r := range runs {
			if !r.IsTerminal() {
				return fmt.Errorf("close period %s: run %s is %s: %w", periodID, r.ID, r.Status, ErrRunNotTerminal)
			}
		}

		now := time.Now()
		p.Status = PeriodClosed
		p.ClosedAt = &now
		return txStore.UpdatePeriod(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	ps.audit(ctx, AuditEntry{ActorID: actorID, Action: AuditPeriodClosed, PeriodID: periodID})
	return p, nil
}
