/*
service.go - Backpay lifecycle and retroactive recomputation

PURPOSE:
  Turns a salary correction into per-period deltas. For every closed
  period the employee was paid in since the effective date, the period
  is recomputed with CURRENT salary history but the statutory table
  versions PINNED to what the stored item recorded, and the difference
  becomes a backpay line. History is never edited; the deltas ride into
  a later run as arrears.

VERSION SAFETY:
  Pinning matters when a correction spans a statutory boundary: January
  recomputes under January's PAYE table and February under February's,
  whatever is in force today. A pinned version missing from the registry
  is a hard failure, never a silent fallback.

RECOMPUTE = RUN ARITHMETIC:
  Period recomputation calls the same ComputeRegularPay the run engine
  uses, so a delta can only come from changed inputs, never from a
  second implementation of the math.

EXAMPLE:
  Raise to GHS 6,000 effective 15 Jan, arriving in March with January
  and February already paid:
    January:  16/31 days at the old rate rerun at the new rate
    February: full month at the new rate
  Two lines, each with its own gross/PAYE/SSNIT deltas under that
  period's tables; the totals ride into the March run as arrears.

SEE ALSO:
  - request.go:          the state machine these operations drive
  - source.go:           how runs pick approved requests up
  - payroll/regular.go:  the shared computation
*/
package backpay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/payroll-engine/payroll"
)

type Service struct {
	Store     TxStore
	Statutory payroll.StatutoryCalculator
	Policy    ApprovalPolicy
	Audit     payroll.AuditLog // optional

	// OnApplied observes successful confirmations: how many requests an
	// approved run just flipped to applied. Optional; the API wires its
	// metrics through it.
	OnApplied func(count int)
}

func (s *Service) audit(ctx context.Context, entry payroll.AuditEntry) {
	if s.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	_ = s.Audit.AppendAudit(ctx, entry)
}

// inTx runs fn atomically, widening the transactional view back to the
// full backpay store. Both shipped stores yield views that carry the
// request tables.
func (s *Service) inTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(ps payroll.Store) error {
		tx, ok := ps.(Store)
		if !ok {
			return fmt.Errorf("transactional store view lacks backpay tables")
		}
		return fn(tx)
	})
}

// =============================================================================
// CREATE
// =============================================================================

// Create raises a request by hand. EffectiveFrom bounds how far back the
// recompute reaches.
func (s *Service) Create(ctx context.Context, employeeID payroll.EmployeeID, effectiveFrom time.Time, reason, actorID string) (*BackpayRequest, error) {
	if _, err := s.Store.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	r := &BackpayRequest{
		ID:            RequestID(uuid.NewString()),
		EmployeeID:    employeeID,
		Reason:        reason,
		EffectiveFrom: payroll.DateOnly(effectiveFrom),
		Status:        RequestPending,
		Totals:        ZeroTotals(),
		CreatedAt:     time.Now(),
	}
	if err := s.Store.SaveRequest(ctx, r); err != nil {
		return nil, err
	}
	s.audit(ctx, payroll.AuditEntry{ActorID: actorID, Action: payroll.AuditBackpayRequested, EmployeeID: employeeID,
		Payload: map[string]any{"request_id": string(r.ID), "reason": reason, "effective_from": payroll.FormatDate(r.EffectiveFrom)}})
	return r, nil
}

// CreateForSalaryChange raises a request when a salary version lands
// inside already-closed payroll history. Returns (nil, nil) when the
// version only touches open or future periods: nothing to correct.
func (s *Service) CreateForSalaryChange(ctx context.Context, v payroll.SalaryVersion) (*BackpayRequest, error) {
	closed, err := closedPeriodsFrom(ctx, s.Store, v.EffectiveFrom)
	if err != nil {
		return nil, err
	}
	if len(closed) == 0 {
		return nil, nil
	}
	r := &BackpayRequest{
		ID:                   RequestID(uuid.NewString()),
		EmployeeID:           v.EmployeeID,
		Reason:               fmt.Sprintf("salary revision v%d effective %s", v.Version, payroll.FormatDate(v.EffectiveFrom)),
		TriggerSalaryVersion: v.Version,
		EffectiveFrom:        payroll.DateOnly(v.EffectiveFrom),
		Status:               RequestPending,
		Totals:               ZeroTotals(),
		CreatedAt:            time.Now(),
	}
	if err := s.Store.SaveRequest(ctx, r); err != nil {
		return nil, err
	}
	s.audit(ctx, payroll.AuditEntry{ActorID: "system", Action: payroll.AuditBackpayRequested, EmployeeID: v.EmployeeID,
		Payload: map[string]any{"request_id": string(r.ID), "salary_version": v.Version, "effective_from": payroll.FormatDate(r.EffectiveFrom)}})
	return r, nil
}

// =============================================================================
// COMPUTE
// =============================================================================

// Compute rebuilds the request's deltas. Legal from pending, computed,
// stale, and failed; each pass replaces the lines wholesale. When policy
// allows, the request auto-approves in the same transaction.
func (s *Service) Compute(ctx context.Context, id RequestID) (*BackpayRequest, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Transition(RequestComputing); err != nil {
		return nil, err
	}
	r.Error = ""
	if err := s.Store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}

	lines, err := s.recompute(ctx, s.Store, r.EmployeeID, r.EffectiveFrom, r.ID, nil)
	if err != nil {
		r.Error = err.Error()
		if terr := r.Transition(RequestFailed); terr == nil {
			_ = s.Store.UpdateRequest(ctx, r)
		}
		return nil, err
	}

	totals := ZeroTotals()
	for _, l := range lines {
		totals = totals.Accumulate(l)
	}

	now := time.Now()
	autoApproved := false
	err = s.inTx(ctx, func(tx Store) error {
		if err := tx.ReplaceLines(ctx, r.ID, lines); err != nil {
			return err
		}
		r.Totals = totals
		r.ComputedAt = &now
		if err := r.Transition(RequestComputed); err != nil {
			return err
		}
		if s.Policy.autoApproves(totals.Net) {
			by := "policy"
			r.ApprovedBy = &by
			r.ApprovedAt = &now
			if err := r.Transition(RequestApproved); err != nil {
				return err
			}
			autoApproved = true
		}
		return tx.UpdateRequest(ctx, r)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, payroll.AuditEntry{ActorID: "system", Action: payroll.AuditBackpayComputed, EmployeeID: r.EmployeeID,
		Payload: map[string]any{"request_id": string(r.ID), "periods": len(lines), "net": totals.Net.String()}})
	if autoApproved {
		s.audit(ctx, payroll.AuditEntry{ActorID: "policy", Action: payroll.AuditBackpayApproved, EmployeeID: r.EmployeeID,
			Payload: map[string]any{"request_id": string(r.ID), "net": totals.Net.String()}})
	}
	return r, nil
}

// recompute builds the delta lines for every affected period. A non-nil
// history substitutes for the stored salary chain (what-if previews).
func (s *Service) recompute(ctx context.Context, st Store, employeeID payroll.EmployeeID, from time.Time, requestID RequestID, history payroll.SalaryHistory) ([]BackpayLine, error) {
	emp, err := st.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history, err = st.SalaryHistory(ctx, employeeID)
		if err != nil {
			return nil, err
		}
	}
	periods, err := closedPeriodsFrom(ctx, st, from)
	if err != nil {
		return nil, err
	}

	var lines []BackpayLine
	for i := range periods {
		p := &periods[i]
		item, err := paidItem(ctx, st, employeeID, p.ID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue // nothing was paid for this period, nothing to correct
		}
		line, err := s.diffPeriod(ctx, st, emp, p, item, history)
		if err != nil {
			return nil, err
		}
		if line == nil {
			continue // zero delta
		}
		line.RequestID = requestID
		lines = append(lines, *line)
	}
	return lines, nil
}

// diffPeriod reruns one period under current inputs and PINNED table
// versions, then diffs against what was paid. Nil means nothing changed.
func (s *Service) diffPeriod(ctx context.Context, st Store, emp *payroll.Employee, p *payroll.PayrollPeriod, item *payroll.PayrollItem, history payroll.SalaryHistory) (*BackpayLine, error) {
	reg, err := payroll.ComputeRegularPay(ctx, st, s.Statutory, emp, p, history, item.TaxTableVersion, item.SSNITVersion)
	if err != nil {
		return nil, err
	}
	if reg.FailureReason != "" {
		return nil, fmt.Errorf("period %s: %s", p.ID, reg.FailureReason)
	}

	old := paidAggregates(item)
	grossDelta := reg.Gross.Sub(old.gross)
	payeDelta := reg.Assessment.TotalTax.Sub(old.paye)
	eeDelta := reg.Assessment.SSNIT.Employee.Sub(old.ssnitEE)
	erDelta := reg.Assessment.SSNIT.Employer.Sub(old.ssnitER)
	if grossDelta.IsZero() && payeDelta.IsZero() && eeDelta.IsZero() && erDelta.IsZero() {
		return nil, nil
	}

	return &BackpayLine{
		ID:                 uuid.NewString(),
		PeriodID:           p.ID,
		SourceItemID:       item.ID,
		SourceItemVersion:  item.Version,
		OldBasic:           old.basic,
		NewBasic:           reg.Basic,
		GrossDelta:         grossDelta,
		PAYEDelta:          payeDelta,
		SSNITEmployeeDelta: eeDelta,
		SSNITEmployerDelta: erDelta,
		NetDelta:           grossDelta.Sub(payeDelta).Sub(eeDelta),
		TaxTableVersion:    reg.Assessment.TaxTableVersion,
		SSNITVersion:       reg.Assessment.SSNITVersion,
	}, nil
}

// closedPeriodsFrom returns closed periods any day of which falls on or
// after the given date, oldest first.
func closedPeriodsFrom(ctx context.Context, st Store, from time.Time) ([]payroll.PayrollPeriod, error) {
	all, err := st.ListPeriods(ctx, 0)
	if err != nil {
		return nil, err
	}
	cutoff := payroll.DateOnly(from)
	var out []payroll.PayrollPeriod
	for _, p := range all {
		if p.IsClosed() && !p.End.Before(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// paidItem finds the employee's item in the period's paid run. At most
// one exists: run creation skips employees already settled in a period.
func paidItem(ctx context.Context, st Store, employeeID payroll.EmployeeID, periodID payroll.PeriodID) (*payroll.PayrollItem, error) {
	runs, err := st.RunsForPeriod(ctx, periodID)
	if err != nil {
		return nil, err
	}
	paid := make(map[payroll.RunID]bool, len(runs))
	for _, r := range runs {
		if r.Status == payroll.RunPaid {
			paid[r.ID] = true
		}
	}
	if len(paid) == 0 {
		return nil, nil
	}
	items, err := st.ItemsForEmployee(ctx, employeeID, periodID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if paid[items[i].RunID] && items[i].Status != payroll.ItemFailed {
			return &items[i], nil
		}
	}
	return nil, nil
}

type paidTotals struct {
	basic, gross, paye, ssnitEE, ssnitER payroll.Money
}

// paidAggregates folds the REGULAR pay out of a stored item's lines.
// Arrears lines corrected earlier periods and are excluded, so a second
// correction of the same period never double-counts the first.
func paidAggregates(item *payroll.PayrollItem) paidTotals {
	z := payroll.ZeroMoney(payroll.GHS)
	a := paidTotals{basic: z, gross: z, paye: z, ssnitEE: z, ssnitER: z}
	for _, d := range item.Details {
		switch {
		case d.Kind == payroll.KindEarning && d.Code == payroll.CodeBasic:
			a.basic = a.basic.Add(d.Amount)
			a.gross = a.gross.Add(d.Amount)
		case d.Kind == payroll.KindEarning && d.Code == payroll.CodeArrears:
			// corrected another period, not this period's pay
		case d.Kind == payroll.KindEarning:
			a.gross = a.gross.Add(d.Amount)
		case d.Code == payroll.CodePAYE:
			a.paye = a.paye.Add(d.Amount)
		case d.Code == payroll.CodeSSNITEmployee:
			a.ssnitEE = a.ssnitEE.Add(d.Amount)
		case d.Code == payroll.CodeSSNITEmployer:
			a.ssnitER = a.ssnitER.Add(d.Amount)
		}
	}
	return a
}

// =============================================================================
// APPROVE / CANCEL
// =============================================================================

// Approve clears a computed request to be carried by the next run.
func (s *Service) Approve(ctx context.Context, id RequestID, approverID string) (*BackpayRequest, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.Transition(RequestApproved); err != nil {
		return nil, err
	}
	now := time.Now()
	r.ApprovedBy = &approverID
	r.ApprovedAt = &now
	if err := s.Store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	s.audit(ctx, payroll.AuditEntry{ActorID: approverID, Action: payroll.AuditBackpayApproved, EmployeeID: r.EmployeeID,
		Payload: map[string]any{"request_id": string(r.ID), "net": r.Totals.Net.String()}})
	return r, nil
}

// Cancel abandons a request. A request a live run has reserved cannot be
// cancelled; cancel the run first and the reservation is released.
func (s *Service) Cancel(ctx context.Context, id RequestID, actorID, reason string) (*BackpayRequest, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.AppliedRunID != nil {
		return nil, fmt.Errorf("request %s is carried by run %s: %w", id, *r.AppliedRunID, ErrRequestReserved)
	}
	if err := r.Transition(RequestCancelled); err != nil {
		return nil, err
	}
	if err := s.Store.UpdateRequest(ctx, r); err != nil {
		return nil, err
	}
	s.audit(ctx, payroll.AuditEntry{ActorID: actorID, Action: payroll.AuditBackpayCancelled, EmployeeID: r.EmployeeID,
		Payload: map[string]any{"request_id": string(r.ID), "reason": reason}})
	return r, nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns a request with its lines.
func (s *Service) Get(ctx context.Context, id RequestID) (*BackpayRequest, []BackpayLine, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := s.Store.LinesFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return r, lines, nil
}

// List returns one employee's requests, or everyone's for a zero ID.
func (s *Service) List(ctx context.Context, employeeID payroll.EmployeeID) ([]BackpayRequest, error) {
	return s.Store.ListRequests(ctx, employeeID)
}

// =============================================================================
// PREVIEW - The what-if endpoint
// =============================================================================

// Preview answers "what would this raise owe in arrears" without
// persisting anything: the same recompute pipeline runs against a
// synthetic salary chain where proposedBasic takes over from the
// effective date.
func (s *Service) Preview(ctx context.Context, employeeID payroll.EmployeeID, proposedBasic payroll.Money, effectiveFrom time.Time) ([]BackpayLine, BackpayTotals, error) {
	history, err := s.Store.SalaryHistory(ctx, employeeID)
	if err != nil {
		return nil, BackpayTotals{}, err
	}
	overlay := overlayHistory(history, employeeID, effectiveFrom, proposedBasic)
	lines, err := s.recompute(ctx, s.Store, employeeID, effectiveFrom, "", overlay)
	if err != nil {
		return nil, BackpayTotals{}, err
	}
	totals := ZeroTotals()
	for _, l := range lines {
		totals = totals.Accumulate(l)
	}
	return lines, totals, nil
}

// overlayHistory grafts a proposed basic onto a salary chain: versions
// starting on or after the effective date are dropped, the version
// spanning it is closed the day before, and a synthetic open version
// carries the proposal. Grade and step carry over from the last real
// version.
func overlayHistory(h payroll.SalaryHistory, employeeID payroll.EmployeeID, effectiveFrom time.Time, basic payroll.Money) payroll.SalaryHistory {
	eff := payroll.DateOnly(effectiveFrom)
	out := make(payroll.SalaryHistory, 0, len(h)+1)
	next := 1
	grade, step := "", 0
	for _, v := range h.Sorted() {
		if v.Version >= next {
			next = v.Version + 1
		}
		if !payroll.DateOnly(v.EffectiveFrom).Before(eff) {
			continue
		}
		grade, step = v.Grade, v.Step
		if v.EffectiveTo == nil || !payroll.DateOnly(*v.EffectiveTo).Before(eff) {
			end := eff.AddDate(0, 0, -1)
			v.EffectiveTo = &end
		}
		out = append(out, v)
	}
	out = append(out, payroll.SalaryVersion{
		ID:            uuid.NewString(),
		EmployeeID:    employeeID,
		Version:       next,
		Grade:         grade,
		Step:          step,
		MonthlyBasic:  basic,
		EffectiveFrom: eff,
		Reason:        "what-if preview",
		CreatedAt:     time.Now(),
	})
	return out
}
