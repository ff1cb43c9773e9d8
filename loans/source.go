/*
source.go - Installment collection through payroll runs

PURPOSE:
  Plugs the loan book into run computation as a DeductionSource. Each
  period the source presents the period's installments PLUS anything
  deferred from earlier periods, as atomic LOAN deduction requests - an
  installment is collected whole or not at all, never split by the
  deduction cap.

PROTOCOL:
  DeductionsFor    run computation asks what the employee owes
  Confirm          run approval: collected rows -> deducted (run ID
                   recorded), shortfall rows -> deferred; a loan whose
                   last installment lands is settled
  Release          run cancellation: this run's collections revert to
                   scheduled, settlement it caused reopens

  Requests are SourceManaged: the engine's deferral table never sees
  loan shortfalls, because the schedule itself re-presents them - a
  deferred installment stays due and shows up again next period.

IDEMPOTENCY:
  Confirm skips rows this run already collected; Release finds nothing
  on a second pass because the first one cleared the run ID.

SEE ALSO:
  - payroll/distribution.go: the request/confirm contract
  - service.go:              settlement outside payroll
*/
package loans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

var _ payroll.DeductionSource = (*Service)(nil)

// DeductionsFor presents the employee's collectible installments for the
// period as atomic, source-managed LOAN requests.
func (s *Service) DeductionsFor(ctx context.Context, employeeID payroll.EmployeeID, p *payroll.PayrollPeriod) ([]payroll.DeductionRequest, error) {
	due, err := s.Store.InstallmentsThrough(ctx, employeeID, p.ID)
	if err != nil {
		return nil, err
	}
	comp := payroll.MustLookupComponent(payroll.CodeLoan)

	requests := make([]payroll.DeductionRequest, 0, len(due))
	for _, inst := range due {
		desc := fmt.Sprintf("Loan installment %d", inst.Sequence)
		if inst.PeriodID != p.ID {
			desc = fmt.Sprintf("Loan installment %d (carried from %s)", inst.Sequence, inst.PeriodID)
		}
		requests = append(requests, payroll.DeductionRequest{
			Code:          payroll.CodeLoan,
			Description:   desc,
			Amount:        inst.Total,
			Priority:      comp.DeductionPriority,
			ReferenceID:   inst.ID,
			GLAccount:     comp.GLAccount,
			Atomic:        true,
			SourceManaged: true,
		})
	}
	return requests, nil
}

// ConfirmDeductions records a run's collection outcomes on the schedule
// and settles loans whose last installment just landed.
func (s *Service) ConfirmDeductions(ctx context.Context, employeeID payroll.EmployeeID, runID payroll.RunID, p *payroll.PayrollPeriod, taken []payroll.DeductionAllocation) error {
	var settled []LoanID

	err := s.inTx(ctx, func(tx Store) error {
		touched := make(map[LoanID]bool)
		for _, alloc := range taken {
			if alloc.Request.Code != payroll.CodeLoan {
				continue
			}
			inst, err := tx.GetInstallment(ctx, alloc.Request.ReferenceID)
			if err != nil {
				if errors.Is(err, ErrInstallmentNotFound) {
					// A LOAN-coded request from a component assignment,
					// not from this book.
					continue
				}
				return err
			}
			if inst.Status == InstallmentDeducted {
				// Already collected - by this run on a re-confirmation,
				// or by another; either way leave it.
				continue
			}
			// Atomic requests are all-or-nothing: anything short of the
			// full amount means nothing was taken.
			if !alloc.Taken.LessThan(inst.Total) {
				rid := runID
				inst.Status = InstallmentDeducted
				inst.DeductedRunID = &rid
			} else {
				inst.Status = InstallmentDeferred
			}
			if err := tx.UpdateInstallment(ctx, *inst); err != nil {
				return err
			}
			touched[inst.LoanID] = true
		}

		for loanID := range touched {
			done, err := scheduleDischarged(ctx, tx, loanID)
			if err != nil {
				return err
			}
			if !done {
				continue
			}
			l, err := tx.GetLoan(ctx, loanID)
			if err != nil {
				return err
			}
			if l.Status != LoanActive {
				continue
			}
			now := time.Now()
			l.Status = LoanSettled
			l.SettledAt = &now
			if err := tx.UpdateLoan(ctx, l); err != nil {
				return err
			}
			settled = append(settled, loanID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, loanID := range settled {
		s.audit(ctx, payroll.AuditEntry{ActorID: "system", Action: payroll.AuditLoanSettled, EmployeeID: employeeID,
			Payload: map[string]any{"loan_id": string(loanID), "run_id": string(runID)}})
	}
	return nil
}

// ReleaseDeductions unwinds a cancelled run's collections for one
// employee: deducted rows revert to scheduled and any settlement the run
// caused reopens. Rows the run deferred need no unwind - deferred and
// scheduled present identically next period.
func (s *Service) ReleaseDeductions(ctx context.Context, employeeID payroll.EmployeeID, runID payroll.RunID) error {
	return s.inTx(ctx, func(tx Store) error {
		rows, err := tx.InstallmentsByRun(ctx, runID)
		if err != nil {
			return err
		}

		loansByID := make(map[LoanID]*Loan)
		for _, inst := range rows {
			l, ok := loansByID[inst.LoanID]
			if !ok {
				l, err = tx.GetLoan(ctx, inst.LoanID)
				if err != nil {
					return err
				}
				loansByID[inst.LoanID] = l
			}
			// The run may span many employees; release only this one's.
			if l.EmployeeID != employeeID {
				continue
			}
			inst.Status = InstallmentScheduled
			inst.DeductedRunID = nil
			if err := tx.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
			if l.Status == LoanSettled {
				l.Status = LoanActive
				l.SettledAt = nil
				if err := tx.UpdateLoan(ctx, l); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// scheduleDischarged reports whether every installment is deducted or
// waived.
func scheduleDischarged(ctx context.Context, tx Store, loanID LoanID) (bool, error) {
	rows, err := tx.InstallmentsForLoan(ctx, loanID)
	if err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.Undischarged() {
			return false, nil
		}
	}
	return true, nil
}
