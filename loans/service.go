/*
service.go - Loan lifecycle: disbursement, settlement, cancellation

PURPOSE:
  Operations on the loan book. Disbursement freezes the amortization
  schedule; from then on payroll runs collect installments through the
  DeductionSource in source.go, and the only ways a loan leaves the
  book early are settlement (employee pays the remaining principal off
  outside payroll) and cancellation (disbursement withdrawn before any
  collection).

EARLY SETTLEMENT:
  The amount due is the remaining PRINCIPAL - interest scheduled on
  periods that never elapse is forgiven, as reducing-balance loans do.
  Pending installments are waived, never deleted; the schedule stays
  auditable.

SEE ALSO:
  - loan.go:   the schedule math
  - source.go: collection through payroll runs
*/
package loans

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/payroll-engine/payroll"
)

type Service struct {
	Store TxStore
	Audit payroll.AuditLog // optional
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
// full loan store. Both shipped stores yield views that carry the loan
// tables.
func (s *Service) inTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(ps payroll.Store) error {
		tx, ok := ps.(Store)
		if !ok {
			return fmt.Errorf("transactional store view lacks loan tables")
		}
		return fn(tx)
	})
}

// =============================================================================
// DISBURSE
// =============================================================================

// Disburse records a new loan and freezes its full installment schedule.
// The caller fills EmployeeID, Kind, Principal, AnnualRate, TermMonths,
// and StartPeriod; everything else is assigned here.
func (s *Service) Disburse(ctx context.Context, l Loan, actorID string) (*Loan, []Installment, error) {
	if _, err := s.Store.GetEmployee(ctx, l.EmployeeID); err != nil {
		return nil, nil, err
	}
	switch l.Kind {
	case KindStaffLoan:
	case KindSalaryAdvance:
		if !l.AnnualRate.IsZero() {
			return nil, nil, fmt.Errorf("salary advances are interest-free, got rate %s", l.AnnualRate)
		}
	default:
		return nil, nil, fmt.Errorf("unknown loan kind %q", l.Kind)
	}

	l.ID = LoanID(uuid.NewString())
	l.Status = LoanActive
	l.DisbursedAt = time.Now()
	l.DisbursedBy = actorID
	l.SettledAt = nil

	rows, err := Schedule(&l)
	if err != nil {
		return nil, nil, err
	}

	err = s.inTx(ctx, func(tx Store) error {
		if err := tx.SaveLoan(ctx, &l); err != nil {
			return err
		}
		return tx.SaveInstallments(ctx, rows)
	})
	if err != nil {
		return nil, nil, err
	}

	s.audit(ctx, payroll.AuditEntry{ActorID: actorID, Action: payroll.AuditLoanDisbursed, EmployeeID: l.EmployeeID,
		Payload: map[string]any{"loan_id": string(l.ID), "kind": string(l.Kind), "principal": l.Principal.String(),
			"term_months": l.TermMonths, "start_period": string(l.StartPeriod)}})
	return &l, rows, nil
}

// =============================================================================
// READ
// =============================================================================

// Get returns a loan with its full schedule.
func (s *Service) Get(ctx context.Context, id LoanID) (*Loan, []Installment, error) {
	l, err := s.Store.GetLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.Store.InstallmentsForLoan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return l, rows, nil
}

// List returns an employee's loans; zero ID lists everyone's.
func (s *Service) List(ctx context.Context, employeeID payroll.EmployeeID) ([]Loan, error) {
	return s.Store.ListLoans(ctx, employeeID)
}

// Outstanding is the principal still owed: the sum of principal parts of
// undischarged installments.
func (s *Service) Outstanding(ctx context.Context, id LoanID) (payroll.Money, error) {
	l, err := s.Store.GetLoan(ctx, id)
	if err != nil {
		return payroll.Money{}, err
	}
	rows, err := s.Store.InstallmentsForLoan(ctx, id)
	if err != nil {
		return payroll.Money{}, err
	}
	due := l.Principal.Zero()
	for _, r := range rows {
		if r.Undischarged() {
			due = due.Add(r.Principal)
		}
	}
	return due, nil
}

// InstallmentsDue returns what a period would collect from the employee:
// the period's own installments plus anything deferred from before.
func (s *Service) InstallmentsDue(ctx context.Context, employeeID payroll.EmployeeID, periodID payroll.PeriodID) ([]Installment, error) {
	return s.Store.InstallmentsThrough(ctx, employeeID, periodID)
}

// =============================================================================
// SETTLE / CANCEL
// =============================================================================

// Settle closes a loan early: the remaining principal is due from the
// employee outside payroll, pending installments are waived, and unaccrued
// interest is forgiven. Returns the amount due.
func (s *Service) Settle(ctx context.Context, id LoanID, actorID string) (payroll.Money, error) {
	var due payroll.Money
	var employeeID payroll.EmployeeID

	err := s.inTx(ctx, func(tx Store) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if l.Status != LoanActive {
			return &payroll.InvalidTransitionError{Kind: "loan", From: string(l.Status), To: string(LoanSettled)}
		}
		rows, err := tx.InstallmentsForLoan(ctx, id)
		if err != nil {
			return err
		}
		due = l.Principal.Zero()
		for _, r := range rows {
			if !r.Undischarged() {
				continue
			}
			due = due.Add(r.Principal)
			r.Status = InstallmentWaived
			if err := tx.UpdateInstallment(ctx, r); err != nil {
				return err
			}
		}
		now := time.Now()
		l.Status = LoanSettled
		l.SettledAt = &now
		employeeID = l.EmployeeID
		return tx.UpdateLoan(ctx, l)
	})
	if err != nil {
		return payroll.Money{}, err
	}

	s.audit(ctx, payroll.AuditEntry{ActorID: actorID, Action: payroll.AuditLoanSettled, EmployeeID: employeeID,
		Payload: map[string]any{"loan_id": string(id), "amount_due": due.String()}})
	return due, nil
}

// Cancel withdraws a loan nothing has been collected against - a mistaken
// disbursement entry, or money returned before the first run. Loans with
// collected installments must be settled instead.
func (s *Service) Cancel(ctx context.Context, id LoanID, actorID, reason string) error {
	var employeeID payroll.EmployeeID

	err := s.inTx(ctx, func(tx Store) error {
		l, err := tx.GetLoan(ctx, id)
		if err != nil {
			return err
		}
		if l.Status != LoanActive {
			return &payroll.InvalidTransitionError{Kind: "loan", From: string(l.Status), To: string(LoanCancelled)}
		}
		rows, err := tx.InstallmentsForLoan(ctx, id)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.Status == InstallmentDeducted {
				return fmt.Errorf("loan %s: %w", id, ErrLoanHasCollections)
			}
		}
		for _, r := range rows {
			if !r.Undischarged() {
				continue
			}
			r.Status = InstallmentWaived
			if err := tx.UpdateInstallment(ctx, r); err != nil {
				return err
			}
		}
		l.Status = LoanCancelled
		employeeID = l.EmployeeID
		return tx.UpdateLoan(ctx, l)
	})
	if err != nil {
		return err
	}

	s.audit(ctx, payroll.AuditEntry{ActorID: actorID, Action: payroll.AuditLoanCancelled, EmployeeID: employeeID,
		Payload: map[string]any{"loan_id": string(id), "reason": reason}})
	return nil
}
