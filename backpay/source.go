/*
source.go - How runs pick approved requests up

PURPOSE:
  Implements payroll.BackpaySource. Application is exactly-once through
  a reservation on AppliedRunID:

    reserve  (ArrearsFor):      nil -> runID, compare-and-set in one
                                transaction; a request another run holds
                                is skipped, a request this run already
                                holds returns the same lines again
    confirm  (ConfirmApplied):  approved -> applied when the run's
                                approval posts
    release  (Release):         reservation freed when the run is
                                cancelled; applied requests return to
                                approved because their postings were
                                reversed with the run

STALENESS:
  Before handing lines over, every line's source item version is checked
  against the stored item. Any drift marks the request stale with
  ErrVersionConflict recorded, drops the reservation, and EXCLUDES the
  request; the run proceeds without it. A stale request is recomputed,
  never silently reapplied.

SEE ALSO:
  - payroll/service.go: computeItem folds the returned lines in as
    arrears; ApproveRun confirms, CancelRun releases
*/
package backpay

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/payroll"
)

var _ payroll.BackpaySource = (*Service)(nil)

// ArrearsFor reserves the employee's approved requests for the run and
// returns their lines, oldest request first. Idempotent per run.
func (s *Service) ArrearsFor(ctx context.Context, employeeID payroll.EmployeeID, runID payroll.RunID, p *payroll.PayrollPeriod) ([]payroll.ArrearsLine, error) {
	type staleMark struct {
		id     RequestID
		reason string
	}
	var out []payroll.ArrearsLine
	var staled []staleMark

	err := s.inTx(ctx, func(tx Store) error {
		out, staled = nil, nil
		requests, err := tx.ListRequests(ctx, employeeID)
		if err != nil {
			return err
		}
		for i := range requests {
			r := &requests[i]
			if r.Status != RequestApproved {
				continue
			}
			if r.AppliedRunID != nil && *r.AppliedRunID != runID {
				continue // another run holds it
			}

			lines, err := tx.LinesFor(ctx, r.ID)
			if err != nil {
				return err
			}

			drift := ""
			for _, l := range lines {
				item, err := tx.GetItem(ctx, l.SourceItemID)
				if err != nil {
					return err
				}
				if item.Version != l.SourceItemVersion {
					vc := &payroll.VersionConflictError{ItemID: item.ID, WantVersion: l.SourceItemVersion, HaveVersion: item.Version}
					drift = vc.Error()
					break
				}
			}
			if drift != "" {
				r.AppliedRunID = nil
				r.Error = drift
				if terr := r.Transition(RequestStale); terr != nil {
					return terr
				}
				if err := tx.UpdateRequest(ctx, r); err != nil {
					return err
				}
				staled = append(staled, staleMark{id: r.ID, reason: drift})
				continue
			}

			rid := runID
			r.AppliedRunID = &rid
			if err := tx.UpdateRequest(ctx, r); err != nil {
				return err
			}
			for _, l := range lines {
				out = append(out, payroll.ArrearsLine{
					RequestID:     string(r.ID),
					PeriodID:      l.PeriodID,
					Description:   fmt.Sprintf("Arrears for %s", l.PeriodID),
					Gross:         l.GrossDelta,
					PAYE:          l.PAYEDelta,
					SSNITEmployee: l.SSNITEmployeeDelta,
					SSNITEmployer: l.SSNITEmployerDelta,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range staled {
		s.audit(ctx, payroll.AuditEntry{ActorID: "system", Action: payroll.AuditBackpayStale, EmployeeID: employeeID, RunID: runID,
			Payload: map[string]any{"request_id": string(m.id), "reason": m.reason}})
	}
	return out, nil
}

// ConfirmApplied flips everything the run reserved to applied. Called
// after the run's approval posts. Idempotent per run.
func (s *Service) ConfirmApplied(ctx context.Context, runID payroll.RunID) error {
	var confirmed []BackpayRequest
	err := s.inTx(ctx, func(tx Store) error {
		confirmed = nil
		requests, err := tx.RequestsByRun(ctx, runID)
		if err != nil {
			return err
		}
		for i := range requests {
			r := &requests[i]
			if r.Status != RequestApproved {
				continue // already applied on a retry
			}
			if err := r.Transition(RequestApplied); err != nil {
				return err
			}
			if err := tx.UpdateRequest(ctx, r); err != nil {
				return err
			}
			confirmed = append(confirmed, *r)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range confirmed {
		s.audit(ctx, payroll.AuditEntry{ActorID: "system", Action: payroll.AuditBackpayApplied, EmployeeID: r.EmployeeID, RunID: runID,
			Payload: map[string]any{"request_id": string(r.ID), "net": r.Totals.Net.String()}})
	}
	if s.OnApplied != nil && len(confirmed) > 0 {
		s.OnApplied(len(confirmed))
	}
	return nil
}

// Release frees the run's reservations after it is cancelled. Applied
// requests return to approved: their postings were reversed with the
// run, so a later run may carry them again.
func (s *Service) Release(ctx context.Context, runID payroll.RunID) error {
	return s.inTx(ctx, func(tx Store) error {
		requests, err := tx.RequestsByRun(ctx, runID)
		if err != nil {
			return err
		}
		for i := range requests {
			r := &requests[i]
			if r.Status == RequestApplied {
				if err := r.Transition(RequestApproved); err != nil {
					return err
				}
			}
			r.AppliedRunID = nil
			if err := tx.UpdateRequest(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}
